package repository

import (
	"context"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"recorder-agent/constant"
	"recorder-agent/entities"
)

type Repository interface {
	GetDB() *gorm.DB

	CreateSession(ctx context.Context, session *entities.RecordingSession) error
	SaveSession(ctx context.Context, session *entities.RecordingSession) error
	FindSessionById(ctx context.Context, id uuid.UUID) (*entities.RecordingSession, error)
	UpdateSessionSyncStatus(ctx context.Context, id uuid.UUID, status constant.SyncStatus) error
	ActiveSessions(ctx context.Context) ([]*entities.RecordingSession, error)
	SessionsAwaitingSync(ctx context.Context) ([]*entities.RecordingSession, error)

	CreateUploadTasks(ctx context.Context, tasks []*entities.UploadTask) error
	SaveUploadTask(ctx context.Context, task *entities.UploadTask) error
	UploadTasksBySessionId(ctx context.Context, sessionId uuid.UUID) ([]*entities.UploadTask, error)
	DueUploadTasks(ctx context.Context, now time.Time) ([]*entities.UploadTask, error)
	FailedUploadTasks(ctx context.Context) ([]*entities.UploadTask, error)

	UpsertWebhookDelivery(ctx context.Context, delivery *entities.WebhookDelivery) error
	FindWebhookDelivery(ctx context.Context, recordingId uuid.UUID) (*entities.WebhookDelivery, error)
	PendingWebhookDeliveries(ctx context.Context) ([]*entities.WebhookDelivery, error)
	MarkWebhookDelivered(ctx context.Context, recordingId uuid.UUID, at time.Time) error

	FindMeetingByKey(ctx context.Context, subject, organizer string, startTime time.Time) (*entities.Meeting, error)
	FindMeetingById(ctx context.Context, id uuid.UUID) (*entities.Meeting, error)
	LinkMeetingRecording(ctx context.Context, meetingId, recordingId uuid.UUID) error
}

type repo struct {
	db *gorm.DB
}

func NewRepo(databasePath string) (Repository, error) {
	gormDB, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	err = gormDB.AutoMigrate(
		&entities.RecordingSession{},
		&entities.UploadTask{},
		&entities.WebhookDelivery{},
		&entities.Meeting{},
	)
	if err != nil {
		return nil, err
	}

	return &repo{db: gormDB}, nil
}

func (r *repo) GetDB() *gorm.DB {
	return r.db
}

func (r *repo) CreateSession(ctx context.Context, session *entities.RecordingSession) error {
	return r.GetDB().WithContext(ctx).Create(session).Error
}

func (r *repo) SaveSession(ctx context.Context, session *entities.RecordingSession) error {
	return r.GetDB().WithContext(ctx).Save(session).Error
}

func (r *repo) FindSessionById(ctx context.Context, id uuid.UUID) (*entities.RecordingSession, error) {
	session := &entities.RecordingSession{}
	err := r.GetDB().WithContext(ctx).First(session, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (r *repo) UpdateSessionSyncStatus(ctx context.Context, id uuid.UUID, status constant.SyncStatus) error {
	return r.GetDB().WithContext(ctx).
		Model(&entities.RecordingSession{}).
		Where("id = ?", id).
		Update("sync_status", status).Error
}

// ActiveSessions returns sessions stuck in a non-terminal, non-idle state.
// Used at startup to fail over sessions orphaned by a crash of the agent.
func (r *repo) ActiveSessions(ctx context.Context) ([]*entities.RecordingSession, error) {
	var sessions []*entities.RecordingSession
	err := r.GetDB().WithContext(ctx).
		Where("status IN ?", []constant.SessionStatus{constant.SessionStatusRecording, constant.SessionStatusStopping}).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// SessionsAwaitingSync returns completed sessions whose artifacts have not
// finished uploading. Used at startup to resume interrupted upload work.
func (r *repo) SessionsAwaitingSync(ctx context.Context) ([]*entities.RecordingSession, error) {
	var sessions []*entities.RecordingSession
	err := r.GetDB().WithContext(ctx).
		Where("status = ? AND sync_status IN ?",
			constant.SessionStatusCompleted,
			[]constant.SyncStatus{constant.SyncStatusPending, constant.SyncStatusUploading}).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *repo) CreateUploadTasks(ctx context.Context, tasks []*entities.UploadTask) error {
	return r.GetDB().WithContext(ctx).Create(tasks).Error
}

func (r *repo) SaveUploadTask(ctx context.Context, task *entities.UploadTask) error {
	return r.GetDB().WithContext(ctx).Save(task).Error
}

func (r *repo) UploadTasksBySessionId(ctx context.Context, sessionId uuid.UUID) ([]*entities.UploadTask, error) {
	var tasks []*entities.UploadTask
	err := r.GetDB().WithContext(ctx).
		Where("session_id = ?", sessionId).
		Order("created_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *repo) DueUploadTasks(ctx context.Context, now time.Time) ([]*entities.UploadTask, error) {
	var tasks []*entities.UploadTask
	err := r.GetDB().WithContext(ctx).
		Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", constant.UploadTaskStatusPending, now).
		Order("created_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *repo) FailedUploadTasks(ctx context.Context) ([]*entities.UploadTask, error) {
	var tasks []*entities.UploadTask
	err := r.GetDB().WithContext(ctx).
		Where("status = ?", constant.UploadTaskStatusFailed).
		Order("created_at ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *repo) UpsertWebhookDelivery(ctx context.Context, delivery *entities.WebhookDelivery) error {
	existing := &entities.WebhookDelivery{}
	err := r.GetDB().WithContext(ctx).
		First(existing, "recording_id = ?", delivery.RecordingID).Error
	if err == nil {
		delivery.ID = existing.ID
		delivery.CreatedAt = existing.CreatedAt
		return r.GetDB().WithContext(ctx).Save(delivery).Error
	}
	return r.GetDB().WithContext(ctx).Create(delivery).Error
}

func (r *repo) FindWebhookDelivery(ctx context.Context, recordingId uuid.UUID) (*entities.WebhookDelivery, error) {
	delivery := &entities.WebhookDelivery{}
	err := r.GetDB().WithContext(ctx).First(delivery, "recording_id = ?", recordingId).Error
	if err != nil {
		return nil, err
	}
	return delivery, nil
}

func (r *repo) PendingWebhookDeliveries(ctx context.Context) ([]*entities.WebhookDelivery, error) {
	var deliveries []*entities.WebhookDelivery
	err := r.GetDB().WithContext(ctx).
		Where("delivered_at IS NULL").
		Order("created_at ASC").
		Find(&deliveries).Error
	if err != nil {
		return nil, err
	}
	return deliveries, nil
}

func (r *repo) MarkWebhookDelivered(ctx context.Context, recordingId uuid.UUID, at time.Time) error {
	return r.GetDB().WithContext(ctx).
		Model(&entities.WebhookDelivery{}).
		Where("recording_id = ?", recordingId).
		Update("delivered_at", at).Error
}

func (r *repo) FindMeetingByKey(ctx context.Context, subject, organizer string, startTime time.Time) (*entities.Meeting, error) {
	meeting := &entities.Meeting{}
	err := r.GetDB().WithContext(ctx).
		Where("subject = ? AND organizer = ? AND start_time = ?", subject, organizer, startTime).
		First(meeting).Error
	if err != nil {
		return nil, err
	}
	return meeting, nil
}

func (r *repo) FindMeetingById(ctx context.Context, id uuid.UUID) (*entities.Meeting, error) {
	meeting := &entities.Meeting{}
	err := r.GetDB().WithContext(ctx).First(meeting, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return meeting, nil
}

func (r *repo) LinkMeetingRecording(ctx context.Context, meetingId, recordingId uuid.UUID) error {
	return r.GetDB().WithContext(ctx).
		Model(&entities.Meeting{}).
		Where("id = ?", meetingId).
		Update("recording_id", recordingId).Error
}
