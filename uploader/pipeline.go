package uploader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"recorder-agent/config"
	"recorder-agent/constant"
	"recorder-agent/entities"
	"recorder-agent/repository"
)

// Pipeline moves the artifacts of a completed session into object storage.
// Every artifact is an UploadTask row: the first attempt happens inline on
// Submit, failures re-enter through the persisted retry schedule, and the
// schedule survives restarts because due-ness lives in the database.
type Pipeline struct {
	cfg       *config.Config
	source    string
	repo      repository.Repository
	store     ObjectStore
	notifier  *Notifier
	thumbnail ThumbnailFunc
}

func NewPipeline(cfg *config.Config, repo repository.Repository, store ObjectStore, notifier *Notifier, thumbnail ThumbnailFunc) *Pipeline {
	source := cfg.App.Hostname
	if source == "" {
		source = "recorder-agent"
	}
	return &Pipeline{
		cfg:       cfg,
		source:    source,
		repo:      repo,
		store:     store,
		notifier:  notifier,
		thumbnail: thumbnail,
	}
}

// Submit enqueues and immediately attempts the uploads for a completed
// session. Called on its own goroutine by the state machine; failed sessions
// are never submitted.
func (p *Pipeline) Submit(ctx context.Context, sessionId uuid.UUID) {
	log := zerolog.Ctx(ctx)

	sess, err := p.repo.FindSessionById(ctx, sessionId)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionId.String()).Msg("upload submit: session not found")
		return
	}
	if sess.Status != constant.SessionStatusCompleted {
		log.Warn().Str("session_id", sessionId.String()).Str("status", string(sess.Status)).Msg("upload submit: session not completed, skipping")
		return
	}

	if err := p.repo.UpdateSessionSyncStatus(ctx, sessionId, constant.SyncStatusUploading); err != nil {
		log.Error().Err(err).Msg("failed to mark session uploading")
	}

	p.generateThumbnail(ctx, sess)

	tasks := p.buildArtifactTasks(sess)
	if len(tasks) > 0 {
		if err := p.repo.CreateUploadTasks(ctx, tasks); err != nil {
			log.Error().Err(err).Msg("failed to persist upload tasks")
			return
		}
		for _, task := range tasks {
			p.process(ctx, task)
		}
	}

	if task := p.buildMetadataTask(ctx, sess); task != nil {
		if err := p.repo.CreateUploadTasks(ctx, []*entities.UploadTask{task}); err != nil {
			log.Error().Err(err).Msg("failed to persist metadata upload task")
		} else {
			p.process(ctx, task)
		}
	}

	p.finalize(ctx, sessionId, true)
}

// Run is the retry scan loop: every scan interval it collects due tasks and
// feeds them to a fixed worker pool. Blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	workers := p.cfg.Upload.Workers
	if workers <= 0 {
		workers = 3
	}
	scanInterval := p.cfg.Upload.ScanInterval
	if scanInterval <= 0 {
		scanInterval = 5 * time.Minute
	}

	jobs := make(chan *entities.UploadTask)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range jobs {
				p.process(ctx, task)
				p.finalize(ctx, task.SessionID, false)
			}
		}()
	}

	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return
		case <-ticker.C:
			due, err := p.repo.DueUploadTasks(ctx, time.Now())
			if err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("failed to scan due upload tasks")
				continue
			}
			for _, task := range due {
				select {
				case <-ctx.Done():
					close(jobs)
					wg.Wait()
					return
				case jobs <- task:
				}
			}
		}
	}
}

// ResumePending re-attaches sessions whose uploads were interrupted by a
// restart. Sessions that completed but never got their tasks created are
// re-submitted; the rest settle through the regular retry scan.
func (p *Pipeline) ResumePending(ctx context.Context) {
	sessions, err := p.repo.SessionsAwaitingSync(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to load sessions awaiting sync")
		return
	}

	for _, sess := range sessions {
		tasks, err := p.repo.UploadTasksBySessionId(ctx, sess.ID)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("session_id", sess.ID.String()).Msg("failed to load upload tasks")
			continue
		}
		if len(tasks) == 0 {
			p.Submit(ctx, sess.ID)
			continue
		}
		p.finalize(ctx, sess.ID, false)
	}
}

// RetryAllFailed resets exhausted tasks to pending with an immediate due
// time, giving each a fresh retry budget. Returns the number of tasks reset.
func (p *Pipeline) RetryAllFailed(ctx context.Context) (int, error) {
	failed, err := p.repo.FailedUploadTasks(ctx)
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, task := range failed {
		task.Status = constant.UploadTaskStatusPending
		task.RetryCount = 0
		task.NextRetryAt = nil
		task.LastError = ""
		if err := p.repo.SaveUploadTask(ctx, task); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("task_id", task.ID.String()).Msg("failed to reset upload task")
			continue
		}
		if err := p.repo.UpdateSessionSyncStatus(ctx, task.SessionID, constant.SyncStatusUploading); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to mark session uploading")
		}
		reset++
	}
	return reset, nil
}

// process performs one upload attempt and persists the outcome. On failure
// the task either re-enters the retry ladder or, once attempts are
// exhausted, parks as failed awaiting manual retry.
func (p *Pipeline) process(ctx context.Context, task *entities.UploadTask) {
	log := zerolog.Ctx(ctx)

	if _, err := os.Stat(task.LocalPath); err != nil {
		p.recordFailure(ctx, task, fmt.Errorf("local artifact missing: %w", err))
		return
	}

	url, err := p.store.Upload(ctx, task.ObjectKey, task.LocalPath, contentTypeFor(task.FileRole))
	if err != nil {
		p.recordFailure(ctx, task, err)
		return
	}

	task.Status = constant.UploadTaskStatusUploaded
	task.RemoteURL = url
	task.LastError = ""
	task.NextRetryAt = nil
	if err := p.repo.SaveUploadTask(ctx, task); err != nil {
		log.Error().Err(err).Str("task_id", task.ID.String()).Msg("failed to persist uploaded task")
		return
	}

	log.Info().
		Str("session_id", task.SessionID.String()).
		Str("file_role", string(task.FileRole)).
		Str("object_key", task.ObjectKey).
		Msg("artifact uploaded")
}

func (p *Pipeline) recordFailure(ctx context.Context, task *entities.UploadTask, cause error) {
	log := zerolog.Ctx(ctx)

	task.RetryCount++
	task.LastError = cause.Error()

	maxAttempts := p.cfg.Upload.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	if task.RetryCount >= maxAttempts {
		task.Status = constant.UploadTaskStatusFailed
		task.NextRetryAt = nil
		log.Error().
			Err(cause).
			Str("session_id", task.SessionID.String()).
			Str("file_role", string(task.FileRole)).
			Int("attempts", task.RetryCount).
			Msg("upload attempts exhausted, task parked")
	} else {
		task.Status = constant.UploadTaskStatusPending
		next := time.Now().Add(p.retryDelay(task.RetryCount))
		task.NextRetryAt = &next
		log.Warn().
			Err(cause).
			Str("session_id", task.SessionID.String()).
			Str("file_role", string(task.FileRole)).
			Int("attempt", task.RetryCount).
			Time("next_retry_at", next).
			Msg("upload failed, retry scheduled")
	}

	if err := p.repo.SaveUploadTask(ctx, task); err != nil {
		log.Error().Err(err).Str("task_id", task.ID.String()).Msg("failed to persist upload task failure")
	}
}

// retryDelay maps the attempt number onto the configured backoff ladder; the
// last rung repeats once the ladder is exhausted.
func (p *Pipeline) retryDelay(attempt int) time.Duration {
	delays := p.cfg.Upload.RetryDelays
	if len(delays) == 0 {
		delays = []time.Duration{5 * time.Minute, 15 * time.Minute, 30 * time.Minute, time.Hour, 2 * time.Hour}
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(delays) {
		idx = len(delays) - 1
	}
	return delays[idx]
}

// finalize recomputes the session-level sync status from its task set and
// dispatches the webhook. notifyPartial is set on the initial Submit pass so
// the backend hears about the recording even while retries are outstanding.
func (p *Pipeline) finalize(ctx context.Context, sessionId uuid.UUID, notifyPartial bool) {
	log := zerolog.Ctx(ctx)

	tasks, err := p.repo.UploadTasksBySessionId(ctx, sessionId)
	if err != nil || len(tasks) == 0 {
		if err != nil {
			log.Error().Err(err).Msg("failed to load upload tasks for finalize")
		}
		return
	}

	anyPending := false
	anyFailed := false
	anyUploaded := false
	for _, task := range tasks {
		switch task.Status {
		case constant.UploadTaskStatusPending:
			anyPending = true
		case constant.UploadTaskStatusFailed:
			anyFailed = true
		case constant.UploadTaskStatusUploaded:
			anyUploaded = true
		}
	}

	status := constant.SyncStatusSynced
	switch {
	case anyPending:
		status = constant.SyncStatusUploading
	case anyFailed:
		status = constant.SyncStatusFailed
	}
	if err := p.repo.UpdateSessionSyncStatus(ctx, sessionId, status); err != nil {
		log.Error().Err(err).Msg("failed to update session sync status")
	}

	if !anyUploaded || !p.notifier.Enabled() {
		return
	}
	if anyPending && !notifyPartial {
		return
	}

	sess, err := p.repo.FindSessionById(ctx, sessionId)
	if err != nil {
		log.Error().Err(err).Msg("failed to load session for webhook")
		return
	}
	meta := p.buildMetadata(ctx, sess, tasks)
	payload, err := json.Marshal(meta)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal webhook payload")
		return
	}
	if err := p.notifier.Deliver(ctx, sessionId, payload); err != nil {
		log.Warn().Err(err).Str("session_id", sessionId.String()).Msg("webhook delivery failed, queued for re-send")
	}
}

func (p *Pipeline) generateThumbnail(ctx context.Context, sess *entities.RecordingSession) {
	if p.thumbnail == nil || sess.VideoPath == "" {
		return
	}

	thumbPath := strings.TrimSuffix(sess.VideoPath, filepath.Ext(sess.VideoPath)) + "_thumb.jpg"
	if err := p.thumbnail(ctx, sess.VideoPath, thumbPath); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("thumbnail generation failed, continuing without")
		return
	}

	sess.ThumbnailPath = thumbPath
	if err := p.repo.SaveSession(ctx, sess); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to persist thumbnail path")
	}
}

// buildArtifactTasks creates tasks for artifacts that exist on disk. A
// missing transcript or thumbnail is normal; a missing video only happens
// after manual file deletion and is skipped the same way.
func (p *Pipeline) buildArtifactTasks(sess *entities.RecordingSession) []*entities.UploadTask {
	candidates := []struct {
		role constant.FileRole
		path string
	}{
		{constant.FileRoleVideo, sess.VideoPath},
		{constant.FileRoleTranscript, sess.TranscriptPath},
		{constant.FileRoleThumbnail, sess.ThumbnailPath},
	}

	tasks := make([]*entities.UploadTask, 0, len(candidates))
	for _, c := range candidates {
		if c.path == "" {
			continue
		}
		if _, err := os.Stat(c.path); err != nil {
			continue
		}
		// The due time claims the task for the inline attempt, so a scan
		// tick landing between creation and that attempt cannot process it
		// a second time. A crash before the attempt surfaces through the
		// scan once the window elapses.
		claimed := time.Now().Add(p.retryDelay(1))
		tasks = append(tasks, &entities.UploadTask{
			ID:          uuid.New(),
			SessionID:   sess.ID,
			FileRole:    c.role,
			LocalPath:   c.path,
			ObjectKey:   objectKeyFor(sess.ID, c.role),
			Status:      constant.UploadTaskStatusPending,
			NextRetryAt: &claimed,
		})
	}
	return tasks
}

// buildMetadataTask writes the metadata document beside the video and queues
// it as a fourth artifact. It runs after the inline artifact pass so the
// document carries the remote URLs that are already final.
func (p *Pipeline) buildMetadataTask(ctx context.Context, sess *entities.RecordingSession) *entities.UploadTask {
	tasks, err := p.repo.UploadTasksBySessionId(ctx, sess.ID)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to load upload tasks for metadata document")
		return nil
	}

	meta := p.buildMetadata(ctx, sess, tasks)
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to marshal metadata document")
		return nil
	}

	dir := filepath.Dir(sess.VideoPath)
	if sess.VideoPath == "" {
		dir = p.cfg.Capture.OutputDir
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_metadata.json", sess.ID))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to write metadata document")
		return nil
	}

	claimed := time.Now().Add(p.retryDelay(1))
	return &entities.UploadTask{
		ID:          uuid.New(),
		SessionID:   sess.ID,
		FileRole:    constant.FileRoleMetadata,
		LocalPath:   path,
		ObjectKey:   objectKeyFor(sess.ID, constant.FileRoleMetadata),
		Status:      constant.UploadTaskStatusPending,
		NextRetryAt: &claimed,
	}
}

func objectKeyFor(sessionId uuid.UUID, role constant.FileRole) string {
	switch role {
	case constant.FileRoleVideo:
		return fmt.Sprintf("%s/video.mkv", sessionId)
	case constant.FileRoleTranscript:
		return fmt.Sprintf("%s/transcript.txt", sessionId)
	case constant.FileRoleThumbnail:
		return fmt.Sprintf("%s/thumbnail.jpg", sessionId)
	default:
		return fmt.Sprintf("%s/metadata.json", sessionId)
	}
}

func contentTypeFor(role constant.FileRole) string {
	switch role {
	case constant.FileRoleVideo:
		return "video/x-matroska"
	case constant.FileRoleTranscript:
		return "text/plain"
	case constant.FileRoleThumbnail:
		return "image/jpeg"
	default:
		return "application/json"
	}
}
