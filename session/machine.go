package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"recorder-agent/capture"
	"recorder-agent/config"
	"recorder-agent/constant"
	"recorder-agent/entities"
	"recorder-agent/repository"
)

// Recorder is the capture supervisor as seen by the state machine.
type Recorder interface {
	Launch(ctx context.Context, req capture.LaunchRequest) error
	Stop(ctx context.Context, gracefulTimeout time.Duration) (time.Duration, error)
	Running() bool
}

// UploadSubmitter accepts a completed session for artifact upload.
type UploadSubmitter interface {
	Submit(ctx context.Context, sessionId uuid.UUID)
}

type StartRequest struct {
	Title            string
	Origin           constant.TriggerOrigin
	ExpectedDuration *time.Duration
	MeetingID        *uuid.UUID
}

// StopNotification is delivered to registered listeners after a session
// reaches a terminal state. The embedded session is a snapshot taken after
// the terminal status was persisted.
type StopNotification struct {
	Session   entities.RecordingSession
	Reason    constant.StopReason
	Premature bool
	Failed    bool
}

// Status is a point-in-time snapshot for status endpoints and the remote
// channel's periodic emitter.
type Status struct {
	RecordingActive bool
	Session         *entities.RecordingSession
	Elapsed         time.Duration
	Remaining       time.Duration
}

// Machine owns the single recording session lifecycle:
// idle -> recording -> stopping -> {completed, failed}. All public entry
// points serialize on one mutex, so concurrent Start/Stop attempts from the
// local API, the remote channel and the watchdog resolve to exactly one
// winner.
type Machine struct {
	cfg        config.Session
	captureCfg config.Capture
	repo       repository.Repository
	recorder   Recorder
	uploader   UploadSubmitter

	clock func() time.Time

	mu            sync.Mutex
	current       *entities.RecordingSession
	startedAt     time.Time
	expectedTimer *time.Timer
	listeners     []func(StopNotification)
}

func NewMachine(cfg config.Session, captureCfg config.Capture, repo repository.Repository, recorder Recorder, uploader UploadSubmitter) *Machine {
	return &Machine{
		cfg:        cfg,
		captureCfg: captureCfg,
		repo:       repo,
		recorder:   recorder,
		uploader:   uploader,
		clock:      time.Now,
	}
}

// AddListener registers a callback for terminal session transitions.
// Listeners run on their own goroutine and never block Start/Stop.
func (m *Machine) AddListener(fn func(StopNotification)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Start launches a new session. Legal only from idle; a concurrent Start
// loses with ErrSessionActive and leaves the winning session untouched.
func (m *Machine) Start(ctx context.Context, req StartRequest) (*entities.RecordingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return nil, ErrSessionActive
	}

	now := m.clock()
	sess := &entities.RecordingSession{
		ID:            uuid.New(),
		Title:         req.Title,
		TriggerOrigin: req.Origin,
		SyncStatus:    constant.SyncStatusPending,
	}
	if sess.Title == "" {
		sess.Title = fmt.Sprintf("Recording %s", now.Format("2006-01-02 15:04"))
	}
	if req.ExpectedDuration != nil {
		seconds := int(req.ExpectedDuration.Seconds())
		sess.ExpectedDuration = &seconds
	}
	sess.MeetingID = req.MeetingID

	if err := os.MkdirAll(m.captureCfg.OutputDir, 0o755); err != nil {
		return nil, &capture.AcquisitionError{Reason: "output directory unavailable", Err: err}
	}

	launch := capture.BuildLaunchRequest(m.captureCfg, sess.ID, now)
	if err := m.recorder.Launch(ctx, launch); err != nil {
		// Stay idle; acquisition failures are reported synchronously and
		// never retried here.
		return nil, err
	}

	started := m.clock()
	sess.Status = constant.SessionStatusRecording
	sess.StartedAt = &started
	sess.VideoPath = launch.VideoPath
	sess.TranscriptPath = launch.TranscriptPath

	if err := m.repo.CreateSession(ctx, sess); err != nil {
		if _, stopErr := m.recorder.Stop(ctx, m.cfg.GracefulStopTimeout); stopErr != nil {
			zerolog.Ctx(ctx).Error().Err(stopErr).Msg("failed to tear down capture after persistence failure")
		}
		return nil, err
	}
	if req.MeetingID != nil {
		if err := m.repo.LinkMeetingRecording(ctx, *req.MeetingID, sess.ID); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to link meeting to recording")
		}
	}

	m.current = sess
	m.startedAt = started
	if req.ExpectedDuration != nil {
		id := sess.ID
		m.expectedTimer = time.AfterFunc(*req.ExpectedDuration, func() {
			m.autoStop(id)
		})
	}

	zerolog.Ctx(ctx).Info().
		Str("session_id", sess.ID.String()).
		Str("title", sess.Title).
		Str("origin", string(req.Origin)).
		Msg("recording session started")

	snapshot := *sess
	return &snapshot, nil
}

// Stop ends the active session with the given reason. It blocks up to the
// graceful stop timeout while the capture unit finalizes output; this is the
// only entry point allowed to block its caller for a non-trivial duration.
func (m *Machine) Stop(ctx context.Context, reason constant.StopReason) (*entities.RecordingSession, error) {
	return m.stop(ctx, reason, nil)
}

func (m *Machine) stop(ctx context.Context, reason constant.StopReason, only *uuid.UUID) (*entities.RecordingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.Status != constant.SessionStatusRecording {
		return nil, ErrNoActiveSession
	}
	if only != nil && m.current.ID != *only {
		return nil, ErrNoActiveSession
	}

	sess := m.current
	m.cancelExpectedTimer()

	sess.Status = constant.SessionStatusStopping
	if err := m.repo.SaveSession(ctx, sess); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to persist stopping status")
	}

	duration, err := m.recorder.Stop(ctx, m.cfg.GracefulStopTimeout)
	stoppedAt := m.clock()
	sess.StoppedAt = &stoppedAt

	if err != nil {
		// Failed graceful stop: session lands in failed, artifacts already
		// written stay on disk, no upload is attempted.
		sess.Status = constant.SessionStatusFailed
		sess.StopReason = constant.StopReasonError
		sess.ActualDuration = int(stoppedAt.Sub(m.startedAt).Seconds())
		if saveErr := m.repo.SaveSession(ctx, sess); saveErr != nil {
			zerolog.Ctx(ctx).Error().Err(saveErr).Msg("failed to persist failed session")
		}
		snapshot := *sess
		m.finishLocked(StopNotification{Session: snapshot, Reason: constant.StopReasonError, Failed: true})
		return &snapshot, err
	}

	sess.Status = constant.SessionStatusCompleted
	sess.StopReason = reason
	sess.ActualDuration = int(duration.Seconds())
	if info, statErr := os.Stat(sess.VideoPath); statErr == nil {
		sess.FileSize = info.Size()
	}
	sess.SyncStatus = constant.SyncStatusPending

	if err := m.repo.SaveSession(ctx, sess); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to persist completed session")
	}

	premature := m.classifyPremature(sess, reason)
	snapshot := *sess
	m.finishLocked(StopNotification{Session: snapshot, Reason: reason, Premature: premature})

	// The terminal transition is persisted before the session is handed to
	// the upload pipeline; the handoff itself never blocks the caller.
	id := sess.ID
	uploadCtx := context.WithoutCancel(ctx)
	go m.uploader.Submit(uploadCtx, id)

	zerolog.Ctx(ctx).Info().
		Str("session_id", id.String()).
		Str("reason", string(reason)).
		Int("actual_duration", snapshot.ActualDuration).
		Bool("premature", premature).
		Msg("recording session stopped")

	return &snapshot, nil
}

// NotifyCrash is invoked by the capture supervisor when a subprocess exits
// unexpectedly mid-session. The session moves straight to failed, bypassing
// stopping, and is never submitted for upload.
func (m *Machine) NotifyCrash(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.Status != constant.SessionStatusRecording {
		return
	}

	sess := m.current
	m.cancelExpectedTimer()

	stoppedAt := m.clock()
	sess.Status = constant.SessionStatusFailed
	sess.StopReason = constant.StopReasonError
	sess.StoppedAt = &stoppedAt
	sess.ActualDuration = int(stoppedAt.Sub(m.startedAt).Seconds())

	ctx := context.Background()
	if err := m.repo.SaveSession(ctx, sess); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to persist crashed session")
	}

	zerolog.Ctx(ctx).Error().
		Err(cause).
		Str("session_id", sess.ID.String()).
		Msg("capture crashed, session failed")

	snapshot := *sess
	m.finishLocked(StopNotification{Session: snapshot, Reason: constant.StopReasonError, Failed: true})
}

// Snapshot returns the current machine state for status reporting.
func (m *Machine) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return Status{}
	}

	elapsed := m.clock().Sub(m.startedAt)
	var remaining time.Duration
	if m.current.ExpectedDuration != nil {
		remaining = time.Duration(*m.current.ExpectedDuration)*time.Second - elapsed
		if remaining < 0 {
			remaining = 0
		}
	}
	snapshot := *m.current
	return Status{
		RecordingActive: snapshot.Status == constant.SessionStatusRecording,
		Session:         &snapshot,
		Elapsed:         elapsed,
		Remaining:       remaining,
	}
}

// ActiveElapsed reports elapsed time for the recording session, if any.
func (m *Machine) ActiveElapsed() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.current.Status != constant.SessionStatusRecording {
		return 0, false
	}
	return m.clock().Sub(m.startedAt), true
}

func (m *Machine) autoStop(id uuid.UUID) {
	_, err := m.stop(context.Background(), constant.StopReasonCompleted, &id)
	if err != nil && err != ErrNoActiveSession {
		zerolog.Ctx(context.Background()).Error().Err(err).Msg("expected-duration auto stop failed")
	}
}

// classifyPremature flags remote sessions that stopped well short of the
// backend's duration expectation; manual sessions have no expectation and
// are never flagged.
func (m *Machine) classifyPremature(sess *entities.RecordingSession, reason constant.StopReason) bool {
	if sess.TriggerOrigin != constant.TriggerOriginRemote {
		return false
	}
	if sess.ExpectedDuration == nil || reason == constant.StopReasonCompleted {
		return false
	}
	shortfall := *sess.ExpectedDuration - sess.ActualDuration
	return float64(shortfall) > m.cfg.PrematureThreshold.Seconds()
}

func (m *Machine) cancelExpectedTimer() {
	if m.expectedTimer != nil {
		m.expectedTimer.Stop()
		m.expectedTimer = nil
	}
}

// finishLocked clears the active session and fans the notification out to
// listeners without blocking the state machine.
func (m *Machine) finishLocked(notif StopNotification) {
	m.current = nil
	for _, fn := range m.listeners {
		go fn(notif)
	}
}
