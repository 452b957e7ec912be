package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"recorder-agent/capture"
	"recorder-agent/config"
	"recorder-agent/constant"
	"recorder-agent/testsupport"
)

type fakeRecorder struct {
	mu           sync.Mutex
	launchErr    error
	stopErr      error
	stopDuration time.Duration
	running      bool
	launches     int
	stops        int
}

func (f *fakeRecorder) Launch(ctx context.Context, req capture.LaunchRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches++
	if f.launchErr != nil {
		return f.launchErr
	}
	f.running = true
	return nil
}

func (f *fakeRecorder) Stop(ctx context.Context, gracefulTimeout time.Duration) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.running = false
	if f.stopErr != nil {
		return 0, f.stopErr
	}
	return f.stopDuration, nil
}

func (f *fakeRecorder) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

type fakeUploader struct {
	submitted chan uuid.UUID
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{submitted: make(chan uuid.UUID, 4)}
}

func (f *fakeUploader) Submit(ctx context.Context, sessionId uuid.UUID) {
	f.submitted <- sessionId
}

func testSessionConfig() config.Session {
	return config.Session{
		GracefulStopTimeout: time.Second,
		PrematureThreshold:  60 * time.Second,
		HardCap:             3 * time.Hour,
		WatchdogInterval:    30 * time.Second,
	}
}

func newTestMachine(t *testing.T, rec *fakeRecorder, up *fakeUploader) *Machine {
	t.Helper()
	captureCfg := config.Capture{
		FFmpegPath: "ffmpeg",
		OutputDir:  t.TempDir(),
	}
	return NewMachine(testSessionConfig(), captureCfg, testsupport.NewRepo(t), rec, up)
}

func waitForNotification(t *testing.T, ch chan StopNotification) StopNotification {
	t.Helper()
	select {
	case notif := <-ch:
		return notif
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stop notification")
		return StopNotification{}
	}
}

func TestStartStopLifecycle(t *testing.T) {
	ctx := testsupport.Context(t)
	rec := &fakeRecorder{stopDuration: 600 * time.Second}
	up := newFakeUploader()
	m := newTestMachine(t, rec, up)

	notifs := make(chan StopNotification, 1)
	m.AddListener(func(n StopNotification) { notifs <- n })

	sess, err := m.Start(ctx, StartRequest{Title: "standup", Origin: constant.TriggerOriginManual})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sess.Status != constant.SessionStatusRecording {
		t.Fatalf("status = %s, want recording", sess.Status)
	}
	if !rec.Running() {
		t.Fatalf("recorder not running after start")
	}

	stopped, err := m.Stop(ctx, constant.StopReasonManual)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.Status != constant.SessionStatusCompleted {
		t.Fatalf("status = %s, want completed", stopped.Status)
	}
	if stopped.StopReason != constant.StopReasonManual {
		t.Fatalf("stop reason = %s, want manual", stopped.StopReason)
	}
	if stopped.ActualDuration != 600 {
		t.Fatalf("actual duration = %d, want 600", stopped.ActualDuration)
	}

	notif := waitForNotification(t, notifs)
	if notif.Failed || notif.Premature {
		t.Fatalf("unexpected notification flags: %+v", notif)
	}

	select {
	case id := <-up.submitted:
		if id != sess.ID {
			t.Fatalf("submitted session %s, want %s", id, sess.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("upload pipeline never received the session")
	}
}

func TestStartWhileActiveLoses(t *testing.T) {
	ctx := testsupport.Context(t)
	rec := &fakeRecorder{stopDuration: time.Second}
	m := newTestMachine(t, rec, newFakeUploader())

	if _, err := m.Start(ctx, StartRequest{Origin: constant.TriggerOriginManual}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := m.Start(ctx, StartRequest{Origin: constant.TriggerOriginRemote}); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second start err = %v, want ErrSessionActive", err)
	}
	if rec.launches != 1 {
		t.Fatalf("launches = %d, want 1; losing start must not touch capture", rec.launches)
	}
}

func TestStopWhileIdle(t *testing.T) {
	ctx := testsupport.Context(t)
	m := newTestMachine(t, &fakeRecorder{}, newFakeUploader())

	if _, err := m.Stop(ctx, constant.StopReasonManual); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("stop err = %v, want ErrNoActiveSession", err)
	}
}

func TestPrematureClassification(t *testing.T) {
	ctx := testsupport.Context(t)
	expected := time.Hour

	cases := []struct {
		name      string
		origin    constant.TriggerOrigin
		expected  *time.Duration
		actual    time.Duration
		reason    constant.StopReason
		premature bool
	}{
		{"remote short stop", constant.TriggerOriginRemote, &expected, 600 * time.Second, constant.StopReasonManual, true},
		{"remote within threshold", constant.TriggerOriginRemote, &expected, expected - 30*time.Second, constant.StopReasonManual, false},
		{"remote completed", constant.TriggerOriginRemote, &expected, 600 * time.Second, constant.StopReasonCompleted, false},
		{"manual never premature", constant.TriggerOriginManual, nil, 600 * time.Second, constant.StopReasonManual, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &fakeRecorder{stopDuration: tc.actual}
			m := newTestMachine(t, rec, newFakeUploader())
			notifs := make(chan StopNotification, 1)
			m.AddListener(func(n StopNotification) { notifs <- n })

			if _, err := m.Start(ctx, StartRequest{Origin: tc.origin, ExpectedDuration: tc.expected}); err != nil {
				t.Fatalf("start: %v", err)
			}
			if _, err := m.Stop(ctx, tc.reason); err != nil {
				t.Fatalf("stop: %v", err)
			}

			notif := waitForNotification(t, notifs)
			if notif.Premature != tc.premature {
				t.Fatalf("premature = %v, want %v", notif.Premature, tc.premature)
			}
		})
	}
}

func TestCrashFailsSessionWithoutUpload(t *testing.T) {
	ctx := testsupport.Context(t)
	rec := &fakeRecorder{stopDuration: time.Second}
	up := newFakeUploader()
	m := newTestMachine(t, rec, up)

	notifs := make(chan StopNotification, 1)
	m.AddListener(func(n StopNotification) { notifs <- n })

	if _, err := m.Start(ctx, StartRequest{Origin: constant.TriggerOriginManual}); err != nil {
		t.Fatalf("start: %v", err)
	}

	m.NotifyCrash(&capture.ProcessError{Reason: "video capture exited unexpectedly", ExitCode: 1})

	notif := waitForNotification(t, notifs)
	if !notif.Failed {
		t.Fatalf("notification not flagged failed: %+v", notif)
	}
	if notif.Session.Status != constant.SessionStatusFailed {
		t.Fatalf("status = %s, want failed", notif.Session.Status)
	}

	select {
	case <-up.submitted:
		t.Fatalf("crashed session must not be submitted for upload")
	case <-time.After(100 * time.Millisecond):
	}

	if _, err := m.Stop(ctx, constant.StopReasonManual); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("stop after crash err = %v, want ErrNoActiveSession", err)
	}
}

func TestStopFailureMarksFailed(t *testing.T) {
	ctx := testsupport.Context(t)
	rec := &fakeRecorder{stopErr: &capture.ProcessError{Reason: "capture unit already crashed"}}
	up := newFakeUploader()
	m := newTestMachine(t, rec, up)

	if _, err := m.Start(ctx, StartRequest{Origin: constant.TriggerOriginManual}); err != nil {
		t.Fatalf("start: %v", err)
	}

	sess, err := m.Stop(ctx, constant.StopReasonManual)
	if err == nil {
		t.Fatalf("stop succeeded, want capture error")
	}
	if sess.Status != constant.SessionStatusFailed {
		t.Fatalf("status = %s, want failed", sess.Status)
	}

	select {
	case <-up.submitted:
		t.Fatalf("failed session must not be submitted for upload")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLaunchFailureStaysIdle(t *testing.T) {
	ctx := testsupport.Context(t)
	rec := &fakeRecorder{launchErr: &capture.AcquisitionError{Reason: "video capture failed to start"}}
	m := newTestMachine(t, rec, newFakeUploader())

	if _, err := m.Start(ctx, StartRequest{Origin: constant.TriggerOriginManual}); err == nil {
		t.Fatalf("start succeeded, want acquisition error")
	}

	// The machine must be idle again: a new start is allowed.
	rec.mu.Lock()
	rec.launchErr = nil
	rec.mu.Unlock()
	if _, err := m.Start(ctx, StartRequest{Origin: constant.TriggerOriginManual}); err != nil {
		t.Fatalf("start after failed launch: %v", err)
	}
}

func TestExpectedDurationAutoStop(t *testing.T) {
	ctx := testsupport.Context(t)
	rec := &fakeRecorder{stopDuration: 50 * time.Millisecond}
	m := newTestMachine(t, rec, newFakeUploader())

	notifs := make(chan StopNotification, 1)
	m.AddListener(func(n StopNotification) { notifs <- n })

	expected := 50 * time.Millisecond
	if _, err := m.Start(ctx, StartRequest{Origin: constant.TriggerOriginRemote, ExpectedDuration: &expected}); err != nil {
		t.Fatalf("start: %v", err)
	}

	notif := waitForNotification(t, notifs)
	if notif.Reason != constant.StopReasonCompleted {
		t.Fatalf("reason = %s, want completed", notif.Reason)
	}
	if notif.Premature {
		t.Fatalf("auto stop at expected duration must not be premature")
	}
}
