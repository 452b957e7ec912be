package session

import (
	"testing"
	"time"

	"recorder-agent/constant"
	"recorder-agent/testsupport"
)

func TestWatchdogForcesStopPastHardCap(t *testing.T) {
	ctx := testsupport.Context(t)
	rec := &fakeRecorder{stopDuration: 4 * time.Hour}
	m := newTestMachine(t, rec, newFakeUploader())

	notifs := make(chan StopNotification, 1)
	m.AddListener(func(n StopNotification) { notifs <- n })

	if _, err := m.Start(ctx, StartRequest{Origin: constant.TriggerOriginManual}); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Push the machine's clock past the cap instead of waiting three hours.
	m.clock = func() time.Time { return time.Now().Add(4 * time.Hour) }

	w := NewWatchdog(testSessionConfig(), m)
	w.CheckOnce(ctx)

	notif := waitForNotification(t, notifs)
	if notif.Reason != constant.StopReasonPrematureAutoStop {
		t.Fatalf("reason = %s, want %s", notif.Reason, constant.StopReasonPrematureAutoStop)
	}
	if notif.Session.Status != constant.SessionStatusCompleted {
		t.Fatalf("status = %s, want completed; a capped recording is preserved", notif.Session.Status)
	}
	if rec.Running() {
		t.Fatalf("recorder still running after forced stop")
	}
}

func TestWatchdogLeavesSessionUnderCap(t *testing.T) {
	ctx := testsupport.Context(t)
	rec := &fakeRecorder{stopDuration: time.Minute}
	m := newTestMachine(t, rec, newFakeUploader())

	if _, err := m.Start(ctx, StartRequest{Origin: constant.TriggerOriginManual}); err != nil {
		t.Fatalf("start: %v", err)
	}

	w := NewWatchdog(testSessionConfig(), m)
	w.CheckOnce(ctx)

	if !rec.Running() {
		t.Fatalf("watchdog stopped a session under the cap")
	}
}

func TestWatchdogIdleNoop(t *testing.T) {
	ctx := testsupport.Context(t)
	m := newTestMachine(t, &fakeRecorder{}, newFakeUploader())

	w := NewWatchdog(testSessionConfig(), m)
	w.CheckOnce(ctx)
}
