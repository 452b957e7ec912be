package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"recorder-agent/config"
	"recorder-agent/constant"
	"recorder-agent/dto"
	"recorder-agent/entities"
	"recorder-agent/session"
	"recorder-agent/testsupport"
)

type fakeController struct {
	mu       sync.Mutex
	startErr error
	started  []session.StartRequest
	stops    int
	snapshot session.Status
}

func (f *fakeController) Start(ctx context.Context, req session.StartRequest) (*entities.RecordingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.started = append(f.started, req)
	return &entities.RecordingSession{ID: uuid.New(), Status: constant.SessionStatusRecording}, nil
}

func (f *fakeController) Stop(ctx context.Context, reason constant.StopReason) (*entities.RecordingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return &entities.RecordingSession{Status: constant.SessionStatusCompleted, StopReason: reason}, nil
}

func (f *fakeController) Snapshot() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

type wsBackend struct {
	server   *httptest.Server
	received chan dto.Envelope
	outbound chan dto.Envelope
}

func newWSBackend(t *testing.T) *wsBackend {
	t.Helper()
	b := &wsBackend{
		received: make(chan dto.Envelope, 64),
		outbound: make(chan dto.Envelope, 16),
	}
	upgrader := websocket.Upgrader{}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		go func() {
			for env := range b.outbound {
				if err := conn.WriteJSON(env); err != nil {
					return
				}
			}
		}()
		for {
			env := dto.Envelope{}
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			b.received <- env
		}
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *wsBackend) url() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http")
}

func (b *wsBackend) send(t *testing.T, msgType dto.MessageType, data any) {
	t.Helper()
	env := dto.Envelope{Type: msgType, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal command: %v", err)
		}
		env.Data = raw
	}
	b.outbound <- env
}

// expect drains frames until the wanted type arrives, skipping interleaved
// heartbeat and status traffic.
func (b *wsBackend) expect(t *testing.T, msgType dto.MessageType) dto.Envelope {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case env := <-b.received:
			if env.Type == msgType {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", msgType)
			return dto.Envelope{}
		}
	}
}

func testRemoteConfig(url string) config.Remote {
	return config.Remote{
		ServerURL:            url,
		StatusInterval:       50 * time.Millisecond,
		HeartbeatInterval:    time.Hour,
		ReconnectMaxInterval: time.Second,
		StaleAfter:           5 * time.Second,
	}
}

func startChannel(t *testing.T, ctrl Controller, url string) *Channel {
	t.Helper()
	c := NewChannel(testRemoteConfig(url), "agent-01", testsupport.NewRepo(t), ctrl)
	ctx, cancel := context.WithCancel(testsupport.Context(t))
	t.Cleanup(cancel)
	go c.Run(ctx)
	return c
}

func TestStartCommandConfirms(t *testing.T) {
	backend := newWSBackend(t)
	ctrl := &fakeController{}
	startChannel(t, ctrl, backend.url())

	hello := backend.expect(t, dto.MessageClientConnected)
	event := dto.ClientConnectedEvent{}
	if err := json.Unmarshal(hello.Data, &event); err != nil || event.Hostname != "agent-01" {
		t.Fatalf("bad hello frame: %s err=%v", hello.Data, err)
	}

	backend.send(t, dto.MessageStartRecording, dto.StartCommand{
		MeetingKey: dto.MeetingKey{
			Subject:   "weekly sync",
			Organizer: "bob@example.com",
			StartTime: time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC),
		},
		DurationMinutes: 60,
	})

	confirm := backend.expect(t, dto.MessageStartConfirmed)
	confirmed := dto.StartConfirmedEvent{}
	if err := json.Unmarshal(confirm.Data, &confirmed); err != nil {
		t.Fatalf("unmarshal confirmation: %v", err)
	}
	if confirmed.Subject != "weekly sync" || confirmed.DurationMinutes != 60 {
		t.Fatalf("bad confirmation: %+v", confirmed)
	}

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	if len(ctrl.started) != 1 {
		t.Fatalf("controller starts = %d, want 1", len(ctrl.started))
	}
	req := ctrl.started[0]
	if req.Origin != constant.TriggerOriginRemote {
		t.Fatalf("origin = %s, want remote", req.Origin)
	}
	if req.ExpectedDuration == nil || *req.ExpectedDuration != time.Hour {
		t.Fatalf("expected duration = %v, want 1h", req.ExpectedDuration)
	}
}

func TestStartRejectedWhenBusy(t *testing.T) {
	backend := newWSBackend(t)
	ctrl := &fakeController{startErr: session.ErrSessionActive}
	startChannel(t, ctrl, backend.url())

	backend.expect(t, dto.MessageClientConnected)
	backend.send(t, dto.MessageStartRecording, dto.StartCommand{
		MeetingKey: dto.MeetingKey{Subject: "weekly sync"},
	})

	failed := backend.expect(t, dto.MessageStartFailed)
	event := dto.StartFailedEvent{}
	if err := json.Unmarshal(failed.Data, &event); err != nil {
		t.Fatalf("unmarshal failure: %v", err)
	}
	if !strings.Contains(event.Reason, "already active") {
		t.Fatalf("reason = %q, want busy reason", event.Reason)
	}
}

func TestPingPongAndStatus(t *testing.T) {
	backend := newWSBackend(t)
	started := time.Now()
	ctrl := &fakeController{snapshot: session.Status{
		RecordingActive: true,
		Session: &entities.RecordingSession{
			Title:     "standup",
			Status:    constant.SessionStatusRecording,
			StartedAt: &started,
		},
		Elapsed:   10 * time.Second,
		Remaining: 50 * time.Second,
	}}
	startChannel(t, ctrl, backend.url())

	backend.expect(t, dto.MessageClientConnected)
	backend.send(t, dto.MessagePing, nil)
	backend.expect(t, dto.MessagePong)

	status := backend.expect(t, dto.MessageRecordingStatus)
	event := dto.RecordingStatusEvent{}
	if err := json.Unmarshal(status.Data, &event); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if event.Elapsed != 10 || event.Remaining != 50 {
		t.Fatalf("status = %+v, want elapsed 10 remaining 50", event)
	}
}

func TestStopCommandAndConfirmation(t *testing.T) {
	backend := newWSBackend(t)
	ctrl := &fakeController{}
	c := startChannel(t, ctrl, backend.url())

	backend.expect(t, dto.MessageClientConnected)
	backend.send(t, dto.MessageStopRecording, dto.StopCommand{})

	waitUntil(t, func() bool {
		ctrl.mu.Lock()
		defer ctrl.mu.Unlock()
		return ctrl.stops == 1
	})

	expected := 3600
	c.OnSessionStopped(session.StopNotification{
		Session: entities.RecordingSession{
			Title:            "weekly sync",
			Status:           constant.SessionStatusCompleted,
			ActualDuration:   3600,
			ExpectedDuration: &expected,
		},
		Reason: constant.StopReasonManual,
	})

	confirm := backend.expect(t, dto.MessageStopConfirmed)
	event := dto.StopConfirmedEvent{}
	if err := json.Unmarshal(confirm.Data, &event); err != nil {
		t.Fatalf("unmarshal confirmation: %v", err)
	}
	if event.DurationActual != 3600 || event.Reason != "manual" {
		t.Fatalf("bad confirmation: %+v", event)
	}
	if event.Status != "success" {
		t.Fatalf("status = %q, want success", event.Status)
	}
}

func TestFailedStopReportsFailedStatus(t *testing.T) {
	backend := newWSBackend(t)
	c := startChannel(t, &fakeController{}, backend.url())

	backend.expect(t, dto.MessageClientConnected)

	c.OnSessionStopped(session.StopNotification{
		Session: entities.RecordingSession{
			Title:  "weekly sync",
			Status: constant.SessionStatusFailed,
		},
		Reason: constant.StopReasonError,
		Failed: true,
	})

	confirm := backend.expect(t, dto.MessageStopConfirmed)
	event := dto.StopConfirmedEvent{}
	if err := json.Unmarshal(confirm.Data, &event); err != nil {
		t.Fatalf("unmarshal confirmation: %v", err)
	}
	if event.Status != "failed" || event.Reason != "error" {
		t.Fatalf("bad confirmation: %+v", event)
	}
}

func TestHeartbeatAckAccepted(t *testing.T) {
	backend := newWSBackend(t)
	startChannel(t, &fakeController{}, backend.url())

	backend.expect(t, dto.MessageClientConnected)

	// An ack must be absorbed without disturbing the connection: the next
	// command round-trips normally.
	backend.send(t, dto.MessageHeartbeatAck, nil)
	backend.send(t, dto.MessagePing, nil)
	backend.expect(t, dto.MessagePong)
}

func TestPrematureStopReported(t *testing.T) {
	backend := newWSBackend(t)
	c := startChannel(t, &fakeController{}, backend.url())

	backend.expect(t, dto.MessageClientConnected)

	expected := 3600
	c.OnSessionStopped(session.StopNotification{
		Session: entities.RecordingSession{
			Title:            "weekly sync",
			Status:           constant.SessionStatusCompleted,
			ActualDuration:   600,
			ExpectedDuration: &expected,
		},
		Reason:    constant.StopReasonManual,
		Premature: true,
	})

	frame := backend.expect(t, dto.MessageStoppedPremature)
	event := dto.PrematureStopEvent{}
	if err := json.Unmarshal(frame.Data, &event); err != nil {
		t.Fatalf("unmarshal premature event: %v", err)
	}
	if event.DurationActual != 600 || event.DurationExpected != 3600 {
		t.Fatalf("bad premature event: %+v", event)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition never satisfied")
}
