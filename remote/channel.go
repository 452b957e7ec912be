package remote

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"recorder-agent/config"
	"recorder-agent/constant"
	"recorder-agent/dto"
	"recorder-agent/entities"
	"recorder-agent/repository"
	"recorder-agent/session"
)

// Controller is the session state machine as seen by the remote channel.
type Controller interface {
	Start(ctx context.Context, req session.StartRequest) (*entities.RecordingSession, error)
	Stop(ctx context.Context, reason constant.StopReason) (*entities.RecordingSession, error)
	Snapshot() session.Status
}

// Channel maintains the outbound websocket connection to the operator
// backend: it dials, reconnects with exponential backoff, dispatches inbound
// commands to the state machine and emits status, heartbeat and lifecycle
// events. Loss of the connection never interrupts an in-progress recording.
type Channel struct {
	cfg      config.Remote
	hostname string
	repo     repository.Repository
	ctrl     Controller

	writeMu sync.Mutex
	conn    *websocket.Conn

	keyMu     sync.Mutex
	activeKey *dto.MeetingKey
}

func NewChannel(cfg config.Remote, hostname string, repo repository.Repository, ctrl Controller) *Channel {
	return &Channel{
		cfg:      cfg,
		hostname: hostname,
		repo:     repo,
		ctrl:     ctrl,
	}
}

// Run dials the backend and serves the connection until ctx is cancelled.
// Reconnect delays grow exponentially up to the configured maximum and reset
// after a successful connection.
func (c *Channel) Run(ctx context.Context) {
	if c.cfg.ServerURL == "" {
		zerolog.Ctx(ctx).Info().Msg("remote channel disabled, no server url configured")
		return
	}

	bo := backoff.NewExponentialBackOff()
	if c.cfg.ReconnectMaxInterval > 0 {
		bo.MaxInterval = c.cfg.ReconnectMaxInterval
	}

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.ServerURL, nil)
		if err != nil {
			wait := bo.NextBackOff()
			zerolog.Ctx(ctx).Warn().
				Err(err).
				Dur("retry_in", wait).
				Msg("remote channel dial failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		bo.Reset()
		zerolog.Ctx(ctx).Info().Str("server_url", c.cfg.ServerURL).Msg("remote channel connected")
		c.serve(ctx, conn)
	}
}

// serve owns one live connection: a read loop on the calling goroutine plus
// status and heartbeat emitters. Returns when the connection dies.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	defer func() {
		c.writeMu.Lock()
		c.conn = nil
		c.writeMu.Unlock()
		_ = conn.Close()
	}()

	if err := c.send(connCtx, dto.MessageClientConnected, dto.ClientConnectedEvent{
		Hostname: c.hostname,
		Status:   "ready",
	}); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to send hello")
		return
	}

	go c.emitStatus(connCtx)
	go c.emitHeartbeat(connCtx)

	staleAfter := c.cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 60 * time.Second
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(staleAfter))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("remote channel read failed, reconnecting")
			return
		}

		env := dto.Envelope{}
		if err := json.Unmarshal(raw, &env); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("discarding malformed remote frame")
			continue
		}
		c.handleMessage(connCtx, env)
	}
}

func (c *Channel) emitStatus(ctx context.Context) {
	interval := c.cfg.StatusInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := c.ctrl.Snapshot()
			if !status.RecordingActive {
				continue
			}
			event := dto.RecordingStatusEvent{
				MeetingKey: c.keyFor(status.Session),
				Status:     string(status.Session.Status),
				Elapsed:    int(status.Elapsed.Seconds()),
				Remaining:  int(status.Remaining.Seconds()),
			}
			if err := c.send(ctx, dto.MessageRecordingStatus, event); err != nil {
				zerolog.Ctx(ctx).Debug().Err(err).Msg("failed to send recording status")
			}
		}
	}
}

func (c *Channel) emitHeartbeat(ctx context.Context) {
	interval := c.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.send(ctx, dto.MessageHeartbeat, nil); err != nil {
				zerolog.Ctx(ctx).Debug().Err(err).Msg("failed to send heartbeat")
			}
		}
	}
}

// OnSessionStopped is registered as a state machine listener and reports
// terminal transitions to the backend. A dead connection drops the event;
// the authoritative record still reaches the backend through the webhook.
func (c *Channel) OnSessionStopped(notif session.StopNotification) {
	ctx := context.Background()
	key := c.takeKey(&notif.Session)

	expected := 0
	if notif.Session.ExpectedDuration != nil {
		expected = *notif.Session.ExpectedDuration
	}

	if notif.Premature {
		event := dto.PrematureStopEvent{
			MeetingKey:       key,
			DurationActual:   notif.Session.ActualDuration,
			DurationExpected: expected,
			Reason:           notif.Reason.Wire(),
		}
		if err := c.send(ctx, dto.MessageStoppedPremature, event); err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("failed to send premature stop event")
		}
		return
	}

	// The backend's status field is a success flag, not the session state.
	outcome := "success"
	if notif.Failed {
		outcome = "failed"
	}
	event := dto.StopConfirmedEvent{
		MeetingKey:       key,
		DurationActual:   notif.Session.ActualDuration,
		DurationExpected: expected,
		Reason:           notif.Reason.Wire(),
		Status:           outcome,
	}
	if err := c.send(ctx, dto.MessageStopConfirmed, event); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("failed to send stop confirmation")
	}
}

// send serializes one outbound frame. Writes are serialized by writeMu since
// emitters, the command handler and stop listeners share the connection.
func (c *Channel) send(ctx context.Context, msgType dto.MessageType, data any) error {
	env := dto.Envelope{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		env.Data = raw
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil {
		return websocket.ErrCloseSent
	}
	return c.conn.WriteJSON(env)
}

func (c *Channel) rememberKey(key dto.MeetingKey) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	c.activeKey = &key
}

// keyFor returns the stored meeting key for remote sessions; manual sessions
// are described by their own title and start time.
func (c *Channel) keyFor(sess *entities.RecordingSession) dto.MeetingKey {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()

	if c.activeKey != nil {
		return *c.activeKey
	}
	key := dto.MeetingKey{Subject: sess.Title}
	if sess.StartedAt != nil {
		key.StartTime = *sess.StartedAt
	}
	return key
}

func (c *Channel) takeKey(sess *entities.RecordingSession) dto.MeetingKey {
	c.keyMu.Lock()
	stored := c.activeKey
	c.activeKey = nil
	c.keyMu.Unlock()

	if stored != nil {
		return *stored
	}
	key := dto.MeetingKey{Subject: sess.Title}
	if sess.StartedAt != nil {
		key.StartTime = *sess.StartedAt
	}
	return key
}
