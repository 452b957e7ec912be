package remote

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"recorder-agent/constant"
	"recorder-agent/dto"
	"recorder-agent/session"
)

// handleMessage dispatches one inbound frame. Unknown message types are
// logged and dropped, never treated as a protocol error.
func (c *Channel) handleMessage(ctx context.Context, env dto.Envelope) {
	switch env.Type {
	case dto.MessageStartRecording:
		c.handleStart(ctx, env.Data)
	case dto.MessageStopRecording:
		c.handleStop(ctx)
	case dto.MessagePing:
		if err := c.send(ctx, dto.MessagePong, nil); err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("failed to send pong")
		}
	case dto.MessageHeartbeatAck:
		// The ack itself refreshed the read deadline; nothing else to do.
	default:
		zerolog.Ctx(ctx).Warn().Str("type", string(env.Type)).Msg("ignoring unknown remote message")
	}
}

func (c *Channel) handleStart(ctx context.Context, data json.RawMessage) {
	cmd := dto.StartCommand{}
	if err := json.Unmarshal(data, &cmd); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("malformed start command")
		return
	}

	req := session.StartRequest{
		Title:  cmd.Subject,
		Origin: constant.TriggerOriginRemote,
	}
	if cmd.DurationMinutes > 0 {
		expected := time.Duration(cmd.DurationMinutes) * time.Minute
		req.ExpectedDuration = &expected
	}

	// The meeting link is best effort; the backend may command a recording
	// for a meeting the calendar sync has not delivered yet.
	var meetingId *uuid.UUID
	if meeting, err := c.repo.FindMeetingByKey(ctx, cmd.Subject, cmd.Organizer, cmd.StartTime); err == nil {
		if meeting.UserExcluded {
			c.sendStartFailed(ctx, cmd.MeetingKey, "meeting excluded by user")
			return
		}
		meetingId = &meeting.ID
	}
	req.MeetingID = meetingId

	if _, err := c.ctrl.Start(ctx, req); err != nil {
		reason := "failed to start capture"
		if errors.Is(err, session.ErrSessionActive) {
			reason = "another recording is already active"
		}
		zerolog.Ctx(ctx).Warn().Err(err).Str("subject", cmd.Subject).Msg("remote start rejected")
		c.sendStartFailed(ctx, cmd.MeetingKey, reason)
		return
	}

	c.rememberKey(cmd.MeetingKey)
	confirm := dto.StartConfirmedEvent{
		MeetingKey:      cmd.MeetingKey,
		DurationMinutes: cmd.DurationMinutes,
	}
	if err := c.send(ctx, dto.MessageStartConfirmed, confirm); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("failed to send start confirmation")
	}
}

func (c *Channel) handleStop(ctx context.Context) {
	// The stop confirmation is emitted by the OnSessionStopped listener so
	// every stop path reports through the same code.
	if _, err := c.ctrl.Stop(ctx, constant.StopReasonManual); err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			zerolog.Ctx(ctx).Warn().Msg("remote stop with no active session")
			return
		}
		zerolog.Ctx(ctx).Error().Err(err).Msg("remote stop failed")
	}
}

func (c *Channel) sendStartFailed(ctx context.Context, key dto.MeetingKey, reason string) {
	event := dto.StartFailedEvent{
		MeetingKey: key,
		Reason:     reason,
	}
	if err := c.send(ctx, dto.MessageStartFailed, event); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("failed to send start failure")
	}
}
