package dto

import (
	"encoding/json"
	"time"
)

// MessageType is the closed set of frame kinds exchanged on the remote
// control channel. Inbound commands and outbound events share one envelope.
type MessageType string

const (
	// Inbound commands from the operator backend.
	MessageStartRecording MessageType = "start_recording"
	MessageStopRecording  MessageType = "stop_recording"
	MessagePing           MessageType = "ping"
	MessageHeartbeatAck   MessageType = "heartbeat_ack"

	// Outbound events to the operator backend.
	MessageClientConnected  MessageType = "client_connected"
	MessagePong             MessageType = "pong"
	MessageHeartbeat        MessageType = "heartbeat"
	MessageRecordingStatus  MessageType = "recording_status"
	MessageStartConfirmed   MessageType = "start_confirmed"
	MessageStartFailed      MessageType = "start_failed"
	MessageStopConfirmed    MessageType = "stop_confirmed"
	MessageStoppedPremature MessageType = "recording_stopped_premature"
)

type Envelope struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// MeetingKey addresses a session by its calendar descriptor.
type MeetingKey struct {
	Subject   string    `json:"subject"`
	Organizer string    `json:"organizer"`
	StartTime time.Time `json:"start_time"`
}

type StartCommand struct {
	MeetingKey
	// DurationMinutes is the backend's duration expectation for the meeting.
	DurationMinutes int `json:"duration"`
}

type StopCommand struct{}

type ClientConnectedEvent struct {
	Hostname string `json:"hostname"`
	Status   string `json:"status"`
}

type RecordingStatusEvent struct {
	MeetingKey
	Status    string `json:"status"`
	Elapsed   int    `json:"elapsed"`
	Remaining int    `json:"remaining"`
}

type StartConfirmedEvent struct {
	MeetingKey
	DurationMinutes int `json:"duration"`
}

type StartFailedEvent struct {
	MeetingKey
	Reason string `json:"reason"`
}

type StopConfirmedEvent struct {
	MeetingKey
	DurationActual   int    `json:"duration_actual"`
	DurationExpected int    `json:"duration_expected"`
	Reason           string `json:"reason"`
	Status           string `json:"status"`
}

type PrematureStopEvent struct {
	MeetingKey
	DurationActual   int    `json:"duration_actual"`
	DurationExpected int    `json:"duration_expected"`
	Reason           string `json:"reason"`
}
