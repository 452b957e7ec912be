package dto

import "recorder-agent/entities"

type StartRecordingRequest struct {
	Title           string `json:"title"`
	DurationMinutes int    `json:"duration_minutes"`
}

type RecordingStatusResponse struct {
	RecordingActive  bool                       `json:"recording_active"`
	Session          *entities.RecordingSession `json:"session,omitempty"`
	ElapsedSeconds   int                        `json:"elapsed_seconds"`
	RemainingSeconds int                        `json:"remaining_seconds"`
}

type RetryUploadsResponse struct {
	Reset int `json:"reset"`
}
