package entities

import (
	"time"

	"github.com/google/uuid"

	"recorder-agent/constant"
)

type RecordingSession struct {
	ID            uuid.UUID              `json:"id" gorm:"type:uuid;primary_key"`
	Title         string                 `json:"title" gorm:"type:varchar(255);not null"`
	Status        constant.SessionStatus `json:"status" gorm:"type:varchar(20);not null;index:idx_recording_sessions_status"`
	TriggerOrigin constant.TriggerOrigin `json:"trigger_origin" gorm:"type:varchar(10);not null"`
	StopReason    constant.StopReason    `json:"stop_reason" gorm:"type:varchar(30)"`

	StartedAt *time.Time `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at"`

	// ExpectedDuration is set only for remote/scheduled sessions, in seconds.
	ExpectedDuration *int `json:"expected_duration" gorm:"type:integer"`
	ActualDuration   int  `json:"actual_duration" gorm:"type:integer;default:0"`

	MeetingID *uuid.UUID `json:"meeting_id" gorm:"type:uuid;index:idx_recording_sessions_meeting"`

	VideoPath      string `json:"video_path" gorm:"type:varchar(500)"`
	TranscriptPath string `json:"transcript_path" gorm:"type:varchar(500)"`
	ThumbnailPath  string `json:"thumbnail_path" gorm:"type:varchar(500)"`
	FileSize       int64  `json:"file_size" gorm:"type:bigint;default:0"`

	SyncStatus constant.SyncStatus `json:"sync_status" gorm:"type:varchar(20);not null;default:'pending'"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (RecordingSession) TableName() string {
	return "recording_sessions"
}

// Elapsed returns the seconds between started and stopped, falling back to
// the recorded actual duration when timestamps are incomplete.
func (s *RecordingSession) Elapsed() int {
	if s.StartedAt != nil && s.StoppedAt != nil {
		return int(s.StoppedAt.Sub(*s.StartedAt).Seconds())
	}
	return s.ActualDuration
}
