package entities

import (
	"time"

	"github.com/google/uuid"
)

// Meeting is a calendar entry synced by an external collaborator. The
// orchestrator only reads meetings: remote start commands address a session
// by subject/organizer/start time, and a completed recording may be linked
// back to the meeting it captured.
type Meeting struct {
	ID              uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	CalendarEventID string    `json:"calendar_event_id" gorm:"type:varchar(255);index:idx_meetings_event"`
	Subject         string    `json:"subject" gorm:"type:varchar(255);not null"`
	Organizer       string    `json:"organizer" gorm:"type:varchar(255)"`
	StartTime       time.Time `json:"start_time" gorm:"not null;index:idx_meetings_start"`
	EndTime         time.Time `json:"end_time"`
	UserExcluded    bool      `json:"user_excluded" gorm:"default:false"`

	RecordingID *uuid.UUID `json:"recording_id" gorm:"type:uuid"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Meeting) TableName() string {
	return "meetings"
}
