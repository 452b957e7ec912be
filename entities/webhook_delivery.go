package entities

import (
	"time"

	"github.com/google/uuid"
)

// WebhookDelivery holds a metadata notification that could not be delivered
// to the operator backend. Re-sends are idempotent upserts keyed by the
// recording id, so a delivery can be retried any number of times.
type WebhookDelivery struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primary_key"`
	RecordingID uuid.UUID  `json:"recording_id" gorm:"type:uuid;not null;uniqueIndex:unique_webhook_recording"`
	Payload     string     `json:"payload" gorm:"type:text;not null"`
	Attempts    int        `json:"attempts" gorm:"type:integer;default:0"`
	LastError   string     `json:"last_error" gorm:"type:text"`
	DeliveredAt *time.Time `json:"delivered_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WebhookDelivery) TableName() string {
	return "webhook_deliveries"
}
