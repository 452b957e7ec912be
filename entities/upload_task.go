package entities

import (
	"time"

	"github.com/google/uuid"

	"recorder-agent/constant"
)

// UploadTask is one artifact file queued for object-storage upload. Tasks are
// never deleted: an exhausted task stays queryable for manual retry.
type UploadTask struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	SessionID uuid.UUID `json:"session_id" gorm:"type:uuid;not null;index:idx_upload_tasks_session"`

	FileRole  constant.FileRole `json:"file_role" gorm:"type:varchar(20);not null"`
	LocalPath string            `json:"local_path" gorm:"type:varchar(500);not null"`
	ObjectKey string            `json:"object_key" gorm:"type:varchar(500);not null"`
	RemoteURL string            `json:"remote_url" gorm:"type:varchar(500)"`

	Status      constant.UploadTaskStatus `json:"status" gorm:"type:varchar(20);not null;index:idx_upload_tasks_status"`
	RetryCount  int                       `json:"retry_count" gorm:"type:integer;default:0"`
	LastError   string                    `json:"last_error" gorm:"type:text"`
	NextRetryAt *time.Time                `json:"next_retry_at" gorm:"index:idx_upload_tasks_next_retry"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UploadTask) TableName() string {
	return "upload_tasks"
}
