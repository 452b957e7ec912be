package dto

// WebhookMetadata is the write-once snapshot of a completed recording posted
// to the operator backend. The backend upserts on RecordingID, so re-sending
// the same payload is safe.
type WebhookMetadata struct {
	RecordingID      string        `json:"recording_id"`
	Title            string        `json:"title"`
	CreatedAt        string        `json:"created_at"`
	DurationSeconds  int           `json:"duration_seconds"`
	DurationDatabase int           `json:"duration_database"`
	UserInfo         UserInfo      `json:"user_info"`
	FileInfo         FileInfo      `json:"file_info"`
	UploadedFiles    UploadedFiles `json:"uploaded_files"`
	UploadTimestamp  string        `json:"upload_timestamp"`
	UploadSource     string        `json:"upload_source"`
	BucketName       string        `json:"bucket_name"`
	Region           string        `json:"region"`
	MeetingInfo      *MeetingInfo  `json:"meeting_info,omitempty"`
}

type UserInfo struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type FileInfo struct {
	TotalSizeMB       float64            `json:"total_size_mb"`
	IndividualSizesMB map[string]float64 `json:"individual_sizes_mb"`
}

// UploadedFiles carries the remote URL per artifact. Files that have not been
// uploaded yet are omitted from the payload entirely.
type UploadedFiles struct {
	Video      string `json:"video,omitempty"`
	Thumbnail  string `json:"thumbnail,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Metadata   string `json:"metadata,omitempty"`
}

type MeetingInfo struct {
	IsLinkedToMeeting bool   `json:"is_linked_to_meeting"`
	Subject           string `json:"subject,omitempty"`
	Organizer         string `json:"organizer,omitempty"`
	StartTime         string `json:"start_time,omitempty"`
	CalendarEventID   string `json:"calendar_event_id,omitempty"`
}

// WebhookResponse is the backend's acknowledgement; Action distinguishes the
// first delivery (created) from an idempotent re-send (updated).
type WebhookResponse struct {
	Action      string `json:"action"`
	RecordingID string `json:"recording_id"`
}
