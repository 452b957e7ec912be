package constant

// SessionStatus is the lifecycle state of a recording session. Idle is the
// only state from which a new session may start; Completed and Failed are
// terminal.
type SessionStatus string

const (
	SessionStatusIdle      SessionStatus = "idle"
	SessionStatusRecording SessionStatus = "recording"
	SessionStatusStopping  SessionStatus = "stopping"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

type StopReason string

const (
	StopReasonCompleted         StopReason = "completed"
	StopReasonManual            StopReason = "manual"
	StopReasonPrematureAutoStop StopReason = "premature_auto_limit"
	StopReasonError             StopReason = "error"
)

// Wire returns the short reason code used on the remote channel.
func (r StopReason) Wire() string {
	if r == StopReasonPrematureAutoStop {
		return "premature"
	}
	return string(r)
}

type TriggerOrigin string

const (
	TriggerOriginManual TriggerOrigin = "manual"
	TriggerOriginRemote TriggerOrigin = "remote"
)

type SyncStatus string

const (
	SyncStatusPending   SyncStatus = "pending"
	SyncStatusUploading SyncStatus = "uploading"
	SyncStatusSynced    SyncStatus = "synced"
	SyncStatusFailed    SyncStatus = "failed"
)

type FileRole string

const (
	FileRoleVideo      FileRole = "video"
	FileRoleTranscript FileRole = "transcript"
	FileRoleThumbnail  FileRole = "thumbnail"
	FileRoleMetadata   FileRole = "metadata"
)

type UploadTaskStatus string

const (
	UploadTaskStatusPending  UploadTaskStatus = "pending"
	UploadTaskStatusUploaded UploadTaskStatus = "uploaded"
	UploadTaskStatusFailed   UploadTaskStatus = "failed"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
