package uploader

import (
	"context"
	"math"
	"os"
	"time"

	"recorder-agent/constant"
	"recorder-agent/dto"
	"recorder-agent/entities"
)

// buildMetadata assembles the webhook payload from the session row and its
// upload tasks. Only artifacts that actually uploaded contribute URLs; sizes
// come from the local files so partial uploads still report honestly.
func (p *Pipeline) buildMetadata(ctx context.Context, sess *entities.RecordingSession, tasks []*entities.UploadTask) dto.WebhookMetadata {
	meta := dto.WebhookMetadata{
		RecordingID:      sess.ID.String(),
		Title:            sess.Title,
		DurationSeconds:  sess.ActualDuration,
		DurationDatabase: sess.Elapsed(),
		UserInfo: dto.UserInfo{
			Username: p.cfg.User.Username,
			Email:    p.cfg.User.Email,
		},
		UploadTimestamp: time.Now().UTC().Format(time.RFC3339),
		UploadSource:    p.source,
		BucketName:      p.cfg.Upload.Bucket,
		Region:          p.cfg.Upload.Region,
	}
	if sess.StartedAt != nil {
		meta.CreatedAt = sess.StartedAt.UTC().Format(time.RFC3339)
	}

	sizes := make(map[string]float64)
	total := 0.0
	for _, task := range tasks {
		if info, err := os.Stat(task.LocalPath); err == nil {
			mb := roundMB(info.Size())
			sizes[string(task.FileRole)] = mb
			total += mb
		}
		if task.Status != constant.UploadTaskStatusUploaded {
			continue
		}
		switch task.FileRole {
		case constant.FileRoleVideo:
			meta.UploadedFiles.Video = task.RemoteURL
		case constant.FileRoleTranscript:
			meta.UploadedFiles.Transcript = task.RemoteURL
		case constant.FileRoleThumbnail:
			meta.UploadedFiles.Thumbnail = task.RemoteURL
		case constant.FileRoleMetadata:
			meta.UploadedFiles.Metadata = task.RemoteURL
		}
	}
	meta.FileInfo = dto.FileInfo{
		TotalSizeMB:       math.Round(total*100) / 100,
		IndividualSizesMB: sizes,
	}

	if sess.MeetingID != nil {
		if meeting, err := p.repo.FindMeetingById(ctx, *sess.MeetingID); err == nil {
			meta.MeetingInfo = &dto.MeetingInfo{
				IsLinkedToMeeting: true,
				Subject:           meeting.Subject,
				Organizer:         meeting.Organizer,
				StartTime:         meeting.StartTime.UTC().Format(time.RFC3339),
				CalendarEventID:   meeting.CalendarEventID,
			}
		}
	}

	return meta
}

func roundMB(size int64) float64 {
	return math.Round(float64(size)/(1024*1024)*100) / 100
}
