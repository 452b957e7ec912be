package uploader

import (
	"context"
	"os/exec"
)

// ThumbnailFunc extracts a preview frame from a finished video file.
type ThumbnailFunc func(ctx context.Context, videoPath, thumbnailPath string) error

// FFmpegThumbnailer grabs a frame five seconds in, scaled to preview size.
// Videos shorter than five seconds yield no frame and the error is treated as
// a missing artifact by the caller.
func FFmpegThumbnailer(ffmpegPath string) ThumbnailFunc {
	return func(ctx context.Context, videoPath, thumbnailPath string) error {
		cmd := exec.CommandContext(ctx, ffmpegPath,
			"-y", "-loglevel", "error",
			"-ss", "00:00:05",
			"-i", videoPath,
			"-vframes", "1",
			"-q:v", "2",
			"-vf", "scale=320:240",
			thumbnailPath,
		)
		return cmd.Run()
	}
}
