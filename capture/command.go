package capture

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"recorder-agent/config"
)

// LaunchRequest describes one capture unit: two subprocess command lines and
// the artifact paths they write. The command lines are opaque to the
// supervisor, so collaborators (and tests) can substitute any engine.
type LaunchRequest struct {
	SessionID uuid.UUID

	VideoCommand []string
	AudioCommand []string

	VideoPath      string
	AudioPath      string
	TranscriptPath string
}

// BuildLaunchRequest assembles the default ffmpeg command pair from the
// configured display and audio endpoints. The video subprocess grabs the
// screen together with the routed audio; the audio subprocess captures the
// routed audio alone for the transcription engine.
func BuildLaunchRequest(cfg config.Capture, sessionId uuid.UUID, startedAt time.Time) LaunchRequest {
	stamp := startedAt.Format("20060102_150405")
	videoPath := filepath.Join(cfg.OutputDir, fmt.Sprintf("meeting_%s.mkv", stamp))
	audioPath := filepath.Join(cfg.OutputDir, fmt.Sprintf("meeting_%s_audio.ogg", stamp))
	transcriptPath := filepath.Join(cfg.OutputDir, fmt.Sprintf("meeting_%s_transcript.txt", stamp))

	videoCommand := []string{
		cfg.FFmpegPath, "-y", "-loglevel", "error",
		"-thread_queue_size", "512", "-fflags", "nobuffer",
		"-f", cfg.VideoFormat,
		"-framerate", fmt.Sprintf("%d", cfg.FrameRate),
		"-video_size", cfg.VideoSize,
		"-i", cfg.VideoInput,
		"-thread_queue_size", "512",
		"-f", cfg.AudioFormat, "-i", cfg.AudioEndpoint,
		"-vf", "scale=1280:-1",
		"-filter:a", "highpass=f=120,lowpass=f=12000,loudnorm=I=-14:LRA=10:TP=-1.5",
		"-c:v", "libx265", "-preset", "fast", "-crf", "32", "-pix_fmt", "yuv420p",
		"-c:a", "libopus", "-b:a", "64k", "-ac", "1", "-ar", "48000",
		"-avoid_negative_ts", "make_zero",
		videoPath,
	}

	audioCommand := []string{
		cfg.FFmpegPath, "-y", "-loglevel", "error",
		"-f", cfg.AudioFormat, "-i", cfg.AudioEndpoint,
		"-ac", "1", "-ar", "16000",
		"-c:a", "libopus", "-b:a", "32k",
		audioPath,
	}

	return LaunchRequest{
		SessionID:      sessionId,
		VideoCommand:   videoCommand,
		AudioCommand:   audioCommand,
		VideoPath:      videoPath,
		AudioPath:      audioPath,
		TranscriptPath: transcriptPath,
	}
}
