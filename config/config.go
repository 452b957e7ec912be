package config

import (
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
)

type Config struct {
	App          App           `yaml:"app"`
	Server       Server        `yaml:"server"`
	Capture      Capture       `yaml:"capture"`
	Session      Session       `yaml:"session"`
	Upload       Upload        `yaml:"upload"`
	Webhook      Webhook       `yaml:"webhook"`
	Remote       Remote        `yaml:"remote"`
	User         User          `yaml:"user"`
	DatabasePath string        `yaml:"database_path"`
	Storage      *minio.Client `yaml:"storage"`
}

type App struct {
	Environment string `yaml:"environment"`
	Hostname    string `yaml:"hostname"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
}

// Capture holds the opaque device configuration supplied by the external
// display/audio enumeration collaborator, plus subprocess supervision knobs.
type Capture struct {
	FFmpegPath    string        `yaml:"ffmpeg_path"`
	VideoFormat   string        `yaml:"video_format"`   // grab backend, e.g. x11grab or gdigrab
	VideoInput    string        `yaml:"video_input"`    // display, e.g. :0.0+0,0
	VideoSize     string        `yaml:"video_size"`     // e.g. 1920x1080
	FrameRate     int           `yaml:"frame_rate"`
	AudioFormat   string        `yaml:"audio_format"`   // e.g. pulse or dshow
	AudioEndpoint string        `yaml:"audio_endpoint"` // routed audio device name
	OutputDir     string        `yaml:"output_dir"`
	LaunchTimeout time.Duration `yaml:"launch_timeout"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

type Session struct {
	GracefulStopTimeout time.Duration `yaml:"graceful_stop_timeout"`
	PrematureThreshold  time.Duration `yaml:"premature_threshold"`
	HardCap             time.Duration `yaml:"hard_cap"`
	WatchdogInterval    time.Duration `yaml:"watchdog_interval"`
}

type Upload struct {
	Bucket        string          `yaml:"bucket"`
	Region        string          `yaml:"region"`
	PublicBaseURL string          `yaml:"public_base_url"`
	MaxAttempts   int             `yaml:"max_attempts"`
	RetryDelays   []time.Duration `yaml:"retry_delays"`
	ScanInterval  time.Duration   `yaml:"scan_interval"`
	Workers       int             `yaml:"workers"`
}

type Webhook struct {
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	Timeout        time.Duration `yaml:"timeout"`
	ResendInterval time.Duration `yaml:"resend_interval"`
}

type Remote struct {
	ServerURL            string        `yaml:"server_url"`
	StatusInterval       time.Duration `yaml:"status_interval"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	ReconnectMaxInterval time.Duration `yaml:"reconnect_max_interval"`
	StaleAfter           time.Duration `yaml:"stale_after"`
}

type User struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
}

func setDefaults() {
	viper.SetDefault("capture.ffmpeg_path", "ffmpeg")
	viper.SetDefault("capture.video_format", "x11grab")
	viper.SetDefault("capture.video_input", ":0.0")
	viper.SetDefault("capture.video_size", "1920x1080")
	viper.SetDefault("capture.frame_rate", 5)
	viper.SetDefault("capture.audio_format", "pulse")
	viper.SetDefault("capture.audio_endpoint", "default")
	viper.SetDefault("capture.output_dir", "recordings")
	viper.SetDefault("capture.launch_timeout", "3s")
	viper.SetDefault("capture.poll_interval", "2s")

	viper.SetDefault("session.graceful_stop_timeout", "15s")
	viper.SetDefault("session.premature_threshold", "60s")
	viper.SetDefault("session.hard_cap", "3h")
	viper.SetDefault("session.watchdog_interval", "30s")

	viper.SetDefault("upload.max_attempts", 5)
	viper.SetDefault("upload.retry_delays", []string{"5m", "15m", "30m", "1h", "2h"})
	viper.SetDefault("upload.scan_interval", "5m")
	viper.SetDefault("upload.workers", 3)

	viper.SetDefault("webhook.timeout", "30s")
	viper.SetDefault("webhook.resend_interval", "5m")

	viper.SetDefault("remote.status_interval", "5s")
	viper.SetDefault("remote.heartbeat_interval", "30s")
	viper.SetDefault("remote.reconnect_max_interval", "1m")
	viper.SetDefault("remote.stale_after", "60s")

	viper.SetDefault("database_path", "instance/recordings.db")
	viper.SetDefault("server.port", "5000")
}

func Load(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	setDefaults()
	err := viper.ReadInConfig()
	if err != nil {
		return nil, err
	}

	minioClient, err := minio.New(viper.GetString("minio.url"), &minio.Options{
		Creds:  credentials.NewStaticV4(viper.GetString("minio.access_id"), viper.GetString("minio.secret_access_key"), ""),
		Secure: viper.GetBool("minio.secure"),
	})
	if err != nil {
		return nil, err
	}

	retryDelays := make([]time.Duration, 0)
	for _, raw := range viper.GetStringSlice("upload.retry_delays") {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, err
		}
		retryDelays = append(retryDelays, d)
	}

	return &Config{
		App: App{
			Environment: viper.GetString("app.environment"),
			Hostname:    viper.GetString("app.hostname"),
		},
		Server: Server{
			HttpPort: viper.GetString("server.port"),
		},
		Capture: Capture{
			FFmpegPath:    viper.GetString("capture.ffmpeg_path"),
			VideoFormat:   viper.GetString("capture.video_format"),
			VideoInput:    viper.GetString("capture.video_input"),
			VideoSize:     viper.GetString("capture.video_size"),
			FrameRate:     viper.GetInt("capture.frame_rate"),
			AudioFormat:   viper.GetString("capture.audio_format"),
			AudioEndpoint: viper.GetString("capture.audio_endpoint"),
			OutputDir:     viper.GetString("capture.output_dir"),
			LaunchTimeout: viper.GetDuration("capture.launch_timeout"),
			PollInterval:  viper.GetDuration("capture.poll_interval"),
		},
		Session: Session{
			GracefulStopTimeout: viper.GetDuration("session.graceful_stop_timeout"),
			PrematureThreshold:  viper.GetDuration("session.premature_threshold"),
			HardCap:             viper.GetDuration("session.hard_cap"),
			WatchdogInterval:    viper.GetDuration("session.watchdog_interval"),
		},
		Upload: Upload{
			Bucket:        viper.GetString("minio.bucket"),
			Region:        viper.GetString("minio.region"),
			PublicBaseURL: viper.GetString("upload.public_base_url"),
			MaxAttempts:   viper.GetInt("upload.max_attempts"),
			RetryDelays:   retryDelays,
			ScanInterval:  viper.GetDuration("upload.scan_interval"),
			Workers:       viper.GetInt("upload.workers"),
		},
		Webhook: Webhook{
			URL:            viper.GetString("webhook.url"),
			Token:          viper.GetString("webhook.token"),
			Timeout:        viper.GetDuration("webhook.timeout"),
			ResendInterval: viper.GetDuration("webhook.resend_interval"),
		},
		Remote: Remote{
			ServerURL:            viper.GetString("remote.server_url"),
			StatusInterval:       viper.GetDuration("remote.status_interval"),
			HeartbeatInterval:    viper.GetDuration("remote.heartbeat_interval"),
			ReconnectMaxInterval: viper.GetDuration("remote.reconnect_max_interval"),
			StaleAfter:           viper.GetDuration("remote.stale_after"),
		},
		User: User{
			Username: viper.GetString("user.username"),
			Email:    viper.GetString("user.email"),
		},
		DatabasePath: viper.GetString("database_path"),
		Storage:      minioClient,
	}, nil
}
