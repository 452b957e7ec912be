package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesFileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	raw := `
app:
  environment: develop
  hostname: agent-01
server:
  port: "5000"
minio:
  url: localhost:9000
  access_id: test-access
  secret_access_key: test-secret
  secure: false
  bucket: recordings
  region: local
upload:
  public_base_url: https://cdn.local
webhook:
  url: https://backend.local/webhook
  token: sekret
remote:
  server_url: ws://backend.local/ws
user:
  username: alice
  email: alice@example.com
database_path: instance/recordings.db
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.App.Hostname != "agent-01" {
		t.Fatalf("hostname = %s, want agent-01", cfg.App.Hostname)
	}
	if cfg.Server.HttpPort != "5000" {
		t.Fatalf("port = %s, want 5000", cfg.Server.HttpPort)
	}
	if cfg.Upload.Bucket != "recordings" || cfg.Upload.Region != "local" {
		t.Fatalf("storage config not mapped: %+v", cfg.Upload)
	}
	if cfg.Webhook.Token != "sekret" {
		t.Fatalf("webhook token not mapped")
	}
	if cfg.Remote.ServerURL != "ws://backend.local/ws" {
		t.Fatalf("remote url not mapped")
	}
	if cfg.Storage == nil {
		t.Fatalf("storage client not constructed")
	}

	// Defaults for everything the file leaves out.
	if cfg.Session.GracefulStopTimeout != 15*time.Second {
		t.Fatalf("graceful stop timeout = %v, want 15s", cfg.Session.GracefulStopTimeout)
	}
	if cfg.Session.HardCap != 3*time.Hour {
		t.Fatalf("hard cap = %v, want 3h", cfg.Session.HardCap)
	}
	if cfg.Upload.MaxAttempts != 5 {
		t.Fatalf("max attempts = %d, want 5", cfg.Upload.MaxAttempts)
	}
	wantLadder := []time.Duration{5 * time.Minute, 15 * time.Minute, 30 * time.Minute, time.Hour, 2 * time.Hour}
	if len(cfg.Upload.RetryDelays) != len(wantLadder) {
		t.Fatalf("retry ladder = %v, want %v", cfg.Upload.RetryDelays, wantLadder)
	}
	for i, d := range wantLadder {
		if cfg.Upload.RetryDelays[i] != d {
			t.Fatalf("retry ladder[%d] = %v, want %v", i, cfg.Upload.RetryDelays[i], d)
		}
	}
	if cfg.Capture.LaunchTimeout != 3*time.Second {
		t.Fatalf("launch timeout = %v, want 3s", cfg.Capture.LaunchTimeout)
	}
	if cfg.Remote.StatusInterval != 5*time.Second {
		t.Fatalf("status interval = %v, want 5s", cfg.Remote.StatusInterval)
	}
}
