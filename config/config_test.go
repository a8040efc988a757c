package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
base_url: https://visaslots.example.com
port: "9090"
check_interval: 10m
stale_after: 15m
retention: 720h
batch_size: 3
reacquire_attempts: 4
target_delay: 1s
webhook_url: https://hooks.example.com/monitor

storage:
  driver: sqlite
  path: /var/lib/monitor/monitor.db

email:
  provider: smtp
  from: alerts@example.com
  username: alerts@example.com

sms:
  provider: twilio
  account_sid: AC123
  from_number: "+15550009999"

targets:
  - country: India
    cities:
      - New Delhi
      - Mumbai
  - country: Canada
    cities:
      - Toronto
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("SMTP_PASSWORD", "app-password")
	t.Setenv("TWILIO_AUTH_TOKEN", "token-123")

	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "9090" || cfg.BaseURL != "https://visaslots.example.com" {
		t.Errorf("unexpected base settings: %+v", cfg)
	}
	if cfg.CheckInterval != 10*time.Minute || cfg.StaleAfter != 15*time.Minute {
		t.Errorf("durations not parsed: interval=%v stale=%v", cfg.CheckInterval, cfg.StaleAfter)
	}
	if cfg.Retention != 720*time.Hour {
		t.Errorf("retention = %v", cfg.Retention)
	}
	if cfg.BatchSize != 3 || cfg.ReacquireAttempts != 4 {
		t.Errorf("batch settings: size=%d attempts=%d", cfg.BatchSize, cfg.ReacquireAttempts)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "/var/lib/monitor/monitor.db" {
		t.Errorf("storage config: %+v", cfg.Storage)
	}
	if cfg.Email.Password != "app-password" {
		t.Error("SMTP password should come from the environment")
	}
	if cfg.SMS.AuthToken != "token-123" {
		t.Error("Twilio auth token should come from the environment")
	}

	// Roster order is processing order: config order preserved.
	wantIDs := []string{"New Delhi", "Mumbai", "Toronto"}
	if len(cfg.Targets) != len(wantIDs) {
		t.Fatalf("got %d targets, want %d", len(cfg.Targets), len(wantIDs))
	}
	for i, id := range wantIDs {
		if cfg.Targets[i].ID != id {
			t.Errorf("target %d = %s, want %s", i, cfg.Targets[i].ID, id)
		}
	}
	if cfg.Targets[0].URL != "https://visaslots.example.com/in/new-delhi/tourism" {
		t.Errorf("derived URL = %s", cfg.Targets[0].URL)
	}
	if cfg.Targets[2].Country != "Canada" {
		t.Errorf("target country = %s", cfg.Targets[2].Country)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "targets:\n  - country: India\n    cities: [Mumbai]\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %s", cfg.BaseURL)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %s", cfg.Port)
	}
	if cfg.CheckInterval != 5*time.Minute || cfg.StaleAfter != 5*time.Minute {
		t.Errorf("interval defaults: %v / %v", cfg.CheckInterval, cfg.StaleAfter)
	}
	if cfg.BatchSize != 5 || cfg.ReacquireAttempts != 2 {
		t.Errorf("batch defaults: size=%d attempts=%d", cfg.BatchSize, cfg.ReacquireAttempts)
	}
	if cfg.OpenTimeout != 30*time.Second || cfg.CheckTimeout != 120*time.Second {
		t.Errorf("timeout defaults: %v / %v", cfg.OpenTimeout, cfg.CheckTimeout)
	}
	if cfg.Retention != 0 {
		t.Errorf("retention should default to disabled, got %v", cfg.Retention)
	}
	if cfg.Storage.Driver != "local" {
		t.Errorf("storage driver = %s", cfg.Storage.Driver)
	}
	if cfg.Email.Provider != "mock" || cfg.SMS.Provider != "mock" {
		t.Errorf("provider defaults: %s / %s", cfg.Email.Provider, cfg.SMS.Provider)
	}
	if cfg.Email.SMTPPort != 587 {
		t.Errorf("SMTP port default = %d", cfg.Email.SMTPPort)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("STORAGE_DRIVER", "gcs")
	t.Setenv("STORAGE_BUCKET", "monitor-snapshots")

	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "7070" {
		t.Errorf("Port = %s, want env override", cfg.Port)
	}
	if cfg.Storage.Driver != "gcs" || cfg.Storage.Bucket != "monitor-snapshots" {
		t.Errorf("storage env overrides not applied: %+v", cfg.Storage)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "check_interval: soon\ntargets:\n  - country: India\n    cities: [Mumbai]\n"))
	if err == nil {
		t.Error("invalid duration should fail")
	}
}

func TestLoadRejectsEmptyRoster(t *testing.T) {
	_, err := Load(writeConfig(t, "port: \"8080\"\n"))
	if err == nil {
		t.Error("config without targets should fail")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}
