// Package config loads the service configuration: a YAML file for the
// target roster and tunables, with environment overrides for deployment
// settings and secrets.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"visaslot-notifier/pkg/monitor"
	"visaslot-notifier/storage"
)

// DefaultBaseURL is the availability site monitored when the config file
// does not name one.
const DefaultBaseURL = "https://visaslots.info"

// file is the raw YAML shape. Durations are strings so operators can write
// "5m" instead of nanosecond counts.
type file struct {
	BaseURL    string `yaml:"base_url"`
	Port       string `yaml:"port"`
	WebhookURL string `yaml:"webhook_url"`

	CheckInterval     string `yaml:"check_interval"`
	StaleAfter        string `yaml:"stale_after"`
	Retention         string `yaml:"retention"`
	BatchSize         int    `yaml:"batch_size"`
	ReacquireAttempts int    `yaml:"reacquire_attempts"`
	ReacquireDelay    string `yaml:"reacquire_delay"`
	TargetDelay       string `yaml:"target_delay"`
	OpenTimeout       string `yaml:"open_timeout"`
	CheckTimeout      string `yaml:"check_timeout"`

	Storage struct {
		Driver string `yaml:"driver"`
		Bucket string `yaml:"bucket"`
		Path   string `yaml:"path"`
	} `yaml:"storage"`

	Email struct {
		Provider string `yaml:"provider"` // gmail | smtp | mock
		From     string `yaml:"from"`
		SMTPHost string `yaml:"smtp_host"`
		SMTPPort int    `yaml:"smtp_port"`
		Username string `yaml:"username"`
	} `yaml:"email"`

	SMS struct {
		Provider   string `yaml:"provider"` // twilio | mock
		AccountSID string `yaml:"account_sid"`
		FromNumber string `yaml:"from_number"`
	} `yaml:"sms"`

	Targets []struct {
		Country string   `yaml:"country"`
		Cities  []string `yaml:"cities"`
	} `yaml:"targets"`
}

// EmailConfig selects and parameterizes the email provider. Password comes
// from the SMTP_PASSWORD env var, never the file.
type EmailConfig struct {
	Provider string
	From     string
	SMTPHost string
	SMTPPort int
	Username string
	Password string
}

// SMSConfig selects and parameterizes the SMS provider. AuthToken comes
// from the TWILIO_AUTH_TOKEN env var, never the file.
type SMSConfig struct {
	Provider   string
	AccountSID string
	AuthToken  string
	FromNumber string
}

// Config is the resolved service configuration.
type Config struct {
	BaseURL    string
	Port       string
	WebhookURL string

	CheckInterval     time.Duration
	StaleAfter        time.Duration
	Retention         time.Duration // 0 disables snapshot cleanup
	BatchSize         int
	ReacquireAttempts int
	ReacquireDelay    time.Duration
	TargetDelay       time.Duration
	OpenTimeout       time.Duration
	CheckTimeout      time.Duration

	Storage storage.Config
	Email   EmailConfig
	SMS     SMSConfig

	// Targets in roster order: config order is processing order.
	Targets []monitor.Target
}

// Load reads and resolves the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	var raw file
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := &Config{
		BaseURL:           firstNonEmpty(os.Getenv("BASE_URL"), raw.BaseURL, DefaultBaseURL),
		Port:              firstNonEmpty(os.Getenv("PORT"), raw.Port, "8080"),
		WebhookURL:        firstNonEmpty(os.Getenv("WEBHOOK_URL"), raw.WebhookURL),
		BatchSize:         raw.BatchSize,
		ReacquireAttempts: raw.ReacquireAttempts,
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.ReacquireAttempts <= 0 {
		cfg.ReacquireAttempts = 2
	}

	var err error
	if cfg.CheckInterval, err = parseDurationOrDefault("check_interval", raw.CheckInterval, 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.StaleAfter, err = parseDurationOrDefault("stale_after", raw.StaleAfter, 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Retention, err = parseDurationOrDefault("retention", raw.Retention, 0); err != nil {
		return nil, err
	}
	if cfg.ReacquireDelay, err = parseDurationOrDefault("reacquire_delay", raw.ReacquireDelay, 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.TargetDelay, err = parseDurationOrDefault("target_delay", raw.TargetDelay, 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.OpenTimeout, err = parseDurationOrDefault("open_timeout", raw.OpenTimeout, 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.CheckTimeout, err = parseDurationOrDefault("check_timeout", raw.CheckTimeout, 120*time.Second); err != nil {
		return nil, err
	}

	cfg.Storage = storage.Config{
		Driver: firstNonEmpty(os.Getenv("STORAGE_DRIVER"), raw.Storage.Driver, "local"),
		Bucket: firstNonEmpty(os.Getenv("STORAGE_BUCKET"), raw.Storage.Bucket),
		Path:   firstNonEmpty(os.Getenv("STORAGE_PATH"), raw.Storage.Path),
	}

	cfg.Email = EmailConfig{
		Provider: firstNonEmpty(raw.Email.Provider, "mock"),
		From:     raw.Email.From,
		SMTPHost: firstNonEmpty(raw.Email.SMTPHost, "smtp.gmail.com"),
		SMTPPort: raw.Email.SMTPPort,
		Username: firstNonEmpty(os.Getenv("SMTP_USERNAME"), raw.Email.Username),
		Password: os.Getenv("SMTP_PASSWORD"),
	}
	if cfg.Email.SMTPPort <= 0 {
		cfg.Email.SMTPPort = 587
	}

	cfg.SMS = SMSConfig{
		Provider:   firstNonEmpty(raw.SMS.Provider, "mock"),
		AccountSID: firstNonEmpty(os.Getenv("TWILIO_ACCOUNT_SID"), raw.SMS.AccountSID),
		AuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		FromNumber: firstNonEmpty(os.Getenv("TWILIO_FROM_NUMBER"), raw.SMS.FromNumber),
	}

	for _, group := range raw.Targets {
		for _, city := range group.Cities {
			city = strings.TrimSpace(city)
			if city == "" {
				continue
			}
			cfg.Targets = append(cfg.Targets, monitor.Target{
				ID:      city,
				Country: group.Country,
				URL:     monitor.TargetURL(cfg.BaseURL, city),
			})
		}
	}
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("config names no targets")
	}

	return cfg, nil
}

// parseDurationOrDefault parses a duration string, treating empty or zero
// as the default.
func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
