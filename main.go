// Package main runs the visa slot notifier: a service that periodically
// checks visa appointment availability pages and notifies subscribers by
// email and SMS when availability improves.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"visaslot-notifier/config"
	"visaslot-notifier/cycle"
	"visaslot-notifier/email"
	"visaslot-notifier/extract"
	"visaslot-notifier/notify"
	"visaslot-notifier/server"
	"visaslot-notifier/sms"
	"visaslot-notifier/storage"
	"visaslot-notifier/webhook"
)

func main() {
	ctx := context.Background()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfgPath := os.Getenv("CONFIG_FILE")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("Failed to load configuration", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	logger.Info("Configuration loaded",
		"path", cfgPath,
		"targets", len(cfg.Targets),
		"check_interval", cfg.CheckInterval.String(),
		"storage_driver", cfg.Storage.Driver)

	store, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close storage", "error", err)
		}
	}()

	engine := extract.NewWebEngine(cfg.BaseURL, cfg.CheckTimeout, logger)
	sessions := extract.NewManager(extract.ManagerConfig{
		Engine:       engine,
		Logger:       logger,
		OpenTimeout:  cfg.OpenTimeout,
		FetchTimeout: cfg.CheckTimeout,
	})

	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Source: store,
		Email:  buildEmailProvider(ctx, cfg, logger),
		SMS:    buildSMSProvider(cfg, logger),
		Logger: logger,
	})

	executor := cycle.NewExecutor(cycle.ExecutorConfig{
		Sessions:          sessions,
		Store:             store,
		Dispatcher:        dispatcher,
		Logger:            logger,
		BatchSize:         cfg.BatchSize,
		ReacquireAttempts: cfg.ReacquireAttempts,
		ReacquireDelay:    cfg.ReacquireDelay,
		TargetDelay:       cfg.TargetDelay,
	})

	orchestrator := cycle.NewOrchestrator(cycle.OrchestratorConfig{
		Executor:   executor,
		Sessions:   sessions,
		Store:      store,
		Webhook:    webhook.New(cfg.WebhookURL, logger),
		Targets:    cfg.Targets,
		StaleAfter: cfg.StaleAfter,
		Retention:  cfg.Retention,
		Logger:     logger,
	})

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every "+cfg.CheckInterval.String(), func() {
		orchestrator.RunCycle(ctx)
	}); err != nil {
		logger.Error("Failed to schedule cycles", "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// First cycle runs immediately rather than waiting out the interval.
	go orchestrator.RunCycle(ctx)

	srv := server.New(&server.Config{Cycler: orchestrator, Logger: logger})
	if err := srv.ListenAndServe(cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// buildEmailProvider selects the email transport from config. Anything
// misconfigured falls back to the mock provider so the monitoring loop
// still runs in development.
func buildEmailProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) email.Provider {
	switch cfg.Email.Provider {
	case "gmail":
		service, err := initGmailService(ctx)
		if err != nil {
			logger.Warn("Failed to initialize Gmail service, using mock email", "error", err)
			return email.NewMockProvider(logger)
		}
		logger.Info("Using Gmail email provider")
		return email.NewGmailProvider(service, logger)
	case "smtp":
		if cfg.Email.Password == "" {
			logger.Warn("SMTP_PASSWORD not set, using mock email")
			return email.NewMockProvider(logger)
		}
		logger.Info("Using SMTP email provider", "host", cfg.Email.SMTPHost)
		return email.NewSMTPProvider(cfg.Email.SMTPHost, cfg.Email.SMTPPort,
			cfg.Email.Username, cfg.Email.Password, cfg.Email.From, logger)
	default:
		logger.Info("Using mock email provider")
		return email.NewMockProvider(logger)
	}
}

// buildSMSProvider selects the SMS transport from config.
func buildSMSProvider(cfg *config.Config, logger *slog.Logger) sms.Provider {
	switch cfg.SMS.Provider {
	case "twilio":
		if cfg.SMS.AccountSID == "" || cfg.SMS.AuthToken == "" {
			logger.Warn("Twilio credentials incomplete, using mock SMS")
			return sms.NewMockProvider(logger)
		}
		logger.Info("Using Twilio SMS provider")
		return sms.NewTwilioProvider(cfg.SMS.AccountSID, cfg.SMS.AuthToken, cfg.SMS.FromNumber, logger)
	default:
		logger.Info("Using mock SMS provider")
		return sms.NewMockProvider(logger)
	}
}

// initGmailService builds a Gmail client from explicit credentials or, on
// GCP, Application Default Credentials.
func initGmailService(ctx context.Context) (*gmail.Service, error) {
	credsJSON := os.Getenv("GOOGLE_CREDENTIALS_JSON")
	if credsJSON != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}
	if onGCP(ctx) {
		return gmail.NewService(ctx)
	}
	return nil, errors.New("GOOGLE_CREDENTIALS_JSON required when not running on GCP")
}

// onGCP checks for a GCP environment by querying the metadata server.
func onGCP(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"http://metadata.google.internal/computeMetadata/v1/project/project-id", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}
