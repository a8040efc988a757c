package sms

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// TwilioProvider sends SMS via the Twilio Messages API.
type TwilioProvider struct {
	accountSID string
	authToken  string
	fromNumber string
	client     *http.Client
	logger     *slog.Logger
	endpoint   string
}

// NewTwilioProvider creates a new Twilio SMS provider.
func NewTwilioProvider(accountSID, authToken, fromNumber string, logger *slog.Logger) *TwilioProvider {
	return &TwilioProvider{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		endpoint:   fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", accountSID),
	}
}

// Send sends an SMS via the Twilio API.
func (t *TwilioProvider) Send(ctx context.Context, to, body string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.fromNumber)
	form.Set("Body", body)
	encoded := form.Encode()

	return retry.Do(
		func() error {
			t.logger.Info("Twilio API request starting",
				"method", "POST",
				"endpoint", "Messages.json",
				"to", to)

			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				t.endpoint, strings.NewReader(encoded))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}

			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.SetBasicAuth(t.accountSID, t.authToken)

			resp, err := t.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				t.logger.Warn("Twilio API request failed, will retry",
					"to", to,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					t.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
				t.logger.Warn("Twilio API returned non-2xx status",
					"status_code", resp.StatusCode,
					"to", to,
					"response", string(detail))
				if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					// Bad number or auth won't heal on retry.
					return retry.Unrecoverable(fmt.Errorf("HTTP %d", resp.StatusCode))
				}
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			t.logger.Info("Twilio API request completed",
				"endpoint", "Messages.json",
				"to", to,
				"duration_ms", duration.Milliseconds(),
				"status", "success")

			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			t.logger.Info("Retrying Twilio SMS send after error", "attempt", n, "error", err)
		}),
	)
}
