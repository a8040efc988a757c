// Package webhook pushes cycle results to an external receiver as a side
// channel alongside subscriber notifications.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"visaslot-notifier/pkg/monitor"
)

// Payload is the JSON body posted after each completed cycle.
type Payload struct {
	Timestamp time.Time           `json:"timestamp"`
	Results   []*monitor.Snapshot `json:"results"`
}

// Client posts cycle results to a configured URL. A client with an empty
// URL is valid and does nothing, so callers never need a nil check.
type Client struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// New creates a webhook client. An empty url disables pushes.
func New(url string, logger *slog.Logger) *Client {
	return &Client{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Enabled reports whether a receiver URL is configured.
func (c *Client) Enabled() bool { return c.url != "" }

// Push posts the cycle results. Failures are returned for logging but the
// webhook is best-effort: callers should not fail a cycle over it.
func (c *Client) Push(ctx context.Context, results []*monitor.Snapshot) error {
	if !c.Enabled() {
		return nil
	}

	body, err := json.Marshal(Payload{Timestamp: time.Now().UTC(), Results: results})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	return retry.Do(
		func() error {
			c.logger.Info("Webhook push starting", "url", c.url, "results", len(results))

			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := c.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				c.logger.Warn("Webhook push failed, will retry",
					"url", c.url,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				c.logger.Warn("Webhook receiver returned non-2xx status",
					"status_code", resp.StatusCode,
					"url", c.url)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			c.logger.Info("Webhook push completed",
				"url", c.url,
				"duration_ms", duration.Milliseconds(),
				"status", "success")

			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying webhook push after error", "attempt", n, "error", err)
		}),
	)
}
