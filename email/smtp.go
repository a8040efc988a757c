package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// SMTPProvider sends emails through a plain SMTP relay with STARTTLS and
// password auth. Intended for Gmail app passwords and similar setups where
// API credentials are unavailable.
type SMTPProvider struct {
	host     string
	port     int
	username string
	password string
	fromAddr string
	logger   *slog.Logger
}

// NewSMTPProvider creates an SMTP email provider.
func NewSMTPProvider(host string, port int, username, password, fromAddr string, logger *slog.Logger) *SMTPProvider {
	if fromAddr == "" {
		fromAddr = username
	}
	return &SMTPProvider{
		host:     host,
		port:     port,
		username: username,
		password: password,
		fromAddr: fromAddr,
		logger:   logger,
	}
}

// Send sends an email over SMTP. smtp.SendMail upgrades to TLS via STARTTLS
// when the server advertises it, which both Gmail and Brevo relays do.
func (p *SMTPProvider) Send(ctx context.Context, to, subject, body string) error {
	to = sanitizeHeader(to)
	subject = sanitizeHeader(subject)

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", sanitizeHeader(p.fromAddr)))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", p.host, p.port)
	auth := smtp.PlainAuth("", p.username, p.password, p.host)

	return retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return retry.Unrecoverable(err)
			}

			p.logger.Info("SMTP send starting", "relay", addr, "to", to, "subject", subject)

			startTime := time.Now()
			err := smtp.SendMail(addr, auth, p.fromAddr, []string{to}, []byte(msg.String()))
			duration := time.Since(startTime)

			if err != nil {
				p.logger.Warn("SMTP send failed, will retry",
					"relay", addr,
					"to", to,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}

			p.logger.Info("SMTP send completed",
				"relay", addr,
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
			p.logger.Info("Retrying SMTP email send after error", "attempt", n, "error", err)
		}),
	)
}
