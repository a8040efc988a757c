// Package email sends notification emails via pluggable providers.
package email

import (
	"context"
	"strings"
)

// Provider is an email sending implementation.
type Provider interface {
	// Send sends a plain-text email to a single recipient.
	Send(ctx context.Context, to, subject, body string) error
}

// sanitizeHeader removes newlines and control characters to prevent header
// injection. RFC 5322 headers are newline-delimited, so any newline in a
// header value allows an attacker to inject arbitrary headers or body
// content.
func sanitizeHeader(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}
