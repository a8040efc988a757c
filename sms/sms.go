// Package sms sends notification text messages via pluggable providers.
package sms

import "context"

// Provider is an SMS sending implementation.
type Provider interface {
	// Send sends a text message to a single phone number in E.164 form.
	Send(ctx context.Context, to, body string) error
}
