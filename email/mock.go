package email

import (
	"context"
	"log/slog"
	"sync"
)

// MockProvider logs emails instead of sending them and records them for
// inspection in tests.
type MockProvider struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []MockMessage
}

// MockMessage is one captured email.
type MockMessage struct {
	To      string
	Subject string
	Body    string
}

// NewMockProvider creates a new mock email provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Send logs and records the email instead of sending it.
func (m *MockProvider) Send(_ context.Context, to, subject, body string) error {
	m.logger.Info("MOCK EMAIL",
		"to", to,
		"subject", subject,
		"body_length", len(body))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, MockMessage{To: to, Subject: subject, Body: body})
	return nil
}

// Sent returns a copy of all captured emails.
func (m *MockProvider) Sent() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
