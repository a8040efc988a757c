package sms

import (
	"context"
	"log/slog"
	"sync"
)

// MockProvider logs text messages instead of sending them and records them
// for inspection in tests.
type MockProvider struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent []MockMessage
}

// MockMessage is one captured SMS.
type MockMessage struct {
	To   string
	Body string
}

// NewMockProvider creates a new mock SMS provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Send logs and records the message instead of sending it.
func (m *MockProvider) Send(_ context.Context, to, body string) error {
	m.logger.Info("MOCK SMS", "to", to, "body_length", len(body))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, MockMessage{To: to, Body: body})
	return nil
}

// Sent returns a copy of all captured messages.
func (m *MockProvider) Sent() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockMessage, len(m.sent))
	copy(out, m.sent)
	return out
}
