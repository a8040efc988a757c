package email

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestSanitizeHeader(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean", "user@example.com", "user@example.com"},
		{"crlf injection", "user@example.com\r\nBcc: evil@example.com", "user@example.comBcc: evil@example.com"},
		{"control chars", "sub\x00ject\x7f", "subject"},
		{"utf8 preserved", "Visa Slot Update 🇫🇷", "Visa Slot Update 🇫🇷"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeHeader(tt.in); got != tt.want {
				t.Errorf("sanitizeHeader(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMockProviderRecords(t *testing.T) {
	m := NewMockProvider(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := m.Send(context.Background(), "a@example.com", "subject", "body"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	sent := m.Sent()
	if len(sent) != 1 || sent[0].To != "a@example.com" || sent[0].Subject != "subject" {
		t.Errorf("unexpected captured mail: %+v", sent)
	}
}
