// Package extract owns the extraction engine boundary and the lifecycle
// of the single stateful extraction session used to read availability
// pages.
package extract

import (
	"context"

	"visaslot-notifier/pkg/monitor"
)

// Result is the tagged success payload of a per-target fetch: the parsed
// availability rows plus the countries listed as temporarily unavailable.
type Result struct {
	Countries   []monitor.CountryAvailability
	Unavailable []string
}

// Session is one stateful extraction resource. Sessions are owned
// exclusively by the Manager; nothing else may hold one across a
// suspension point.
type Session interface {
	Close(ctx context.Context) error
}

// Engine turns a target's page into structured availability data.
// Implementations classify failures as *SessionError (the session itself
// is unusable; retry by re-acquiring) or *TargetError (this target's
// content failed; not retryable within the cycle).
type Engine interface {
	Open(ctx context.Context) (Session, error)
	Fetch(ctx context.Context, session Session, target monitor.Target) (*Result, error)
}
