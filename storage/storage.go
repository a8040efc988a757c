// Package storage persists availability snapshots and serves the
// read-only subscriber roster backing notification dispatch.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"visaslot-notifier/pkg/monitor"
)

// Store is the persistence API used by the monitoring core. Snapshots are
// upserted per target (the newest reading wins); subscribers are owned by
// the backing data and read-only from here.
type Store interface {
	// LastSnapshot returns the most recent snapshot for a target, or
	// (nil, nil) when none has been recorded yet.
	LastSnapshot(ctx context.Context, targetID string) (*monitor.Snapshot, error)
	// SaveSnapshot records a snapshot, error snapshots included, so the
	// history stays contiguous across failures.
	SaveSnapshot(ctx context.Context, snap *monitor.Snapshot) error
	// Subscribers returns subscribers watching the target, restricted to
	// those watching the given country or watching all countries. An
	// empty country returns every subscriber for the target.
	Subscribers(ctx context.Context, targetID, country string) ([]monitor.Subscriber, error)
	// CleanupOlderThan removes snapshot records older than age and
	// returns how many were removed.
	CleanupOlderThan(ctx context.Context, age time.Duration) (int, error)
	Close() error
}

// Config selects and parameterizes a store backend.
type Config struct {
	Driver string // "gcs", "sqlite", or "local"
	Bucket string // gcs: bucket name
	Path   string // sqlite: database file; local: directory
}

// Open initializes the configured store backend.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "gcs":
		return openGCS(ctx, cfg, logger)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, logger)
	case "", "local":
		return openLocal(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// ErrNotFound is returned internally by backends for missing objects;
// LastSnapshot converts it to (nil, nil).
var errNotFound = errors.New("storage: object doesn't exist")

// targetKey derives a stable object/file key from a target ID. Only a
// conservative character set survives, which also blocks path traversal
// through crafted IDs.
func targetKey(targetID string) string {
	slug := strings.ToLower(strings.TrimSpace(targetID))
	slug = strings.ReplaceAll(slug, " ", "-")
	var b strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return fmt.Sprintf("snapshot-%s.json", b.String())
}

// watchesCountry reports whether a subscriber record matches the country
// filter: an exact match or a watch-all subscription.
func watchesCountry(sub monitor.Subscriber, country string) bool {
	if country == "" || sub.Country == "" {
		return true
	}
	return strings.EqualFold(sub.Country, country)
}
