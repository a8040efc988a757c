package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"visaslot-notifier/pkg/monitor"
)

// localStore is the development backend: one JSON file per target plus a
// subscribers.json roster, all under a single directory.
type localStore struct {
	dir    string
	logger *slog.Logger
}

func openLocal(cfg Config, logger *slog.Logger) (Store, error) {
	dir := cfg.Path
	if dir == "" {
		dir = "./data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create local storage directory: %w", err)
	}
	logger.Info("Using local storage", "path", dir)
	return &localStore{dir: dir, logger: logger}, nil
}

func (s *localStore) Close() error { return nil }

func (s *localStore) LastSnapshot(_ context.Context, targetID string) (*monitor.Snapshot, error) {
	key := targetKey(targetID)
	if key == "" {
		return nil, fmt.Errorf("invalid target id %q", targetID)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap monitor.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *localStore) SaveSnapshot(_ context.Context, snap *monitor.Snapshot) error {
	key := targetKey(snap.TargetID)
	if key == "" {
		return fmt.Errorf("invalid target id %q", snap.TargetID)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, key), data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	s.logger.Debug("Snapshot saved", "key", key, "target", snap.TargetID)
	return nil
}

func (s *localStore) Subscribers(_ context.Context, targetID, country string) ([]monitor.Subscriber, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "subscribers.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read subscribers: %w", err)
	}

	var all []monitor.Subscriber
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("unmarshal subscribers: %w", err)
	}

	var subs []monitor.Subscriber
	for _, sub := range all {
		if sub.TargetID == targetID && watchesCountry(sub, country) {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func (s *localStore) CleanupOlderThan(_ context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().Add(-age)
	removed := 0

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read local storage directory: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "snapshot-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Failed to delete stale snapshot", "file", name, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
