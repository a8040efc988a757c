package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"visaslot-notifier/pkg/monitor"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps full snapshot history per target, which makes
// LastSnapshot a simple newest-row lookup and retention a DELETE by age.
type sqliteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func openSQLite(cfg Config, logger *slog.Logger) (Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite storage requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logger.Warn("Failed to enable WAL mode", "error", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Warn("Failed to set busy timeout", "error", err)
	}

	st := &sqliteStore{db: db, logger: logger}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("Using sqlite storage", "path", cfg.Path)
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	schema, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(schema))
	return err
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) LastSnapshot(ctx context.Context, targetID string) (*monitor.Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM snapshots WHERE target_id = ? ORDER BY captured_at DESC, id DESC LIMIT 1`,
		targetID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last snapshot: %w", err)
	}

	var snap monitor.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *sqliteStore) SaveSnapshot(ctx context.Context, snap *monitor.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	capturedAt := snap.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots(target_id, captured_at, payload) VALUES(?, ?, ?)`,
		snap.TargetID, capturedAt.UTC().Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	s.logger.Debug("Snapshot saved", "target", snap.TargetID, "error_snapshot", snap.Error != "")
	return nil
}

func (s *sqliteStore) Subscribers(ctx context.Context, targetID, country string) ([]monitor.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT email, phone, target_id, country, plan, started_at
		 FROM subscribers
		 WHERE target_id = ? AND (? = '' OR country = '' OR country = ? COLLATE NOCASE)`,
		targetID, country, country,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("Failed to close subscriber rows", "error", closeErr)
		}
	}()

	var subs []monitor.Subscriber
	for rows.Next() {
		var sub monitor.Subscriber
		var email, phone, startedAt sql.NullString
		if err := rows.Scan(&email, &phone, &sub.TargetID, &sub.Country, &sub.Plan, &startedAt); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		sub.Email = email.String
		sub.Phone = phone.String
		if startedAt.Valid {
			t, parseErr := time.Parse(time.RFC3339Nano, startedAt.String)
			if parseErr != nil {
				s.logger.Warn("Malformed subscriber start date", "target", sub.TargetID, "value", startedAt.String)
				continue
			}
			sub.StartedAt = t
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return subs, nil
}

func (s *sqliteStore) CleanupOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().Add(-age).UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE captured_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete stale snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("Stale snapshots removed", "count", n)
	}
	return int(n), nil
}
