package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"visaslot-notifier/pkg/monitor"
)

const subscriberPrefix = "subscriber-"

// gcsStore keeps one JSON object per target (upserted each cycle) plus
// subscriber records maintained out-of-band under subscriberPrefix.
type gcsStore struct {
	client *storage.Client
	bucket string
	logger *slog.Logger
}

func openGCS(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs storage requires a bucket")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &gcsStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

func (s *gcsStore) Close() error {
	return s.client.Close()
}

func (s *gcsStore) LastSnapshot(ctx context.Context, targetID string) (*monitor.Snapshot, error) {
	key := targetKey(targetID)
	if key == "" {
		return nil, fmt.Errorf("invalid target id %q", targetID)
	}

	data, err := s.read(ctx, key)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap monitor.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *gcsStore) SaveSnapshot(ctx context.Context, snap *monitor.Snapshot) error {
	key := targetKey(snap.TargetID)
	if key == "" {
		return fmt.Errorf("invalid target id %q", snap.TargetID)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write snapshot: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close snapshot writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying snapshot save after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	s.logger.Info("Snapshot saved", "key", key, "target", snap.TargetID, "countries", len(snap.Countries), "error_snapshot", snap.Error != "")
	return nil
}

func (s *gcsStore) Subscribers(ctx context.Context, targetID, country string) ([]monitor.Subscriber, error) {
	var subs []monitor.Subscriber

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: subscriberPrefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate subscribers: %w", err)
		}

		data, err := s.read(ctx, attrs.Name)
		if err != nil {
			s.logger.Warn("Failed to load subscriber record", "key", attrs.Name, "error", err)
			continue
		}

		var sub monitor.Subscriber
		if err := json.Unmarshal(data, &sub); err != nil {
			s.logger.Warn("Malformed subscriber record", "key", attrs.Name, "error", err)
			continue
		}
		if sub.TargetID != targetID || !watchesCountry(sub, country) {
			continue
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (s *gcsStore) CleanupOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().Add(-age)
	removed := 0

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: "snapshot-"})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return removed, fmt.Errorf("iterate snapshots: %w", err)
		}
		if !attrs.Updated.Before(cutoff) {
			continue
		}
		if err := s.client.Bucket(s.bucket).Object(attrs.Name).Delete(ctx); err != nil {
			s.logger.Warn("Failed to delete stale snapshot", "key", attrs.Name, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("Stale snapshots removed", "count", removed, "cutoff", cutoff.Format(time.RFC3339))
	}
	return removed, nil
}

func (s *gcsStore) read(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(errNotFound)
				}
				return fmt.Errorf("open reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read object: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying object read after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, errNotFound
		}
		return nil, fmt.Errorf("read after retries: %w", err)
	}
	return data, nil
}
