// Package cycle drives the monitoring loop: a single-flight orchestrator
// on top of a batching executor that recycles one extraction session.
package cycle

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"visaslot-notifier/detect"
	"visaslot-notifier/extract"
	"visaslot-notifier/notify"
	"visaslot-notifier/pkg/monitor"
)

// SessionManager is the slice of the extraction session lifecycle the
// executor drives.
type SessionManager interface {
	Acquire(ctx context.Context) error
	Check(ctx context.Context, target monitor.Target) (*monitor.Snapshot, error)
	Release(ctx context.Context)
}

// Store is the slice of the snapshot store the executor uses.
type Store interface {
	LastSnapshot(ctx context.Context, targetID string) (*monitor.Snapshot, error)
	SaveSnapshot(ctx context.Context, snap *monitor.Snapshot) error
}

// Dispatcher fans detected changes out to subscribers.
type Dispatcher interface {
	Dispatch(ctx context.Context, target monitor.Target, events []monitor.ChangeEvent) notify.Result
}

// Outcome is the per-target result of one executor run.
type Outcome struct {
	Target   monitor.Target
	Snapshot *monitor.Snapshot // nil when the target's batch was skipped
	Events   int
	Err      error
}

// Executor processes targets in fixed-size batches, all sharing one
// extraction session that is recycled between batches. Targets within a
// batch run strictly in order; a broken session costs at most one batch.
type Executor struct {
	sessions   SessionManager
	store      Store
	dispatcher Dispatcher
	logger     *slog.Logger
	limiter    *rate.Limiter
	now        func() time.Time

	batchSize         int
	reacquireAttempts int
	reacquireDelay    time.Duration
}

// ExecutorConfig holds executor tunables; zero values get defaults.
type ExecutorConfig struct {
	Sessions   SessionManager
	Store      Store
	Dispatcher Dispatcher
	Logger     *slog.Logger

	BatchSize         int           // default 5
	ReacquireAttempts int           // default 2
	ReacquireDelay    time.Duration // default 2s
	TargetDelay       time.Duration // default 2s between targets
	Now               func() time.Time
}

// NewExecutor creates a batch executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.ReacquireAttempts <= 0 {
		cfg.ReacquireAttempts = 2
	}
	if cfg.ReacquireDelay <= 0 {
		cfg.ReacquireDelay = 2 * time.Second
	}
	if cfg.TargetDelay <= 0 {
		cfg.TargetDelay = 2 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Executor{
		sessions:          cfg.Sessions,
		store:             cfg.Store,
		dispatcher:        cfg.Dispatcher,
		logger:            cfg.Logger,
		limiter:           rate.NewLimiter(rate.Every(cfg.TargetDelay), 1),
		now:               cfg.Now,
		batchSize:         cfg.BatchSize,
		reacquireAttempts: cfg.ReacquireAttempts,
		reacquireDelay:    cfg.ReacquireDelay,
	}
}

// Run processes all targets in configured order and returns one outcome per
// target. A single target's failure never aborts the run; a failed session
// acquisition skips only its batch.
func (e *Executor) Run(ctx context.Context, targets []monitor.Target) []Outcome {
	outcomes := make([]Outcome, 0, len(targets))
	months := monitor.TrackedMonths(e.now())

	for start := 0; start < len(targets); start += e.batchSize {
		end := min(start+e.batchSize, len(targets))
		batch := targets[start:end]

		e.logger.Info("Batch starting",
			"batch", start/e.batchSize+1,
			"targets", len(batch),
			"months", months)

		if err := e.sessions.Acquire(ctx); err != nil {
			e.logger.Error("Session acquisition failed, skipping batch",
				"batch", start/e.batchSize+1,
				"error", err)
			// A degraded leftover would also block the next batch's acquire.
			e.sessions.Release(ctx)
			for _, target := range batch {
				outcomes = append(outcomes, Outcome{Target: target, Err: err})
			}
			continue
		}

		for _, target := range batch {
			if err := e.limiter.Wait(ctx); err != nil {
				outcomes = append(outcomes, Outcome{Target: target, Err: err})
				continue
			}
			outcomes = append(outcomes, e.processTarget(ctx, target, months))
		}

		// Recycling the session bounds peak resource usage, trading a
		// re-open per batch for memory stability.
		e.sessions.Release(ctx)
	}
	return outcomes
}

// processTarget checks one target, diffs against the stored reading,
// dispatches notifications, and persists the new snapshot.
func (e *Executor) processTarget(ctx context.Context, target monitor.Target, months []string) Outcome {
	snap, err := e.checkWithRecovery(ctx, target)
	if err != nil {
		snap = monitor.ErrorSnapshot(target, err, e.now())
		e.saveSnapshot(ctx, snap)
		return Outcome{Target: target, Snapshot: snap, Err: err}
	}

	events := e.detectChanges(ctx, target, snap, months)
	var sent notify.Result
	if len(events) > 0 {
		sent = e.dispatcher.Dispatch(ctx, target, events)
	}

	e.saveSnapshot(ctx, snap)

	e.logger.Info("Target processed",
		"target", target.ID,
		"countries", len(snap.Countries),
		"events", len(events),
		"emails_sent", sent.EmailsSent,
		"sms_sent", sent.SMSSent)
	return Outcome{Target: target, Snapshot: snap, Events: len(events)}
}

// checkWithRecovery runs a check, re-acquiring the session a bounded number
// of times on session-level failures. Target-level failures are returned
// as-is; they would fail the same way on a fresh session.
func (e *Executor) checkWithRecovery(ctx context.Context, target monitor.Target) (*monitor.Snapshot, error) {
	snap, err := e.sessions.Check(ctx, target)
	for attempt := 1; err != nil && attempt <= e.reacquireAttempts; attempt++ {
		if !extract.IsSessionError(err) {
			return nil, err
		}

		e.logger.Warn("Session-level failure, re-acquiring",
			"target", target.ID,
			"attempt", attempt,
			"max_attempts", e.reacquireAttempts,
			"error", err)

		e.sessions.Release(ctx)
		select {
		case <-time.After(e.reacquireDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if err = e.sessions.Acquire(ctx); err != nil {
			continue
		}
		snap, err = e.sessions.Check(ctx, target)
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// detectChanges loads the stored reading and diffs the new snapshot against
// it. Store failures and stored error snapshots both skip detection; a
// failed read must not masquerade as a brand-new target.
func (e *Executor) detectChanges(ctx context.Context, target monitor.Target, snap *monitor.Snapshot, months []string) []monitor.ChangeEvent {
	previous, err := e.store.LastSnapshot(ctx, target.ID)
	if err != nil {
		e.logger.Error("Failed to load previous snapshot, skipping change detection",
			"target", target.ID,
			"error", err)
		return nil
	}
	if previous != nil && previous.Error != "" {
		e.logger.Info("Previous snapshot was an error, skipping change detection",
			"target", target.ID)
		return nil
	}
	return detect.Detect(target, snap, previous, months)
}

func (e *Executor) saveSnapshot(ctx context.Context, snap *monitor.Snapshot) {
	if err := e.store.SaveSnapshot(ctx, snap); err != nil {
		e.logger.Error("Failed to save snapshot",
			"target", snap.TargetID,
			"error", err)
	}
}
