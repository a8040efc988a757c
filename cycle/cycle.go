package cycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"visaslot-notifier/pkg/monitor"
)

// Runner is the batch executor slice the orchestrator drives.
type Runner interface {
	Run(ctx context.Context, targets []monitor.Target) []Outcome
}

// Releaser is the emergency session teardown used on stale-lock recovery.
type Releaser interface {
	Release(ctx context.Context)
}

// Cleaner prunes old snapshot records after a completed cycle.
type Cleaner interface {
	CleanupOlderThan(ctx context.Context, age time.Duration) (int, error)
}

// Pusher posts combined cycle results to a side channel.
type Pusher interface {
	Enabled() bool
	Push(ctx context.Context, results []*monitor.Snapshot) error
}

// Status is a point-in-time view of the orchestrator for health endpoints.
type Status struct {
	Running   bool      `json:"running"`
	LastStart time.Time `json:"last_start,omitzero"`
	LastEnd   time.Time `json:"last_end,omitzero"`
}

// Orchestrator enforces single-flight cycles. At most one cycle runs at a
// time; an overlapping tick is dropped, and a cycle stuck past the
// staleness threshold is abandoned with its lock force-released.
type Orchestrator struct {
	executor   Runner
	sessions   Releaser
	store      Cleaner
	webhook    Pusher
	targets    []monitor.Target
	staleAfter time.Duration
	retention  time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu          sync.Mutex
	running     bool
	startedAt   time.Time
	lastStart   time.Time
	lastEnd     time.Time
	lastResults []*monitor.Snapshot
}

// OrchestratorConfig wires an Orchestrator. Webhook may be nil; a zero
// Retention disables cleanup.
type OrchestratorConfig struct {
	Executor   Runner
	Sessions   Releaser
	Store      Cleaner
	Webhook    Pusher
	Targets    []monitor.Target
	StaleAfter time.Duration // default 5m
	Retention  time.Duration // 0 = keep everything
	Logger     *slog.Logger
	Now        func() time.Time
}

// NewOrchestrator creates a cycle orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		executor:   cfg.Executor,
		sessions:   cfg.Sessions,
		store:      cfg.Store,
		webhook:    cfg.Webhook,
		targets:    cfg.Targets,
		staleAfter: cfg.StaleAfter,
		retention:  cfg.Retention,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
}

// RunCycle is the timer entry point. It never returns an error and never
// panics: anything escaping the executor is logged and the lock released so
// the next tick proceeds normally.
func (o *Orchestrator) RunCycle(ctx context.Context) {
	now := o.now()

	o.mu.Lock()
	if o.running {
		held := now.Sub(o.startedAt)
		if held > o.staleAfter {
			o.running = false
			o.mu.Unlock()
			o.logger.Warn("Cycle lock stale, force-releasing",
				"held", held.String(),
				"threshold", o.staleAfter.String())
			// The abandoned cycle may hold a wedged session.
			o.sessions.Release(ctx)
			return
		}
		o.mu.Unlock()
		o.logger.Info("Cycle already running, skipping tick", "held", held.String())
		return
	}
	o.running = true
	o.startedAt = now
	o.lastStart = now
	o.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Cycle panicked", "panic", r)
			o.sessions.Release(ctx)
		}
		o.mu.Lock()
		o.running = false
		o.lastEnd = o.now()
		o.mu.Unlock()
	}()

	o.logger.Info("Cycle starting", "targets", len(o.targets))
	outcomes := o.executor.Run(ctx, o.targets)

	results := make([]*monitor.Snapshot, 0, len(outcomes))
	failures := 0
	events := 0
	for _, out := range outcomes {
		if out.Snapshot != nil {
			results = append(results, out.Snapshot)
		}
		if out.Err != nil {
			failures++
		}
		events += out.Events
	}

	o.mu.Lock()
	o.lastResults = results
	o.mu.Unlock()

	o.logger.Info("Cycle completed",
		"duration_ms", o.now().Sub(now).Milliseconds(),
		"targets", len(o.targets),
		"failures", failures,
		"events", events)

	if o.webhook != nil && o.webhook.Enabled() {
		if err := o.webhook.Push(ctx, results); err != nil {
			o.logger.Error("Webhook push failed", "error", err)
		}
	}
	if o.retention > 0 && o.store != nil {
		removed, err := o.store.CleanupOlderThan(ctx, o.retention)
		if err != nil {
			o.logger.Error("Snapshot cleanup failed", "error", err)
		} else if removed > 0 {
			o.logger.Info("Snapshot cleanup completed", "removed", removed)
		}
	}
}

// Status reports whether a cycle is in flight and when the last one ran.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{Running: o.running, LastStart: o.lastStart, LastEnd: o.lastEnd}
}

// LatestResults returns the snapshots from the most recently completed
// cycle.
func (o *Orchestrator) LatestResults() []*monitor.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*monitor.Snapshot, len(o.lastResults))
	copy(out, o.lastResults)
	return out
}
