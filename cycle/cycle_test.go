package cycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"visaslot-notifier/pkg/monitor"
)

type blockingRunner struct {
	mu      sync.Mutex
	runs    int
	started chan struct{}
	release chan struct{}
	panicOn bool
	results []Outcome
}

func (r *blockingRunner) Run(context.Context, []monitor.Target) []Outcome {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.release != nil {
		<-r.release
	}
	if r.panicOn {
		panic("executor blew up")
	}
	return r.results
}

func (r *blockingRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

type fakeReleaser struct {
	mu       sync.Mutex
	releases int
}

func (f *fakeReleaser) Release(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
}

func (f *fakeReleaser) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releases
}

type fakePusher struct {
	mu     sync.Mutex
	pushes [][]*monitor.Snapshot
}

func (f *fakePusher) Enabled() bool { return true }

func (f *fakePusher) Push(_ context.Context, results []*monitor.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, results)
	return nil
}

func TestRunCycleSingleFlight(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	o := NewOrchestrator(OrchestratorConfig{
		Executor: runner,
		Sessions: &fakeReleaser{},
		Targets:  makeTargets("a"),
		Logger:   testLogger(),
	})

	done := make(chan struct{})
	go func() {
		o.RunCycle(context.Background())
		close(done)
	}()
	<-runner.started

	// A second invocation while the first is in flight is dropped.
	o.RunCycle(context.Background())
	if runner.runCount() != 1 {
		t.Errorf("runs = %d, want 1", runner.runCount())
	}
	if !o.Status().Running {
		t.Error("status should report a running cycle")
	}

	close(runner.release)
	<-done
	if o.Status().Running {
		t.Error("status should clear after completion")
	}
}

func TestRunCycleStaleLockForceReleases(t *testing.T) {
	var mu sync.Mutex
	current := time.Date(2026, time.May, 10, 12, 0, 0, 0, time.UTC)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	advance := func(d time.Duration) {
		mu.Lock()
		current = current.Add(d)
		mu.Unlock()
	}

	runner := &blockingRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	sessions := &fakeReleaser{}
	o := NewOrchestrator(OrchestratorConfig{
		Executor:   runner,
		Sessions:   sessions,
		Targets:    makeTargets("a"),
		StaleAfter: 5 * time.Minute,
		Logger:     testLogger(),
		Now:        now,
	})

	done := make(chan struct{})
	go func() {
		o.RunCycle(context.Background())
		close(done)
	}()
	<-runner.started

	// Held but not stale: tick is dropped, no teardown.
	advance(time.Minute)
	o.RunCycle(context.Background())
	if runner.runCount() != 1 || sessions.count() != 0 {
		t.Fatalf("non-stale tick should be a no-op (runs=%d releases=%d)", runner.runCount(), sessions.count())
	}

	// Past the threshold: force-release and emergency teardown, no new run.
	advance(10 * time.Minute)
	o.RunCycle(context.Background())
	if runner.runCount() != 1 {
		t.Errorf("stale recovery should not start a new cycle, runs = %d", runner.runCount())
	}
	if sessions.count() != 1 {
		t.Errorf("stale recovery should tear down the session, releases = %d", sessions.count())
	}

	// Unblock the abandoned run before ticking again.
	close(runner.release)
	<-done

	// The lock is free again, so the next tick proceeds.
	o.RunCycle(context.Background())
	if runner.runCount() != 2 {
		t.Errorf("post-recovery tick should run, runs = %d", runner.runCount())
	}
}

func TestRunCycleReleasesLockOnPanic(t *testing.T) {
	runner := &blockingRunner{panicOn: true}
	sessions := &fakeReleaser{}
	o := NewOrchestrator(OrchestratorConfig{
		Executor: runner,
		Sessions: sessions,
		Targets:  makeTargets("a"),
		Logger:   testLogger(),
	})

	o.RunCycle(context.Background())
	if o.Status().Running {
		t.Error("lock should be released after a panic")
	}
	if sessions.count() != 1 {
		t.Errorf("session should be torn down after a panic, releases = %d", sessions.count())
	}

	// The next tick proceeds normally.
	runner.panicOn = false
	o.RunCycle(context.Background())
	if runner.runCount() != 2 {
		t.Errorf("runs = %d, want 2", runner.runCount())
	}
}

func TestRunCycleRetainsResultsAndPushes(t *testing.T) {
	snap := &monitor.Snapshot{TargetID: "a", CapturedAt: time.Now()}
	runner := &blockingRunner{results: []Outcome{{Target: monitor.Target{ID: "a"}, Snapshot: snap}}}
	store := &fakeStore{}
	pusher := &fakePusher{}
	o := NewOrchestrator(OrchestratorConfig{
		Executor:  runner,
		Sessions:  &fakeReleaser{},
		Store:     store,
		Webhook:   pusher,
		Targets:   makeTargets("a"),
		Retention: 72 * time.Hour,
		Logger:    testLogger(),
	})

	o.RunCycle(context.Background())

	latest := o.LatestResults()
	if len(latest) != 1 || latest[0].TargetID != "a" {
		t.Errorf("LatestResults = %+v", latest)
	}
	if len(pusher.pushes) != 1 || len(pusher.pushes[0]) != 1 {
		t.Errorf("webhook pushes = %+v", pusher.pushes)
	}
	if len(store.cleanups) != 1 || store.cleanups[0] != 72*time.Hour {
		t.Errorf("cleanups = %v, want one with the retention period", store.cleanups)
	}

	status := o.Status()
	if status.LastStart.IsZero() || status.LastEnd.IsZero() {
		t.Error("start/end timestamps should be recorded")
	}
}
