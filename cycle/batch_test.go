package cycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"visaslot-notifier/extract"
	"visaslot-notifier/notify"
	"visaslot-notifier/pkg/monitor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSessions struct {
	mu       sync.Mutex
	acquires int
	releases int
	checks   []string

	acquireErrs map[int]error            // keyed by acquire call number (1-based)
	checkErrs   map[string][]error       // per target, consumed in order
	snapshots   map[string]*monitor.Snapshot
}

func (f *fakeSessions) Acquire(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	if err, ok := f.acquireErrs[f.acquires]; ok {
		return err
	}
	return nil
}

func (f *fakeSessions) Release(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
}

func (f *fakeSessions) Check(_ context.Context, target monitor.Target) (*monitor.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks = append(f.checks, target.ID)
	if errs := f.checkErrs[target.ID]; len(errs) > 0 {
		err := errs[0]
		f.checkErrs[target.ID] = errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if snap, ok := f.snapshots[target.ID]; ok {
		return snap, nil
	}
	return &monitor.Snapshot{TargetID: target.ID, CapturedAt: time.Now()}, nil
}

type fakeStore struct {
	mu       sync.Mutex
	last     map[string]*monitor.Snapshot
	lastErr  error
	saved    []*monitor.Snapshot
	saveErr  error
	cleanups []time.Duration
}

func (f *fakeStore) LastSnapshot(_ context.Context, targetID string) (*monitor.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastErr != nil {
		return nil, f.lastErr
	}
	return f.last[targetID], nil
}

func (f *fakeStore) SaveSnapshot(_ context.Context, snap *monitor.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, snap)
	return nil
}

func (f *fakeStore) CleanupOlderThan(_ context.Context, age time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups = append(f.cleanups, age)
	return 3, nil
}

func (f *fakeStore) savedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.saved))
	for _, s := range f.saved {
		ids = append(ids, s.TargetID)
	}
	return ids
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
}

type dispatchCall struct {
	target monitor.Target
	events []monitor.ChangeEvent
}

func (f *fakeDispatcher) Dispatch(_ context.Context, target monitor.Target, events []monitor.ChangeEvent) notify.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispatchCall{target: target, events: events})
	return notify.Result{EmailsSent: len(events)}
}

func makeTargets(ids ...string) []monitor.Target {
	targets := make([]monitor.Target, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, monitor.Target{ID: id, URL: "https://visaslots.example.com/in/" + id + "/tourism"})
	}
	return targets
}

func newTestExecutor(sessions *fakeSessions, store *fakeStore, dispatcher *fakeDispatcher, batchSize int) *Executor {
	return NewExecutor(ExecutorConfig{
		Sessions:          sessions,
		Store:             store,
		Dispatcher:        dispatcher,
		Logger:            testLogger(),
		BatchSize:         batchSize,
		ReacquireAttempts: 2,
		ReacquireDelay:    time.Millisecond,
		TargetDelay:       time.Millisecond,
	})
}

func TestRunBatchesInOrder(t *testing.T) {
	sessions := &fakeSessions{}
	store := &fakeStore{}
	exec := newTestExecutor(sessions, store, &fakeDispatcher{}, 3)
	targets := makeTargets("a", "b", "c", "d", "e", "f", "g")

	outcomes := exec.Run(context.Background(), targets)

	if len(outcomes) != 7 {
		t.Fatalf("got %d outcomes, want 7", len(outcomes))
	}
	for i, out := range outcomes {
		if out.Target.ID != targets[i].ID {
			t.Errorf("outcome %d is %s, want %s", i, out.Target.ID, targets[i].ID)
		}
		if out.Err != nil {
			t.Errorf("target %s failed: %v", out.Target.ID, out.Err)
		}
	}
	// 7 targets in batches of 3: one acquire and one release per batch.
	if sessions.acquires != 3 || sessions.releases != 3 {
		t.Errorf("acquires=%d releases=%d, want 3 each", sessions.acquires, sessions.releases)
	}
	for i, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		if sessions.checks[i] != id {
			t.Fatalf("check order %v, want roster order", sessions.checks)
		}
	}
}

func TestRunAcquireFailureSkipsOnlyThatBatch(t *testing.T) {
	sessions := &fakeSessions{acquireErrs: map[int]error{1: errors.New("engine down")}}
	store := &fakeStore{}
	exec := newTestExecutor(sessions, store, &fakeDispatcher{}, 2)

	outcomes := exec.Run(context.Background(), makeTargets("a", "b", "c", "d"))

	if outcomes[0].Err == nil || outcomes[1].Err == nil {
		t.Error("first batch targets should carry the acquisition error")
	}
	if outcomes[0].Snapshot != nil {
		t.Error("skipped targets should not get snapshots")
	}
	if outcomes[2].Err != nil || outcomes[3].Err != nil {
		t.Error("second batch should proceed normally")
	}
	if len(sessions.checks) != 2 {
		t.Errorf("checks = %v, want only second batch", sessions.checks)
	}
	// Nothing from the skipped batch is persisted.
	if ids := store.savedIDs(); len(ids) != 2 || ids[0] != "c" || ids[1] != "d" {
		t.Errorf("saved = %v, want [c d]", ids)
	}
}

func TestRunTargetFailureDoesNotAbortBatch(t *testing.T) {
	sessions := &fakeSessions{checkErrs: map[string][]error{
		"b": {&extract.TargetError{TargetID: "b", Err: errors.New("no table")}},
	}}
	store := &fakeStore{}
	exec := newTestExecutor(sessions, store, &fakeDispatcher{}, 5)

	outcomes := exec.Run(context.Background(), makeTargets("a", "b", "c"))

	if outcomes[0].Err != nil || outcomes[2].Err != nil {
		t.Error("healthy targets should succeed around the failing one")
	}
	if outcomes[1].Err == nil {
		t.Error("failing target should report its error")
	}
	if outcomes[1].Snapshot == nil || outcomes[1].Snapshot.Error == "" {
		t.Error("failing target should record an error snapshot")
	}
	// All three snapshots persisted, error snapshot included.
	if ids := store.savedIDs(); len(ids) != 3 {
		t.Errorf("saved = %v, want all three targets", ids)
	}
}

func TestRunSessionFailureRecovers(t *testing.T) {
	sessions := &fakeSessions{checkErrs: map[string][]error{
		"a": {&extract.SessionError{Op: "fetch", Err: errors.New("wedged")}, nil},
	}}
	store := &fakeStore{}
	exec := newTestExecutor(sessions, store, &fakeDispatcher{}, 5)

	outcomes := exec.Run(context.Background(), makeTargets("a"))

	if outcomes[0].Err != nil {
		t.Fatalf("target should succeed after re-acquisition: %v", outcomes[0].Err)
	}
	// Initial acquire, then one recovery acquire.
	if sessions.acquires != 2 {
		t.Errorf("acquires = %d, want 2", sessions.acquires)
	}
	// Recovery release plus end-of-batch release.
	if sessions.releases != 2 {
		t.Errorf("releases = %d, want 2", sessions.releases)
	}
}

func TestRunSessionFailureExhaustsRetries(t *testing.T) {
	wedged := func() error { return &extract.SessionError{Op: "fetch", Err: errors.New("wedged")} }
	sessions := &fakeSessions{checkErrs: map[string][]error{
		"a": {wedged(), wedged(), wedged()},
	}}
	store := &fakeStore{}
	exec := newTestExecutor(sessions, store, &fakeDispatcher{}, 5)

	outcomes := exec.Run(context.Background(), makeTargets("a"))

	if outcomes[0].Err == nil {
		t.Fatal("target should fail after retries are exhausted")
	}
	if outcomes[0].Snapshot == nil || outcomes[0].Snapshot.Error == "" {
		t.Error("exhausted target should record an error snapshot")
	}
	// 1 initial + 2 recovery checks.
	if len(sessions.checks) != 3 {
		t.Errorf("checks = %d, want 3", len(sessions.checks))
	}
}

func TestRunDetectsAndDispatches(t *testing.T) {
	zero := "0"
	three := "3"
	months := monitor.TrackedMonths(time.Now())

	current := &monitor.Snapshot{
		TargetID: "a",
		Countries: []monitor.CountryAvailability{
			{Name: "France", Slots: map[string]*string{months[0]: &three}},
		},
		CapturedAt: time.Now(),
	}
	previous := &monitor.Snapshot{
		TargetID: "a",
		Countries: []monitor.CountryAvailability{
			{Name: "France", Slots: map[string]*string{months[0]: &zero}},
		},
		CapturedAt: time.Now().Add(-5 * time.Minute),
	}

	sessions := &fakeSessions{snapshots: map[string]*monitor.Snapshot{"a": current}}
	store := &fakeStore{last: map[string]*monitor.Snapshot{"a": previous}}
	dispatcher := &fakeDispatcher{}
	exec := newTestExecutor(sessions, store, dispatcher, 5)

	outcomes := exec.Run(context.Background(), makeTargets("a"))

	if outcomes[0].Events != 1 {
		t.Fatalf("events = %d, want 1", outcomes[0].Events)
	}
	if len(dispatcher.calls) != 1 {
		t.Fatalf("dispatch calls = %d, want 1", len(dispatcher.calls))
	}
	event := dispatcher.calls[0].events[0]
	if event.Kind != monitor.KindIncreasedAvailability || event.Country != "France" {
		t.Errorf("unexpected event: %+v", event)
	}
	if ids := store.savedIDs(); len(ids) != 1 || ids[0] != "a" {
		t.Errorf("saved = %v", ids)
	}
}

func TestRunSkipsDetectionAgainstErrorSnapshot(t *testing.T) {
	three := "3"
	months := monitor.TrackedMonths(time.Now())
	current := &monitor.Snapshot{
		TargetID: "a",
		Countries: []monitor.CountryAvailability{
			{Name: "France", Slots: map[string]*string{months[0]: &three}},
		},
		CapturedAt: time.Now(),
	}

	sessions := &fakeSessions{snapshots: map[string]*monitor.Snapshot{"a": current}}
	store := &fakeStore{last: map[string]*monitor.Snapshot{
		"a": {TargetID: "a", Error: "earlier fetch failed"},
	}}
	dispatcher := &fakeDispatcher{}
	exec := newTestExecutor(sessions, store, dispatcher, 5)

	outcomes := exec.Run(context.Background(), makeTargets("a"))

	if outcomes[0].Events != 0 || len(dispatcher.calls) != 0 {
		t.Error("error snapshots must never be diffed against")
	}
	if ids := store.savedIDs(); len(ids) != 1 {
		t.Errorf("snapshot should still be saved, got %v", ids)
	}
}

func TestRunStoreFailureSkipsDetectionButSaves(t *testing.T) {
	sessions := &fakeSessions{}
	store := &fakeStore{lastErr: errors.New("store offline")}
	dispatcher := &fakeDispatcher{}
	exec := newTestExecutor(sessions, store, dispatcher, 5)

	outcomes := exec.Run(context.Background(), makeTargets("a"))

	if outcomes[0].Err != nil {
		t.Errorf("a store read failure should not fail the target: %v", outcomes[0].Err)
	}
	if len(dispatcher.calls) != 0 {
		t.Error("no dispatch without a trustworthy previous snapshot")
	}
}
