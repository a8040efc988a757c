package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"visaslot-notifier/pkg/monitor"
)

// State is the lifecycle state of the managed extraction session.
type State int

const (
	StateAbsent State = iota
	StateInitializing
	StateReady
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Manager owns at most one live extraction session and mediates every use
// of it. Callers must not cache the session; state is re-validated
// immediately before each use because a concurrent recovery path can
// invalidate it.
type Manager struct {
	engine       Engine
	logger       *slog.Logger
	openTimeout  time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	mu      sync.Mutex
	state   State
	session Session
}

// ManagerConfig holds session manager tunables.
type ManagerConfig struct {
	Engine       Engine
	Logger       *slog.Logger
	OpenTimeout  time.Duration // default 30s
	FetchTimeout time.Duration // default 120s
}

// NewManager creates a session manager in the Absent state.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 120 * time.Second
	}
	return &Manager{
		engine:       cfg.Engine,
		logger:       cfg.Logger,
		openTimeout:  cfg.OpenTimeout,
		fetchTimeout: cfg.FetchTimeout,
		now:          time.Now,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Acquire ensures a Ready session exists. It returns immediately when one
// does, rejects concurrent calls while another acquisition is in flight,
// and otherwise opens a session under the configured timeout. A Degraded
// session must be released before re-acquiring.
func (m *Manager) Acquire(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateReady:
		m.mu.Unlock()
		return nil
	case StateInitializing:
		m.mu.Unlock()
		return ErrInitializing
	case StateDegraded:
		m.mu.Unlock()
		return errors.New("session degraded, release before re-acquiring")
	case StateAbsent:
	}
	m.state = StateInitializing
	m.mu.Unlock()

	openCtx, cancel := context.WithTimeout(ctx, m.openTimeout)
	defer cancel()

	m.logger.Info("Opening extraction session", "timeout", m.openTimeout.String())
	start := m.now()
	session, err := m.engine.Open(openCtx)
	duration := m.now().Sub(start)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = StateAbsent
		m.logger.Warn("Extraction session open failed",
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return &SessionError{Op: "open", Err: err}
	}
	m.session = session
	m.state = StateReady
	m.logger.Info("Extraction session ready", "duration_ms", duration.Milliseconds())
	return nil
}

// Check fetches and normalizes one target through the current session.
// It requires a Ready session. Session-level failures tear the session
// down to Degraded and are reported as retryable via IsSessionError;
// target-level failures leave the session intact.
func (m *Manager) Check(ctx context.Context, target monitor.Target) (*monitor.Snapshot, error) {
	m.mu.Lock()
	if m.state != StateReady {
		state := m.state
		m.mu.Unlock()
		return nil, &SessionError{Op: "check", Err: fmt.Errorf("session not ready (state %s)", state)}
	}
	session := m.session
	m.mu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
	defer cancel()

	start := m.now()
	result, err := m.engine.Fetch(fetchCtx, session, target)
	duration := m.now().Sub(start)

	if err != nil {
		err = m.classify(target, err)
		if IsSessionError(err) {
			m.degrade(ctx, session)
		}
		m.logger.Warn("Target check failed",
			"target", target.ID,
			"duration_ms", duration.Milliseconds(),
			"session_level", IsSessionError(err),
			"error", err)
		return nil, err
	}

	snapshot := &monitor.Snapshot{
		TargetID:    target.ID,
		Countries:   normalizeCountries(target, result.Countries, monitor.TrackedMonths(m.now())),
		Unavailable: result.Unavailable,
		CapturedAt:  m.now(),
	}
	m.logger.Info("Target check completed",
		"target", target.ID,
		"duration_ms", duration.Milliseconds(),
		"countries", len(snapshot.Countries),
		"unavailable", len(snapshot.Unavailable))
	return snapshot, nil
}

// Release tears down the session unconditionally and returns to Absent.
// Teardown failures are logged, not propagated; releasing an Absent
// manager is a no-op.
func (m *Manager) Release(ctx context.Context) {
	m.mu.Lock()
	session := m.session
	m.session = nil
	m.state = StateAbsent
	m.mu.Unlock()

	if session == nil {
		return
	}
	if err := session.Close(ctx); err != nil {
		m.logger.Warn("Extraction session teardown failed", "error", err)
		return
	}
	m.logger.Info("Extraction session released")
}

// classify wraps errors the engine did not classify itself: a fetch that
// ran out the per-call timeout means the session is likely wedged, while
// anything else is pinned on the target.
func (m *Manager) classify(target monitor.Target, err error) error {
	if IsSessionError(err) || IsTargetError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &SessionError{Op: "fetch", Err: err}
	}
	return &TargetError{TargetID: target.ID, Err: err}
}

// degrade tears down after a session-level failure, but only if the
// failed session is still the current one; a concurrent Release/Acquire
// may already have replaced it.
func (m *Manager) degrade(ctx context.Context, failed Session) {
	m.mu.Lock()
	if m.session != failed {
		m.mu.Unlock()
		return
	}
	m.session = nil
	m.state = StateDegraded
	m.mu.Unlock()

	if err := failed.Close(ctx); err != nil {
		m.logger.Warn("Degraded session teardown failed", "error", err)
	}
}

// normalizeCountries pins every row's slot map to exactly the tracked
// month window and fills a default booking URL when the engine produced
// none.
func normalizeCountries(target monitor.Target, countries []monitor.CountryAvailability, months []string) []monitor.CountryAvailability {
	out := make([]monitor.CountryAvailability, 0, len(countries))
	for _, c := range countries {
		if c.Name == "" {
			continue
		}
		slots := make(map[string]*string, len(months))
		for _, month := range months {
			slots[month] = c.Slots[month]
		}
		c.Slots = slots
		if c.BookingURL == "" {
			slug := strings.ToLower(strings.ReplaceAll(c.Name, " ", "-"))
			c.BookingURL = strings.TrimSuffix(target.URL, "/") + "/" + slug
		}
		out = append(out, c)
	}
	return out
}
