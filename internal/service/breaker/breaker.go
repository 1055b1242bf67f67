// Package breaker tracks per-backend health and temporarily excludes failing
// backends from routing.
package breaker

import (
	"log/slog"
	"sync"
	"time"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is allowing requests to pass through.
	StateClosed State = iota
	// StateOpen indicates the circuit is blocking requests due to failures.
	StateOpen
	// StateHalfOpen indicates the circuit is probing recovery with a single request.
	StateHalfOpen
)

// String returns a string representation of the circuit state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Settings supplies the live failure threshold and cooldown; read on every
// decision so runtime config updates apply without restarting breakers.
type Settings func() (failureThreshold int, cooldown time.Duration)

// Breaker implements circuit breaker semantics for a single backend:
// opens after N consecutive failures, stays open for the cooldown, then
// half-opens to allow exactly one trial request.
type Breaker struct {
	mu           sync.Mutex
	backend      string
	state        State
	consecutive  int
	lastFailure  time.Time
	probing      bool
	probeStarted time.Time

	totalSuccesses int64
	totalFailures  int64
}

// NewBreaker creates a closed breaker for a backend.
func NewBreaker(backend string) *Breaker {
	return &Breaker{backend: backend, state: StateClosed}
}

// Allow reports whether a request may be sent to the backend. When the
// cooldown has elapsed on an open circuit, the breaker half-opens and exactly
// one caller is admitted as the trial probe until its outcome is recorded.
func (b *Breaker) Allow(threshold int, cooldown time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.lastFailure) >= cooldown {
			b.state = StateHalfOpen
			b.probing = true
			b.probeStarted = time.Now()
			slog.Info("circuit breaker half-open, allowing trial request",
				slog.String("backend", b.backend))
			return true
		}
		return false
	case StateHalfOpen:
		// An admitted probe whose outcome was never recorded (the request was
		// abandoned before reaching the backend) expires after the cooldown so
		// the circuit cannot wedge half-open.
		if !b.probing || time.Since(b.probeStarted) >= cooldown {
			b.probing = true
			b.probeStarted = time.Now()
			return true
		}
		return false
	default:
		return false
	}
}

// Viable reports whether a request could currently be admitted, without
// claiming the half-open probe slot. Routing shortlists backends with Viable;
// Allow performs the actual admission at call time.
func (b *Breaker) Viable(cooldown time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		return time.Since(b.lastFailure) >= cooldown
	case StateHalfOpen:
		return !b.probing || time.Since(b.probeStarted) >= cooldown
	default:
		return false
	}
}

// RecordSuccess records a successful request and closes a half-open circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalSuccesses++
	b.consecutive = 0
	b.probing = false
	if b.state != StateClosed {
		slog.Info("circuit breaker closed after successful recovery",
			slog.String("backend", b.backend))
		b.state = StateClosed
	}
}

// RecordFailure records a failed or timed-out request. A failure while
// half-open re-opens the circuit immediately.
func (b *Breaker) RecordFailure(threshold int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalFailures++
	b.consecutive++
	b.lastFailure = time.Now()
	b.probing = false

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		slog.Warn("circuit breaker re-opened after failed probe",
			slog.String("backend", b.backend))
	case StateClosed:
		if b.consecutive >= threshold {
			b.state = StateOpen
			slog.Warn("circuit breaker opened due to consecutive failures",
				slog.String("backend", b.backend),
				slog.Int("failure_count", b.consecutive),
				slog.Int("threshold", threshold))
		}
	}
}

// Snapshot is a read-only view of a breaker used by routingStats.
type Snapshot struct {
	Backend             string    `json:"backend"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalSuccesses      int64     `json:"total_successes"`
	TotalFailures       int64     `json:"total_failures"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
}

// Stats returns the breaker's current counters.
func (b *Breaker) Stats() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Backend:             b.backend,
		State:               b.state.String(),
		ConsecutiveFailures: b.consecutive,
		TotalSuccesses:      b.totalSuccesses,
		TotalFailures:       b.totalFailures,
		LastFailure:         b.lastFailure,
	}
}

// Manager holds one breaker per backend. Breakers use their own locks so
// recording an outcome for one backend never serializes the others.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	settings Settings
}

// NewManager creates a manager whose breakers read live settings from the
// provided function.
func NewManager(settings Settings) *Manager {
	return &Manager{breakers: make(map[string]*Breaker), settings: settings}
}

func (m *Manager) get(backend string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[backend]
	m.mu.RUnlock()
	if ok {
		return b
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.breakers[backend]; ok {
		return b
	}
	b = NewBreaker(backend)
	m.breakers[backend] = b
	return b
}

// IsAvailable reports whether the backend could be tried right now. It never
// claims the half-open probe slot, so shortlisting a backend that is then not
// consulted does not cost it a recovery attempt.
func (m *Manager) IsAvailable(backend string) bool {
	_, cooldown := m.settings()
	return m.get(backend).Viable(cooldown)
}

// Admit claims permission to send one request to the backend. On a half-open
// circuit only the single trial probe is admitted; call it immediately before
// the request, not while building the routing decision.
func (m *Manager) Admit(backend string) bool {
	threshold, cooldown := m.settings()
	return m.get(backend).Allow(threshold, cooldown)
}

// RecordSuccess marks a successful call against the backend's breaker.
func (m *Manager) RecordSuccess(backend string) {
	m.get(backend).RecordSuccess()
}

// RecordFailure marks a failed or timed-out call against the backend's breaker.
func (m *Manager) RecordFailure(backend string) {
	threshold, _ := m.settings()
	m.get(backend).RecordFailure(threshold)
}

// Stats returns snapshots for every breaker seen so far.
func (m *Manager) Stats() map[string]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Snapshot, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = b.Stats()
	}
	return out
}
