package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"loom-build/internal/metrics"
)

// CircuitBreakerState is the per-session execution budget: fuel spent, retry
// count, and session age. Process-scoped and reset on restart.
type CircuitBreakerState struct {
	FuelSpent    int       `json:"fuel_spent"`
	Retries      int       `json:"retries"`
	SessionStart time.Time `json:"session_start"`
}

// BreakerThresholds are the trip limits for one session.
type BreakerThresholds struct {
	FuelBudget    int
	MaxRetries    int
	MaxSessionAge time.Duration
}

// BreakerRegistry holds circuit breaker state per session key. All access
// goes through the registry; there is no ambient global state.
type BreakerRegistry struct {
	mu         sync.Mutex
	sessions   map[string]*CircuitBreakerState
	thresholds BreakerThresholds
	now        func() time.Time
}

// NewBreakerRegistry creates a registry with the given trip thresholds.
func NewBreakerRegistry(t BreakerThresholds) *BreakerRegistry {
	return &BreakerRegistry{
		sessions:   make(map[string]*CircuitBreakerState),
		thresholds: t,
		now:        time.Now,
	}
}

func (r *BreakerRegistry) state(session string) *CircuitBreakerState {
	st, ok := r.sessions[session]
	if !ok {
		st = &CircuitBreakerState{SessionStart: r.now()}
		r.sessions[session] = st
	}
	return st
}

// Check reports whether the session may execute. A tripped breaker returns
// ok=false with a human-readable reason; no state is mutated.
func (r *BreakerRegistry) Check(session string) (ok bool, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(session)
	switch {
	case st.FuelSpent >= r.thresholds.FuelBudget:
		metrics.Get().RecordBreakerTrip("fuel")
		return false, fmt.Sprintf("session fuel budget exhausted (%d/%d units)", st.FuelSpent, r.thresholds.FuelBudget)
	case st.Retries >= r.thresholds.MaxRetries:
		metrics.Get().RecordBreakerTrip("retries")
		return false, fmt.Sprintf("session retry limit reached (%d/%d)", st.Retries, r.thresholds.MaxRetries)
	case r.now().Sub(st.SessionStart) >= r.thresholds.MaxSessionAge:
		metrics.Get().RecordBreakerTrip("age")
		return false, fmt.Sprintf("session exceeded maximum age of %s", r.thresholds.MaxSessionAge)
	}
	return true, ""
}

// ChargeFuel adds units to the session's fuel counter.
func (r *BreakerRegistry) ChargeFuel(session string, units int) {
	if units <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state(session).FuelSpent += units
}

// RecordRetry increments the session's retry counter after a caught
// execution error.
func (r *BreakerRegistry) RecordRetry(session string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state(session).Retries++
}

// Reset abandons a session's accumulated state, restarting its budget.
func (r *BreakerRegistry) Reset(session string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, session)
}

// Snapshot returns a copy of a session's breaker state.
func (r *BreakerRegistry) Snapshot(session string) CircuitBreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.state(session)
}
