// Package circuitbreaker implements a per-provider circuit breaker driven by
// consecutive failures. It short-circuits requests to known-bad providers,
// reducing failover latency from seconds (timeout + network) to nanoseconds
// (state check).
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows all requests through.
	StateClosed State = iota
	// StateOpen rejects all requests.
	StateOpen
	// StateHalfOpen allows a single probe request.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker parameters.
type Config struct {
	FailureThreshold int           // consecutive failures to trip
	ResetTimeout     time.Duration // time in OPEN before allowing a probe
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
	}
}

// Breaker is a per-provider circuit breaker state machine.
// Any recorded success, in any state, returns it to closed with a zeroed
// failure count.
type Breaker struct {
	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	lastUsed  time.Time // for stale eviction
	probing   bool      // true when a half-open probe is in flight
	threshold int
	reset     time.Duration
	now       func() time.Time
}

// NewBreaker creates a breaker with the given config.
func NewBreaker(cfg Config) *Breaker {
	return &Breaker{
		state:     StateClosed,
		threshold: cfg.FailureThreshold,
		reset:     cfg.ResetTimeout,
		now:       time.Now,
		lastUsed:  time.Now(),
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked(b.now())
}

// stateLocked folds the open -> half_open timeout into state reads so
// observers never see a stale "open" past the reset deadline.
func (b *Breaker) stateLocked(now time.Time) State {
	if b.state == StateOpen && now.Sub(b.openedAt) >= b.reset {
		return StateHalfOpen
	}
	return b.state
}

// Allow checks whether a request should be allowed through.
func (b *Breaker) Allow() bool {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.openedAt) >= b.reset {
			// This request becomes the half-open probe.
			b.state = StateHalfOpen
			b.probing = true
			return true
		}
		return false
	case StateHalfOpen:
		if !b.probing {
			b.probing = true
			return true
		}
		// Another probe is already in flight; reject.
		return false
	}
	return false
}

// RecordSuccess resets the breaker to closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = b.now()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

// RecordFailure counts a failed request. Reaching the threshold in the closed
// state, or any failure of a half-open probe, opens the breaker.
func (b *Breaker) RecordFailure() {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = StateOpen
			b.openedAt = now
		}
	case StateHalfOpen:
		// Probe failed: reopen with a fresh deadline.
		b.state = StateOpen
		b.openedAt = now
		b.probing = false
	case StateOpen:
		b.failures++
	}
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// LastUsed returns the time of last activity (for stale eviction).
func (b *Breaker) LastUsed() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUsed
}
