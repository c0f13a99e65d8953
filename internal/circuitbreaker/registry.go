package circuitbreaker

import (
	"sync"
	"time"
)

// Registry holds one Breaker per provider, created lazily on first use.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewRegistry creates a Registry whose breakers share cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		config:   cfg,
	}
}

// Get returns the breaker for provider, or nil when none has been created.
func (r *Registry) Get(provider string) *Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[provider]
}

// GetOrCreate returns the breaker for provider, creating it on first call.
// The read lock covers the common path; the write lock re-checks before
// inserting.
func (r *Registry) GetOrCreate(provider string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[provider]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[provider]; ok {
		return b
	}
	b = NewBreaker(r.config)
	r.breakers[provider] = b
	return b
}

// States returns a snapshot of every breaker's current state, for health
// reporting.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for k, b := range r.breakers {
		out[k] = b.State()
	}
	return out
}

// EvictStale drops breakers idle since before cutoff and reports how many
// were removed. Candidates are collected under the read lock; the write lock
// re-checks LastUsed so a breaker touched in between survives.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.RLock()
	var stale []string
	for k, b := range r.breakers {
		if b.LastUsed().Before(cutoff) {
			stale = append(stale, k)
		}
	}
	r.mu.RUnlock()

	if len(stale) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for _, k := range stale {
		b, ok := r.breakers[k]
		if ok && b.LastUsed().Before(cutoff) {
			delete(r.breakers, k)
			evicted++
		}
	}
	return evicted
}
