// Package ratelimit implements fixed-window per-key rate limiting on the
// shared KV store, so all gateway replicas count against the same window.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/lkgate/lkgate/internal/kv"
)

const (
	window    = 60 * time.Second
	keyPrefix = "lkg:ratelimit:"
)

// Scope selects how windows are keyed.
type Scope string

const (
	// ScopeKeyIP counts per (key, client IP) pair, the default.
	ScopeKeyIP Scope = "key_ip"
	// ScopeKey counts per key across all client IPs.
	ScopeKey Scope = "key"
)

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetUnix int64 // unix seconds when the current window ends
}

// Limiter counts requests in fixed 60-second windows on the KV store.
// The counter key is created by the first request of a window and expires
// with the window, so idle keys cost nothing.
type Limiter struct {
	kv    kv.Store
	scope Scope
	now   func() time.Time
}

// New returns a Limiter using the given scope.
func New(store kv.Store, scope Scope) *Limiter {
	if scope == "" {
		scope = ScopeKeyIP
	}
	return &Limiter{kv: store, scope: scope, now: time.Now}
}

// Allow records one request for (lookupHash, clientIP) and reports whether it
// fits within limit. A limit of 0 or less means unlimited.
func (l *Limiter) Allow(ctx context.Context, lookupHash, clientIP string, limit int) (Result, error) {
	now := l.now().Unix()
	if limit <= 0 {
		return Result{Allowed: true, ResetUnix: now + int64(window/time.Second)}, nil
	}

	key := keyPrefix + lookupHash
	if l.scope == ScopeKeyIP {
		key += ":" + clientIP
	}

	current, err := l.kv.Incr(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit incr: %w", err)
	}
	if current == 1 {
		if err := l.kv.Expire(ctx, key, window); err != nil {
			return Result{}, fmt.Errorf("ratelimit expire: %w", err)
		}
	}

	ttl, err := l.kv.TTL(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit ttl: %w", err)
	}
	reset := now + int64(window/time.Second)
	if ttl > 0 {
		reset = now + int64(ttl/time.Second)
	}

	remaining := limit - int(current)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   current <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetUnix: reset,
	}, nil
}
