package worker

import (
	"context"
	"log/slog"
	"time"
)

// evictable is the slice of the breaker registry the sweeper needs.
type evictable interface {
	EvictStale(cutoff time.Time) int
}

// StaleSweeper evicts circuit breakers for providers that have not been
// routed to recently, bounding registry growth when the catalogue churns.
type StaleSweeper struct {
	breakers evictable
	interval time.Duration
	maxIdle  time.Duration
	logger   *slog.Logger
}

// NewStaleSweeper creates a StaleSweeper that runs every interval and evicts
// entries idle longer than maxIdle.
func NewStaleSweeper(breakers evictable, interval, maxIdle time.Duration, logger *slog.Logger) *StaleSweeper {
	return &StaleSweeper{breakers: breakers, interval: interval, maxIdle: maxIdle, logger: logger}
}

// Name returns the worker identifier.
func (w *StaleSweeper) Name() string { return "stale_sweeper" }

// Run sweeps on every tick until ctx is cancelled.
func (w *StaleSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := w.breakers.EvictStale(time.Now().Add(-w.maxIdle)); n > 0 {
				w.logger.LogAttrs(ctx, slog.LevelInfo, "evicted stale breakers",
					slog.Int("count", n))
			}
		case <-ctx.Done():
			return nil
		}
	}
}
