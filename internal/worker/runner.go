package worker

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner supervises a fixed set of workers. One failing worker cancels the
// shared context so the rest wind down together.
type Runner struct {
	workers []Worker
}

// NewRunner creates a Runner over the given workers.
func NewRunner(workers ...Worker) *Runner {
	return &Runner{workers: workers}
}

// Run starts every worker and blocks until all have returned. The first
// non-nil worker error is returned; cancellation of ctx stops all workers
// cleanly.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range r.workers {
		g.Go(func() error {
			slog.Info("worker started", "worker", w.Name())
			err := w.Run(ctx)
			slog.Info("worker stopped", "worker", w.Name(), "error", err)
			return err
		})
	}
	return g.Wait()
}
