// Package worker runs the gateway's background loops: the registry
// refresher and the breaker sweeper.
package worker

import "context"

// Worker is a long-running background loop.
type Worker interface {
	// Name identifies the worker in logs.
	Name() string
	// Run blocks until ctx is cancelled or the loop fails unrecoverably.
	Run(ctx context.Context) error
}
