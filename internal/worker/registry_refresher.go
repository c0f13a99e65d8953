package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lkgate/lkgate/internal/registry"
)

// refreshable is the slice of the model registry the refresher needs.
type refreshable interface {
	Refresh(ctx context.Context) error
}

// refreshObserver receives refresh outcome statuses: "success", "empty",
// or "error". Implemented by telemetry.
type refreshObserver interface {
	RegistryRefresh(status string)
}

type nopRefreshObserver struct{}

func (nopRefreshObserver) RegistryRefresh(string) {}

// RegistryRefresher reloads the model registry on a fixed interval. Refresh
// failures are logged and counted; the registry keeps serving its previous
// snapshot.
type RegistryRefresher struct {
	registry refreshable
	interval time.Duration
	obs      refreshObserver
	logger   *slog.Logger
}

// NewRegistryRefresher creates a RegistryRefresher. obs may be nil.
func NewRegistryRefresher(reg refreshable, interval time.Duration, obs refreshObserver, logger *slog.Logger) *RegistryRefresher {
	if obs == nil {
		obs = nopRefreshObserver{}
	}
	return &RegistryRefresher{registry: reg, interval: interval, obs: obs, logger: logger}
}

// Name returns the worker identifier.
func (w *RegistryRefresher) Name() string { return "registry_refresher" }

// Run refreshes immediately, then on every tick until ctx is cancelled.
func (w *RegistryRefresher) Run(ctx context.Context) error {
	w.refresh(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.refresh(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *RegistryRefresher) refresh(ctx context.Context) {
	err := w.registry.Refresh(ctx)
	switch {
	case err == nil:
		w.obs.RegistryRefresh("success")
	case errors.Is(err, registry.ErrEmptyCatalogue):
		// The registry kept its previous snapshot; surface the condition in
		// metrics, not just logs.
		w.obs.RegistryRefresh("empty")
	default:
		w.obs.RegistryRefresh("error")
		w.logger.LogAttrs(ctx, slog.LevelError, "registry refresh failed",
			slog.String("error", err.Error()))
	}
}
