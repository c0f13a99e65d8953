// Package registry resolves logical model names to catalogue entries. Two
// implementations exist: a per-process snapshot and a KV-backed registry that
// all replicas share. Both are loaded from the model store and refreshed on
// an interval by a background worker.
package registry

import (
	"context"
	"errors"
	"sort"

	gateway "github.com/lkgate/lkgate/internal"
)

// ErrEmptyCatalogue reports a refresh that found no models. The previous
// snapshot stays in place; callers decide whether that is fatal.
var ErrEmptyCatalogue = errors.New("model catalogue empty")

// Filter narrows ListModels results. Zero values match everything.
type Filter struct {
	Provider   string
	Capability gateway.Capability
}

// Registry resolves model identifiers against the active catalogue.
type Registry interface {
	// GetModel resolves an identifier, either canonical "provider:model_name"
	// or a bare alias, to its catalogue entry. Returns ErrModelNotFound for
	// unknown or inactive models.
	GetModel(ctx context.Context, identifier string) (*gateway.ModelConfig, error)
	// ListModels returns active models matching the filter, ordered by
	// priority descending then provider ascending.
	ListModels(ctx context.Context, f Filter) ([]*gateway.ModelConfig, error)
	// FallbackChain returns active same-provider alternatives for a failed
	// model, ordered by priority descending. The failed model is excluded.
	FallbackChain(ctx context.Context, canonical string) ([]*gateway.ModelConfig, error)
	// Refresh reloads the catalogue from the model store. An empty catalogue
	// returns ErrEmptyCatalogue and retains the previous snapshot.
	Refresh(ctx context.Context) error
}

// Source is the slice of the model store the registry reads.
type Source interface {
	ListModels(ctx context.Context, activeOnly bool) ([]*gateway.ModelConfig, error)
}

func sortModels(models []*gateway.ModelConfig) {
	sort.SliceStable(models, func(i, j int) bool {
		if models[i].Priority != models[j].Priority {
			return models[i].Priority > models[j].Priority
		}
		if models[i].Provider != models[j].Provider {
			return models[i].Provider < models[j].Provider
		}
		return models[i].ModelName < models[j].ModelName
	})
}

func matches(m *gateway.ModelConfig, f Filter) bool {
	if f.Provider != "" && m.Provider != f.Provider {
		return false
	}
	if f.Capability != "" && !m.HasCapability(f.Capability) {
		return false
	}
	return true
}
