package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gateway "github.com/lkgate/lkgate/internal"
)

// snapshot is an immutable view of the catalogue. Lookups read whichever
// snapshot was current when they started; Refresh swaps in a new one.
type snapshot struct {
	byCanonical map[string]*gateway.ModelConfig
	aliases     map[string]string // model_name -> canonical
	ordered     []*gateway.ModelConfig
}

func buildSnapshot(models []*gateway.ModelConfig) *snapshot {
	s := &snapshot{
		byCanonical: make(map[string]*gateway.ModelConfig, len(models)),
		aliases:     make(map[string]string, len(models)),
		ordered:     make([]*gateway.ModelConfig, 0, len(models)),
	}
	for _, m := range models {
		if m.IsActive {
			s.ordered = append(s.ordered, m)
		}
	}
	// Alias entries are inserted in priority order so that when several
	// providers expose the same bare name, the highest-priority one wins.
	sortModels(s.ordered)
	for _, m := range s.ordered {
		s.byCanonical[m.Canonical()] = m
		s.addAlias(m.ModelName, m.Canonical())
		s.addAlias(m.DisplayName, m.Canonical())
	}
	return s
}

func (s *snapshot) addAlias(alias, canonical string) {
	if alias == "" {
		return
	}
	if _, ok := s.aliases[alias]; !ok {
		s.aliases[alias] = canonical
	}
}

func (s *snapshot) resolve(identifier string) *gateway.ModelConfig {
	if m, ok := s.byCanonical[identifier]; ok {
		return m
	}
	if canonical, ok := s.aliases[identifier]; ok {
		return s.byCanonical[canonical]
	}
	return nil
}

// Local is a per-process snapshot registry.
type Local struct {
	source Source
	logger *slog.Logger

	mu          sync.RWMutex
	snap        *snapshot
	lastRefresh time.Time
}

// NewLocal returns an empty Local registry; call Refresh to load it.
func NewLocal(source Source, logger *slog.Logger) *Local {
	return &Local{source: source, logger: logger, snap: buildSnapshot(nil)}
}

// Refresh reloads the snapshot from the source. On error or an empty
// catalogue the previous snapshot stays in place; the empty case is
// reported as ErrEmptyCatalogue.
func (l *Local) Refresh(ctx context.Context) error {
	models, err := l.source.ListModels(ctx, true)
	if err != nil {
		return fmt.Errorf("load model catalogue: %w", err)
	}
	if len(models) == 0 {
		l.logger.LogAttrs(ctx, slog.LevelWarn, "model catalogue empty, keeping previous snapshot")
		return ErrEmptyCatalogue
	}
	snap := buildSnapshot(models)
	l.mu.Lock()
	l.snap = snap
	l.lastRefresh = time.Now()
	l.mu.Unlock()
	l.logger.LogAttrs(ctx, slog.LevelInfo, "model registry refreshed",
		slog.Int("models", len(snap.ordered)))
	return nil
}

func (l *Local) current() *snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

// LastRefresh reports when the snapshot was last replaced.
func (l *Local) LastRefresh() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastRefresh
}

// GetModel resolves an identifier against the current snapshot.
func (l *Local) GetModel(_ context.Context, identifier string) (*gateway.ModelConfig, error) {
	if m := l.current().resolve(identifier); m != nil {
		return m, nil
	}
	return nil, fmt.Errorf("%q: %w", identifier, gateway.ErrModelNotFound)
}

// ListModels returns matching active models in priority order.
func (l *Local) ListModels(_ context.Context, f Filter) ([]*gateway.ModelConfig, error) {
	snap := l.current()
	out := make([]*gateway.ModelConfig, 0, len(snap.ordered))
	for _, m := range snap.ordered {
		if matches(m, f) {
			out = append(out, m)
		}
	}
	return out, nil
}

// FallbackChain returns same-provider alternatives for canonical.
func (l *Local) FallbackChain(_ context.Context, canonical string) ([]*gateway.ModelConfig, error) {
	snap := l.current()
	base := snap.resolve(canonical)
	if base == nil {
		return nil, fmt.Errorf("%q: %w", canonical, gateway.ErrModelNotFound)
	}
	var chain []*gateway.ModelConfig
	for _, m := range snap.ordered {
		if m.Provider == base.Provider && m.Canonical() != base.Canonical() {
			chain = append(chain, m)
		}
	}
	return chain, nil
}
