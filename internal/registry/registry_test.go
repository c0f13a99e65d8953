package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	gateway "github.com/lkgate/lkgate/internal"
	"github.com/lkgate/lkgate/internal/kv"
)

type fakeSource struct {
	mu     sync.Mutex
	models []*gateway.ModelConfig
	err    error
}

func (f *fakeSource) ListModels(_ context.Context, activeOnly bool) ([]*gateway.ModelConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []*gateway.ModelConfig
	for _, m := range f.models {
		if activeOnly && !m.IsActive {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeSource) set(models []*gateway.ModelConfig, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models = models
	f.err = err
}

func testCatalogue() []*gateway.ModelConfig {
	return []*gateway.ModelConfig{
		{
			ID: "m1", Provider: "openai", ModelName: "gpt-4o",
			Capabilities: []gateway.Capability{gateway.CapStreaming, gateway.CapTools},
			IsActive:     true, Priority: 10,
		},
		{
			ID: "m2", Provider: "openai", ModelName: "gpt-4o-mini",
			Capabilities: []gateway.Capability{gateway.CapStreaming},
			IsActive:     true, Priority: 5,
		},
		{
			ID: "m3", Provider: "anthropic", ModelName: "claude-3-5-sonnet",
			Capabilities: []gateway.Capability{gateway.CapStreaming, gateway.CapVision},
			IsActive:     true, Priority: 10,
		},
		{
			ID: "m4", Provider: "gemini", ModelName: "gemini-1.5-pro",
			IsActive: false, Priority: 20,
		},
	}
}

// both registry implementations must satisfy the same behavior.
func registries(t *testing.T, src Source) map[string]Registry {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	return map[string]Registry{
		"local": NewLocal(src, logger),
		"kv":    NewKV(src, kv.NewMemory(), logger),
	}
}

func TestResolveIdentifiers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := &fakeSource{models: testCatalogue()}
	for name, reg := range registries(t, src) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if err := reg.Refresh(ctx); err != nil {
				t.Fatal(err)
			}

			m, err := reg.GetModel(ctx, "openai:gpt-4o")
			if err != nil {
				t.Fatal("canonical:", err)
			}
			if m.ID != "m1" {
				t.Errorf("canonical resolved to %s", m.ID)
			}

			m, err = reg.GetModel(ctx, "gpt-4o")
			if err != nil {
				t.Fatal("alias:", err)
			}
			if m.Canonical() != "openai:gpt-4o" {
				t.Errorf("alias resolved to %s", m.Canonical())
			}

			if _, err := reg.GetModel(ctx, "unknown-model"); !errors.Is(err, gateway.ErrModelNotFound) {
				t.Errorf("unknown model err = %v", err)
			}
			// Inactive models are absent from the registry entirely.
			if _, err := reg.GetModel(ctx, "gemini:gemini-1.5-pro"); !errors.Is(err, gateway.ErrModelNotFound) {
				t.Errorf("inactive model err = %v", err)
			}
		})
	}
}

func TestListModelsFilterAndOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := &fakeSource{models: testCatalogue()}
	for name, reg := range registries(t, src) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if err := reg.Refresh(ctx); err != nil {
				t.Fatal(err)
			}

			all, err := reg.ListModels(ctx, Filter{})
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 3 {
				t.Fatalf("count = %d, want 3", len(all))
			}
			// Priority desc; provider asc breaks the tie between m1 and m3.
			want := []string{"anthropic:claude-3-5-sonnet", "openai:gpt-4o", "openai:gpt-4o-mini"}
			for i, m := range all {
				if m.Canonical() != want[i] {
					t.Errorf("order[%d] = %s, want %s", i, m.Canonical(), want[i])
				}
			}

			tools, err := reg.ListModels(ctx, Filter{Capability: gateway.CapTools})
			if err != nil {
				t.Fatal(err)
			}
			if len(tools) != 1 || tools[0].ID != "m1" {
				t.Errorf("tools filter = %v", tools)
			}

			oa, err := reg.ListModels(ctx, Filter{Provider: "openai"})
			if err != nil {
				t.Fatal(err)
			}
			if len(oa) != 2 {
				t.Errorf("provider filter count = %d, want 2", len(oa))
			}
		})
	}
}

func TestFallbackChain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := &fakeSource{models: testCatalogue()}
	for name, reg := range registries(t, src) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if err := reg.Refresh(ctx); err != nil {
				t.Fatal(err)
			}

			chain, err := reg.FallbackChain(ctx, "openai:gpt-4o")
			if err != nil {
				t.Fatal(err)
			}
			if len(chain) != 1 || chain[0].Canonical() != "openai:gpt-4o-mini" {
				t.Errorf("chain = %v", chain)
			}

			// Sole model of its provider has no fallbacks.
			chain, err = reg.FallbackChain(ctx, "anthropic:claude-3-5-sonnet")
			if err != nil {
				t.Fatal(err)
			}
			if len(chain) != 0 {
				t.Errorf("chain = %v, want empty", chain)
			}

			if _, err := reg.FallbackChain(ctx, "openai:nope"); !errors.Is(err, gateway.ErrModelNotFound) {
				t.Errorf("unknown model err = %v", err)
			}
		})
	}
}

func TestRefreshKeepsPreviousSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := &fakeSource{models: testCatalogue()}
	for name, reg := range registries(t, src) {
		t.Run(name, func(t *testing.T) {
			if err := reg.Refresh(ctx); err != nil {
				t.Fatal(err)
			}

			// Empty catalogue: reported as ErrEmptyCatalogue, previous data
			// survives.
			src.set(nil, nil)
			if err := reg.Refresh(ctx); !errors.Is(err, ErrEmptyCatalogue) {
				t.Errorf("empty refresh err = %v, want ErrEmptyCatalogue", err)
			}
			if _, err := reg.GetModel(ctx, "gpt-4o"); err != nil {
				t.Errorf("model lost after empty refresh: %v", err)
			}

			// Failed load: refresh errors, previous data survives.
			src.set(nil, errors.New("db down"))
			if err := reg.Refresh(ctx); err == nil {
				t.Error("refresh should surface source error")
			}
			if _, err := reg.GetModel(ctx, "gpt-4o"); err != nil {
				t.Errorf("model lost after failed refresh: %v", err)
			}

			src.set(testCatalogue(), nil)
		})
	}
}

func TestKVRefreshDropsRemovedModels(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := &fakeSource{models: testCatalogue()}
	reg := NewKV(src, kv.NewMemory(), slog.New(slog.DiscardHandler))
	if err := reg.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	// Drop gpt-4o-mini from the catalogue; the rewrite must not leave it behind.
	remaining := testCatalogue()[:1]
	remaining = append(remaining, testCatalogue()[2])
	src.set(remaining, nil)
	if err := reg.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := reg.GetModel(ctx, "openai:gpt-4o-mini"); !errors.Is(err, gateway.ErrModelNotFound) {
		t.Errorf("removed model still resolvable: %v", err)
	}
	chain, err := reg.FallbackChain(ctx, "openai:gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 0 {
		t.Errorf("stale fallback chain = %v", chain)
	}
}

func TestAliasPrecedence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// Two providers expose the same bare name; the higher-priority one wins
	// alias resolution. Display names resolve too.
	src := &fakeSource{models: []*gateway.ModelConfig{
		{
			ID: "a1", Provider: "anthropic", ModelName: "sonnet",
			DisplayName: "Claude Sonnet", IsActive: true, Priority: 20,
		},
		{
			ID: "o1", Provider: "openai", ModelName: "sonnet",
			IsActive: true, Priority: 5,
		},
	}}
	for name, reg := range registries(t, src) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if err := reg.Refresh(ctx); err != nil {
				t.Fatal(err)
			}

			m, err := reg.GetModel(ctx, "sonnet")
			if err != nil {
				t.Fatal(err)
			}
			if m.Canonical() != "anthropic:sonnet" {
				t.Errorf("bare alias resolved to %s, want anthropic:sonnet", m.Canonical())
			}

			m, err = reg.GetModel(ctx, "Claude Sonnet")
			if err != nil {
				t.Fatal("display name:", err)
			}
			if m.ID != "a1" {
				t.Errorf("display name resolved to %s", m.ID)
			}

			// Canonical form still reaches the lower-priority model.
			m, err = reg.GetModel(ctx, "openai:sonnet")
			if err != nil {
				t.Fatal(err)
			}
			if m.ID != "o1" {
				t.Errorf("canonical resolved to %s", m.ID)
			}
		})
	}
}
