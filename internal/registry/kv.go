package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vmihailenco/msgpack/v5"

	gateway "github.com/lkgate/lkgate/internal"
	"github.com/lkgate/lkgate/internal/kv"
)

// Shared KV layout:
//
//	hash lkg:models:active           provider:model_name -> packed ModelConfig
//	hash lkg:models:aliases          model_name -> provider:model_name
//	set  lkg:models:capability:{cap} provider:model_name
const (
	activeKey    = "lkg:models:active"
	aliasesKey   = "lkg:models:aliases"
	capKeyPrefix = "lkg:models:capability:"
)

// packedModel is the compact wire form of a ModelConfig stored in the KV hash.
type packedModel struct {
	ID              string   `msgpack:"id"`
	Provider        string   `msgpack:"provider"`
	ModelName       string   `msgpack:"model_name"`
	DisplayName     string   `msgpack:"display_name"`
	ContextWindow   int      `msgpack:"context_window"`
	MaxOutputTokens int      `msgpack:"max_output_tokens"`
	Capabilities    []string `msgpack:"capabilities"`
	CostPer1KInput  float64  `msgpack:"cost_per_1k_input"`
	CostPer1KOutput float64  `msgpack:"cost_per_1k_output"`
	IsActive        bool     `msgpack:"is_active"`
	Priority        int      `msgpack:"priority"`
}

func packModel(m *gateway.ModelConfig) ([]byte, error) {
	caps := make([]string, len(m.Capabilities))
	for i, c := range m.Capabilities {
		caps[i] = string(c)
	}
	return msgpack.Marshal(&packedModel{
		ID:              m.ID,
		Provider:        m.Provider,
		ModelName:       m.ModelName,
		DisplayName:     m.DisplayName,
		ContextWindow:   m.ContextWindow,
		MaxOutputTokens: m.MaxOutputTokens,
		Capabilities:    caps,
		CostPer1KInput:  m.CostPer1KInput,
		CostPer1KOutput: m.CostPer1KOutput,
		IsActive:        m.IsActive,
		Priority:        m.Priority,
	})
}

func unpackModel(raw []byte) (*gateway.ModelConfig, error) {
	var p packedModel
	if err := msgpack.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("unpack model: %w", err)
	}
	caps := make([]gateway.Capability, len(p.Capabilities))
	for i, c := range p.Capabilities {
		caps[i] = gateway.Capability(c)
	}
	return &gateway.ModelConfig{
		ID:              p.ID,
		Provider:        p.Provider,
		ModelName:       p.ModelName,
		DisplayName:     p.DisplayName,
		ContextWindow:   p.ContextWindow,
		MaxOutputTokens: p.MaxOutputTokens,
		Capabilities:    caps,
		CostPer1KInput:  p.CostPer1KInput,
		CostPer1KOutput: p.CostPer1KOutput,
		IsActive:        p.IsActive,
		Priority:        p.Priority,
	}, nil
}

// KV is the shared-catalogue registry. Every replica's refresh rewrites the
// same keys; readers see either the previous or the new catalogue, never a
// partially written one, because the rewrite happens in a single pipeline.
type KV struct {
	source Source
	kv     kv.Store
	logger *slog.Logger
}

// NewKV returns an empty KV registry; call Refresh to populate it.
func NewKV(source Source, store kv.Store, logger *slog.Logger) *KV {
	return &KV{source: source, kv: store, logger: logger}
}

// Refresh loads the catalogue from the store and rewrites the KV layout.
// An empty catalogue leaves the existing keys untouched and reports
// ErrEmptyCatalogue.
func (r *KV) Refresh(ctx context.Context) error {
	models, err := r.source.ListModels(ctx, true)
	if err != nil {
		return fmt.Errorf("load model catalogue: %w", err)
	}
	if len(models) == 0 {
		r.logger.LogAttrs(ctx, slog.LevelWarn, "model catalogue empty, keeping previous snapshot")
		return ErrEmptyCatalogue
	}

	live := make([]*gateway.ModelConfig, 0, len(models))
	for _, m := range models {
		if m.IsActive {
			live = append(live, m)
		}
	}
	// Alias entries are written in priority order so that when several
	// providers expose the same bare name, the highest-priority one wins.
	sortModels(live)

	active := make(map[string][]byte, len(live))
	aliases := make(map[string][]byte, len(live))
	capSets := make(map[string][]string)
	addAlias := func(alias, canonical string) {
		if alias == "" {
			return
		}
		if _, ok := aliases[alias]; !ok {
			aliases[alias] = []byte(canonical)
		}
	}
	for _, m := range live {
		packed, err := packModel(m)
		if err != nil {
			return err
		}
		canonical := m.Canonical()
		active[canonical] = packed
		addAlias(m.ModelName, canonical)
		addAlias(m.DisplayName, canonical)
		for _, c := range m.Capabilities {
			capSets[string(c)] = append(capSets[string(c)], canonical)
		}
	}

	err = r.kv.Pipeline(ctx, func(p kv.Pipe) error {
		p.Delete(activeKey)
		p.Delete(aliasesKey)
		for _, c := range gateway.KnownCapabilities {
			p.Delete(capKeyPrefix + string(c))
		}
		p.HSet(activeKey, active)
		p.HSet(aliasesKey, aliases)
		for c, members := range capSets {
			p.SAdd(capKeyPrefix+c, members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rewrite model registry: %w", err)
	}
	r.logger.LogAttrs(ctx, slog.LevelInfo, "model registry refreshed",
		slog.Int("models", len(active)))
	return nil
}

// GetModel resolves an identifier: canonical form first, then the alias hash.
func (r *KV) GetModel(ctx context.Context, identifier string) (*gateway.ModelConfig, error) {
	raw, err := r.kv.HGet(ctx, activeKey, identifier)
	if err != nil {
		return nil, fmt.Errorf("lookup model: %w", err)
	}
	if raw == nil {
		target, err := r.kv.HGet(ctx, aliasesKey, identifier)
		if err != nil {
			return nil, fmt.Errorf("resolve alias: %w", err)
		}
		if target != nil {
			raw, err = r.kv.HGet(ctx, activeKey, string(target))
			if err != nil {
				return nil, fmt.Errorf("lookup model: %w", err)
			}
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("%q: %w", identifier, gateway.ErrModelNotFound)
	}
	return unpackModel(raw)
}

// ListModels returns matching active models. A capability filter narrows the
// fetch to the capability set's members before unpacking.
func (r *KV) ListModels(ctx context.Context, f Filter) ([]*gateway.ModelConfig, error) {
	var raws [][]byte
	if f.Capability != "" {
		members, err := r.kv.SMembers(ctx, capKeyPrefix+string(f.Capability))
		if err != nil {
			return nil, fmt.Errorf("capability set: %w", err)
		}
		if len(members) == 0 {
			return nil, nil
		}
		raws, err = r.kv.HMGet(ctx, activeKey, members...)
		if err != nil {
			return nil, fmt.Errorf("fetch models: %w", err)
		}
	} else {
		all, err := r.kv.HGetAll(ctx, activeKey)
		if err != nil {
			return nil, fmt.Errorf("fetch models: %w", err)
		}
		raws = make([][]byte, 0, len(all))
		for _, raw := range all {
			raws = append(raws, raw)
		}
	}

	var models []*gateway.ModelConfig
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		m, err := unpackModel(raw)
		if err != nil {
			return nil, err
		}
		if matches(m, f) {
			models = append(models, m)
		}
	}
	sortModels(models)
	return models, nil
}

// FallbackChain returns same-provider alternatives for canonical.
func (r *KV) FallbackChain(ctx context.Context, canonical string) ([]*gateway.ModelConfig, error) {
	base, err := r.GetModel(ctx, canonical)
	if err != nil {
		return nil, err
	}
	all, err := r.ListModels(ctx, Filter{Provider: base.Provider})
	if err != nil {
		return nil, err
	}
	chain := all[:0]
	for _, m := range all {
		if m.Canonical() != base.Canonical() {
			chain = append(chain, m)
		}
	}
	return chain, nil
}
