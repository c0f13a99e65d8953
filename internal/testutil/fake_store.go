package testutil

import (
	"context"
	"sync"
	"time"

	gateway "github.com/lkgate/lkgate/internal"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
type FakeStore struct {
	mu     sync.RWMutex
	keys   map[string]*gateway.APIKey
	models map[string]*gateway.ModelConfig
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		keys:   make(map[string]*gateway.APIKey),
		models: make(map[string]*gateway.ModelConfig),
	}
}

// --- APIKeyStore ---

// CreateKey stores a key record.
func (s *FakeStore) CreateKey(_ context.Context, key *gateway.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; ok {
		return gateway.ErrConflict
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

// GetKey looks up a key by ID.
func (s *FakeStore) GetKey(_ context.Context, id string) (*gateway.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

// GetKeyByLookupHash looks up a key by its SHA-256 lookup hash.
func (s *FakeStore) GetKeyByLookupHash(_ context.Context, hash string) (*gateway.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.LookupHash == hash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, gateway.ErrNotFound
}

// ListKeys returns the org's keys; pagination is ignored.
func (s *FakeStore) ListKeys(_ context.Context, orgID string, _, _ int) ([]*gateway.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*gateway.APIKey
	for _, k := range s.keys {
		if k.OrgID == orgID {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

// UpdateKey replaces a stored key record.
func (s *FakeStore) UpdateKey(_ context.Context, key *gateway.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key.ID]; !ok {
		return gateway.ErrNotFound
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

// DeactivateKey clears is_active on a key record; the record itself stays.
func (s *FakeStore) DeactivateKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	if !ok {
		return gateway.ErrNotFound
	}
	k.IsActive = false
	return nil
}

// TouchKeyUsed records the last-used timestamp.
func (s *FakeStore) TouchKeyUsed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
	}
	return nil
}

// --- ModelStore ---

// CreateModel stores a model record.
func (s *FakeStore) CreateModel(_ context.Context, m *gateway.ModelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.models {
		if existing.Provider == m.Provider && existing.ModelName == m.ModelName {
			return gateway.ErrConflict
		}
	}
	cp := *m
	s.models[m.ID] = &cp
	return nil
}

// GetModel looks up a model by ID.
func (s *FakeStore) GetModel(_ context.Context, id string) (*gateway.ModelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

// ListModels returns stored models, optionally active only.
func (s *FakeStore) ListModels(_ context.Context, activeOnly bool) ([]*gateway.ModelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*gateway.ModelConfig
	for _, m := range s.models {
		if activeOnly && !m.IsActive {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

// UpdateModel replaces a stored model record.
func (s *FakeStore) UpdateModel(_ context.Context, m *gateway.ModelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[m.ID]; !ok {
		return gateway.ErrNotFound
	}
	cp := *m
	s.models[m.ID] = &cp
	return nil
}

// DeleteModel removes a model record.
func (s *FakeStore) DeleteModel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[id]; !ok {
		return gateway.ErrNotFound
	}
	delete(s.models, id)
	return nil
}

// --- lifecycle ---

// Ping always succeeds.
func (s *FakeStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *FakeStore) Close() error { return nil }
