package kv

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Memory is the in-process Store used for single-node deployments and tests.
// Expiry is checked lazily on access; a background sweeper is not needed
// because every key class the gateway writes is also read on its hot path.
type Memory struct {
	mu      sync.Mutex
	strings map[string][]byte
	hashes  map[string]map[string][]byte
	sets    map[string]map[string]struct{}
	expiry  map[string]time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		strings: make(map[string][]byte),
		hashes:  make(map[string]map[string][]byte),
		sets:    make(map[string]map[string]struct{}),
		expiry:  make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetClock replaces the store's clock. Test helper.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// expired reports whether key is past its expiry, deleting it if so.
// Caller must hold mu.
func (m *Memory) expired(key string) bool {
	at, ok := m.expiry[key]
	if !ok || m.now().Before(at) {
		return false
	}
	m.drop(key)
	return true
}

// drop removes key from every keyspace. Caller must hold mu.
func (m *Memory) drop(key string) {
	delete(m.strings, key)
	delete(m.hashes, key)
	delete(m.sets, key)
	delete(m.expiry, key)
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return nil, nil
	}
	val, ok := m.strings[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, val, ttl)
	return nil
}

func (m *Memory) setLocked(key string, val []byte, ttl time.Duration) {
	stored := make([]byte, len(val))
	copy(stored, val)
	m.strings[key] = stored
	if ttl > 0 {
		m.expiry[key] = m.now().Add(ttl)
	} else {
		delete(m.expiry, key)
	}
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired(key)
	var n int64
	if raw, ok := m.strings[key]; ok {
		parsed, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("incr on non-integer value at %q", key)
		}
		n = parsed
	}
	n++
	m.strings[key] = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return nil
	}
	if _, ok := m.strings[key]; !ok {
		if _, ok = m.hashes[key]; !ok {
			if _, ok = m.sets[key]; !ok {
				return nil
			}
		}
	}
	m.expiry[key] = m.now().Add(ttl)
	return nil
}

func (m *Memory) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return -1, nil
	}
	at, ok := m.expiry[key]
	if !ok {
		return -1, nil
	}
	return at.Sub(m.now()), nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.drop(k)
	}
	return nil
}

func (m *Memory) HGet(_ context.Context, key, field string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return nil, nil
	}
	h, ok := m.hashes[key]
	if !ok {
		return nil, nil
	}
	val, ok := h[field]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (m *Memory) HSet(_ context.Context, key string, fields map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hsetLocked(key, fields)
	return nil
}

func (m *Memory) hsetLocked(key string, fields map[string][]byte) {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string][]byte, len(fields))
		m.hashes[key] = h
	}
	for f, v := range fields {
		stored := make([]byte, len(v))
		copy(stored, v)
		h[f] = stored
	}
}

func (m *Memory) HGetAll(_ context.Context, key string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return map[string][]byte{}, nil
	}
	h := m.hashes[key]
	out := make(map[string][]byte, len(h))
	for f, v := range h {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[f] = cp
	}
	return out, nil
}

func (m *Memory) HMGet(_ context.Context, key string, fields ...string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(fields))
	if m.expired(key) {
		return out, nil
	}
	h := m.hashes[key]
	for i, f := range fields {
		if v, ok := h[f]; ok {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[i] = cp
		}
	}
	return out, nil
}

func (m *Memory) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expired(key) {
		return nil, nil
	}
	s := m.sets[key]
	out := make([]string, 0, len(s))
	for member := range s {
		out = append(out, member)
	}
	return out, nil
}

func (m *Memory) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saddLocked(key, members)
	return nil
}

func (m *Memory) saddLocked(key string, members []string) {
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{}, len(members))
		m.sets[key] = s
	}
	for _, member := range members {
		s[member] = struct{}{}
	}
}

// Pipeline buffers commands and applies them under a single lock acquisition,
// so concurrent readers never observe a partially applied batch.
func (m *Memory) Pipeline(_ context.Context, fn func(Pipe) error) error {
	p := &memoryPipe{}
	if err := fn(p); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range p.ops {
		op(m)
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

type memoryPipe struct {
	ops []func(*Memory)
}

func (p *memoryPipe) Delete(keys ...string) {
	keys = append([]string(nil), keys...)
	p.ops = append(p.ops, func(m *Memory) {
		for _, k := range keys {
			m.drop(k)
		}
	})
}

func (p *memoryPipe) Set(key string, val []byte, ttl time.Duration) {
	val = append([]byte(nil), val...)
	p.ops = append(p.ops, func(m *Memory) { m.setLocked(key, val, ttl) })
}

func (p *memoryPipe) HSet(key string, fields map[string][]byte) {
	cp := make(map[string][]byte, len(fields))
	for f, v := range fields {
		cp[f] = append([]byte(nil), v...)
	}
	p.ops = append(p.ops, func(m *Memory) { m.hsetLocked(key, cp) })
}

func (p *memoryPipe) SAdd(key string, members ...string) {
	members = append([]string(nil), members...)
	p.ops = append(p.ops, func(m *Memory) { m.saddLocked(key, members) })
}
