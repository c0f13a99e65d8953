package circuitbreaker

import (
	"sync"
	"testing"
	"time"
)

func TestGetOrCreateReturnsSameBreaker(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultConfig())
	a := r.GetOrCreate("openai")
	b := r.GetOrCreate("openai")
	if a != b {
		t.Error("GetOrCreate returned different breakers for same provider")
	}
	if r.GetOrCreate("anthropic") == a {
		t.Error("distinct providers share a breaker")
	}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultConfig())
	var wg sync.WaitGroup
	results := make([]*Breaker, 50)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.GetOrCreate("gemini")
		}(i)
	}
	wg.Wait()
	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent GetOrCreate returned different breakers")
		}
	}
}

func TestEvictStale(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultConfig())
	stale := r.GetOrCreate("stale")
	stale.mu.Lock()
	stale.lastUsed = time.Now().Add(-2 * time.Hour)
	stale.mu.Unlock()
	r.GetOrCreate("fresh").RecordSuccess()

	evicted := r.EvictStale(time.Now().Add(-time.Hour))
	if evicted != 1 {
		t.Fatalf("evicted = %d, want 1", evicted)
	}
	if r.Get("stale") != nil {
		t.Error("stale breaker still present")
	}
	if r.Get("fresh") == nil {
		t.Error("fresh breaker evicted")
	}
}

func TestStatesSnapshot(t *testing.T) {
	t.Parallel()

	r := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: time.Minute})
	r.GetOrCreate("ok").RecordSuccess()
	r.GetOrCreate("bad").RecordFailure()

	states := r.States()
	if states["ok"] != StateClosed {
		t.Errorf("ok state = %s", states["ok"])
	}
	if states["bad"] != StateOpen {
		t.Errorf("bad state = %s", states["bad"])
	}
}
