package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	gateway "github.com/lkgate/lkgate/internal"
	"github.com/lkgate/lkgate/internal/kv"
)

type fakeKeyStore struct {
	mu      sync.Mutex
	byHash  map[string]*gateway.APIKey
	gets    int
	touches int
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{byHash: make(map[string]*gateway.APIKey)}
}

func (f *fakeKeyStore) add(k *gateway.APIKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byHash[k.LookupHash] = k
}

func (f *fakeKeyStore) GetKeyByLookupHash(_ context.Context, hash string) (*gateway.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	k, ok := f.byHash[hash]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (f *fakeKeyStore) TouchKeyUsed(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches++
	return nil
}

func (f *fakeKeyStore) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func (f *fakeKeyStore) CreateKey(context.Context, *gateway.APIKey) error { return nil }
func (f *fakeKeyStore) GetKey(context.Context, string) (*gateway.APIKey, error) {
	return nil, gateway.ErrNotFound
}
func (f *fakeKeyStore) ListKeys(context.Context, string, int, int) ([]*gateway.APIKey, error) {
	return nil, nil
}
func (f *fakeKeyStore) UpdateKey(context.Context, *gateway.APIKey) error { return nil }
func (f *fakeKeyStore) DeactivateKey(context.Context, string) error      { return nil }

func seedKey(t *testing.T, store *fakeKeyStore, plaintext string, mutate func(*gateway.APIKey)) *gateway.APIKey {
	t.Helper()
	slow, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	k := &gateway.APIKey{
		ID:         "key-1",
		OrgID:      "org-1",
		UserID:     "user-1",
		LookupHash: gateway.HashKey(plaintext),
		SlowHash:   string(slow),
		Preview:    plaintext[:8],
		Permissions: gateway.Permissions{
			CanRead:            true,
			RateLimitPerMinute: 60,
		},
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if mutate != nil {
		mutate(k)
	}
	store.add(k)
	return k
}

func newTestService(t *testing.T, store *fakeKeyStore, shared kv.Store) *Service {
	t.Helper()
	svc, err := NewService(store, shared, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

func TestExtractCredential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers map[string]string
		want    string
		wantErr error
	}{
		{"x-api-key", map[string]string{"x-api-key": "lkg_abc"}, "lkg_abc", nil},
		{"bearer", map[string]string{"Authorization": "Bearer lkg_abc"}, "lkg_abc", nil},
		{"bearer case-insensitive", map[string]string{"Authorization": "bearer lkg_abc"}, "lkg_abc", nil},
		{"x-api-key wins over bearer", map[string]string{"x-api-key": "lkg_x", "Authorization": "Bearer lkg_y"}, "lkg_x", nil},
		{"missing", nil, "", gateway.ErrMissingCredential},
		{"basic auth ignored", map[string]string{"Authorization": "Basic Zm9v"}, "", gateway.ErrMissingCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest("POST", "/v1/chat/completions", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			got, err := ExtractCredential(r)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("credential = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuthenticateDBThenLocalCache(t *testing.T) {
	t.Parallel()

	store := newFakeKeyStore()
	plaintext := "lkg_test-key-material"
	seedKey(t, store, plaintext, nil)
	svc := newTestService(t, store, kv.NewMemory())
	ctx := context.Background()

	res, err := svc.Authenticate(ctx, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if res.Tier != TierDB {
		t.Errorf("first lookup tier = %s, want db", res.Tier)
	}
	if res.Principal.APIKeyID != "key-1" || res.Principal.OrgID != "org-1" {
		t.Errorf("principal = %+v", res.Principal)
	}
	if !res.Principal.Permissions.CanRead {
		t.Error("permissions lost through DB path")
	}

	res, err = svc.Authenticate(ctx, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if res.Tier != TierLocal {
		t.Errorf("second lookup tier = %s, want local", res.Tier)
	}
	if !res.Tier.Hit() {
		t.Error("local tier should report a cache hit")
	}
	if n := store.getCount(); n != 1 {
		t.Errorf("store gets = %d, want 1", n)
	}
}

func TestAuthenticateSharedTier(t *testing.T) {
	t.Parallel()

	shared := kv.NewMemory()
	store := newFakeKeyStore()
	plaintext := "lkg_shared-tier-key"
	seedKey(t, store, plaintext, nil)
	ctx := context.Background()

	// First replica authenticates via DB and populates the shared tier.
	first := newTestService(t, store, shared)
	if _, err := first.Authenticate(ctx, plaintext); err != nil {
		t.Fatal(err)
	}

	// A fresh replica with a cold local cache hits the shared tier,
	// skipping both the DB and the bcrypt check.
	second := newTestService(t, store, shared)
	res, err := second.Authenticate(ctx, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if res.Tier != TierShared {
		t.Errorf("tier = %s, want shared", res.Tier)
	}
	if res.Principal.KeyPreview != plaintext[:8] {
		t.Errorf("preview = %q", res.Principal.KeyPreview)
	}
	if n := store.getCount(); n != 1 {
		t.Errorf("store gets = %d, want 1", n)
	}
}

func TestAuthenticateRejections(t *testing.T) {
	t.Parallel()

	store := newFakeKeyStore()
	expired := "lkg_expired-key-material"
	seedKey(t, store, expired, func(k *gateway.APIKey) {
		k.ID = "key-expired"
		past := time.Now().Add(-time.Hour)
		k.ExpiresAt = &past
	})
	inactive := "lkg_inactive-key-material"
	seedKey(t, store, inactive, func(k *gateway.APIKey) {
		k.ID = "key-inactive"
		k.IsActive = false
	})
	wrongSlow := "lkg_tampered-key-material"
	seedKey(t, store, wrongSlow, func(k *gateway.APIKey) {
		k.ID = "key-tampered"
		other, _ := bcrypt.GenerateFromPassword([]byte("lkg_different"), bcrypt.MinCost)
		k.SlowHash = string(other)
	})

	shared := kv.NewMemory()
	svc := newTestService(t, store, shared)
	ctx := context.Background()

	tests := []struct {
		name string
		key  string
	}{
		{"no prefix", "sk-whatever"},
		{"unknown", "lkg_unknown-key"},
		{"expired", expired},
		{"inactive", inactive},
		{"bcrypt mismatch", wrongSlow},
	}
	for _, tt := range tests {
		if _, err := svc.Authenticate(ctx, tt.key); !errors.Is(err, gateway.ErrInvalidCredential) {
			t.Errorf("%s: err = %v, want ErrInvalidCredential", tt.name, err)
		}
	}

	// Failed lookups must never be cached in the shared tier.
	for _, tt := range tests {
		raw, err := shared.Get(ctx, authKeyPrefix+gateway.HashKey(tt.key))
		if err != nil {
			t.Fatal(err)
		}
		if raw != nil {
			t.Errorf("%s: negative result cached", tt.name)
		}
	}
}

func TestExpiredSharedEntryIsAMiss(t *testing.T) {
	t.Parallel()

	shared := kv.NewMemory()
	store := newFakeKeyStore()
	plaintext := "lkg_soon-to-expire-key"
	seedKey(t, store, plaintext, func(k *gateway.APIKey) {
		future := time.Now().Add(time.Hour)
		k.ExpiresAt = &future
	})

	svc := newTestService(t, store, shared)
	ctx := context.Background()
	if _, err := svc.Authenticate(ctx, plaintext); err != nil {
		t.Fatal(err)
	}

	// Simulate clock advance past key expiry on a replica with a cold local
	// cache: the stale shared record must be treated as a miss and the DB,
	// now authoritative, rejects the expired key.
	later := newTestService(t, store, shared)
	later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := later.Authenticate(ctx, plaintext); !errors.Is(err, gateway.ErrInvalidCredential) {
		t.Fatalf("err = %v, want ErrInvalidCredential", err)
	}
}

func TestInvalidateByKeyID(t *testing.T) {
	t.Parallel()

	shared := kv.NewMemory()
	store := newFakeKeyStore()
	plaintext := "lkg_revocable-key-zzz"
	seedKey(t, store, plaintext, nil)

	svc := newTestService(t, store, shared)
	ctx := context.Background()
	if _, err := svc.Authenticate(ctx, plaintext); err != nil {
		t.Fatal(err)
	}

	svc.InvalidateByKeyID(ctx, "key-1")

	res, err := svc.Authenticate(ctx, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if res.Tier != TierDB {
		t.Errorf("tier after invalidation = %s, want db", res.Tier)
	}
}
