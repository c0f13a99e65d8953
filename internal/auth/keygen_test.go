package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	gateway "github.com/lkgate/lkgate/internal"
)

type captureStore struct {
	created *gateway.APIKey
}

func (c *captureStore) CreateKey(_ context.Context, k *gateway.APIKey) error {
	c.created = k
	return nil
}

func TestGenerateKey(t *testing.T) {
	t.Parallel()

	store := &captureStore{}
	g := NewKeygen(store, bcrypt.MinCost, 120)

	key, plaintext, err := g.Generate(context.Background(), GenerateParams{
		OrgID:  "org-1",
		UserID: "user-1",
		Name:   "ci",
	})
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(plaintext, gateway.APIKeyPrefix) {
		t.Errorf("plaintext %q missing prefix", plaintext)
	}
	if key.Preview != plaintext[:8] {
		t.Errorf("preview = %q, want %q", key.Preview, plaintext[:8])
	}
	if key.LookupHash != gateway.HashKey(plaintext) {
		t.Error("lookup hash does not match plaintext")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.SlowHash), []byte(plaintext)); err != nil {
		t.Error("slow hash does not verify against plaintext")
	}
	if strings.Contains(key.SlowHash, plaintext) || key.LookupHash == plaintext {
		t.Error("plaintext leaked into stored record")
	}
	if !key.IsActive || key.ExpiresAt != nil {
		t.Errorf("key = active %v, expires %v", key.IsActive, key.ExpiresAt)
	}
	if key.Permissions.RateLimitPerMinute != 120 {
		t.Errorf("default rpm = %d, want 120", key.Permissions.RateLimitPerMinute)
	}
	if store.created == nil || store.created.ID != key.ID {
		t.Error("record not persisted")
	}
}

func TestGenerateKeyWithTTLAndPerms(t *testing.T) {
	t.Parallel()

	store := &captureStore{}
	g := NewKeygen(store, bcrypt.MinCost, 120)
	perms := &gateway.Permissions{CanRead: true, CanManageKeys: true, RateLimitPerMinute: 10}

	key, _, err := g.Generate(context.Background(), GenerateParams{
		OrgID:       "org-1",
		Permissions: perms,
		TTL:         time.Hour,
	})
	if err != nil {
		t.Fatal(err)
	}
	if key.ExpiresAt == nil {
		t.Fatal("expires_at not set")
	}
	if until := time.Until(*key.ExpiresAt); until < 59*time.Minute || until > 61*time.Minute {
		t.Errorf("expiry %v not ~1h out", until)
	}
	if !key.Permissions.CanManageKeys || key.Permissions.RateLimitPerMinute != 10 {
		t.Errorf("permissions = %+v", key.Permissions)
	}
}

func TestGeneratedKeysAreUnique(t *testing.T) {
	t.Parallel()

	g := NewKeygen(&captureStore{}, bcrypt.MinCost, 0)
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		_, plaintext, err := g.Generate(context.Background(), GenerateParams{OrgID: "o"})
		if err != nil {
			t.Fatal(err)
		}
		if seen[plaintext] {
			t.Fatal("duplicate key generated")
		}
		seen[plaintext] = true
	}
}
