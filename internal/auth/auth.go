// Package auth implements API key authentication for the gateway.
// Presented keys are hashed with SHA-256 and resolved through a two-tier
// cache: an in-process otter W-TinyLFU tier backed by the shared KV store,
// falling back to the database with a bcrypt check of the full key.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/bcrypt"

	gateway "github.com/lkgate/lkgate/internal"
	"github.com/lkgate/lkgate/internal/kv"
	"github.com/lkgate/lkgate/internal/storage"
)

const (
	localTTL      = 30 * time.Second  // short enough to pick up key revocations promptly
	localMaxLen   = 10_000            // max concurrent active keys expected per deployment
	sharedTTL     = 300 * time.Second // upper bound for the shared KV tier
	authKeyPrefix = "lkg:auth:apikey:"
)

// CacheTier identifies where a credential lookup was satisfied.
type CacheTier string

const (
	TierLocal  CacheTier = "local"
	TierShared CacheTier = "shared"
	TierDB     CacheTier = "db"
)

// Hit reports whether the lookup avoided the database.
func (t CacheTier) Hit() bool { return t == TierLocal || t == TierShared }

// Result is the outcome of a successful authentication.
type Result struct {
	Principal    gateway.Principal
	Tier         CacheTier
	CacheLatency time.Duration // time spent probing the cache tiers
}

// cachedKey is the compact credential record stored in both cache tiers.
// Negative and expired results are never cached.
type cachedKey struct {
	ID          string              `msgpack:"id"`
	OrgID       string              `msgpack:"org_id"`
	UserID      string              `msgpack:"user_id"`
	Preview     string              `msgpack:"preview"`
	LookupHash  string              `msgpack:"key_hash"`
	IsActive    bool                `msgpack:"is_active"`
	ExpiresAtTS int64               `msgpack:"expires_at_ts"` // unix seconds, 0 = no expiry
	Permissions gateway.Permissions `msgpack:"permissions"`
}

func (c *cachedKey) expired(now time.Time) bool {
	return c.ExpiresAtTS != 0 && c.ExpiresAtTS < now.Unix()
}

func (c *cachedKey) principal() gateway.Principal {
	return gateway.Principal{
		APIKeyID:    c.ID,
		OrgID:       c.OrgID,
		UserID:      c.UserID,
		KeyPreview:  c.Preview,
		Permissions: c.Permissions,
	}
}

// Service authenticates API keys against the store with two-tier caching.
type Service struct {
	store       storage.APIKeyStore
	kv          kv.Store
	local       *otter.Cache[string, *cachedKey]
	logger      *slog.Logger
	keyIDToHash sync.Map // keyID -> lookup hash, for invalidation by key ID
	now         func() time.Time
}

// NewService returns a Service backed by store and the shared KV tier.
func NewService(store storage.APIKeyStore, kvStore kv.Store, logger *slog.Logger) (*Service, error) {
	local, err := otter.New(&otter.Options[string, *cachedKey]{
		MaximumSize:      localMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *cachedKey](localTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create auth cache: %w", err)
	}
	return &Service{
		store:  store,
		kv:     kvStore,
		local:  local,
		logger: logger,
		now:    time.Now,
	}, nil
}

// ExtractCredential pulls the presented API key from a request: the x-api-key
// header wins, then a bearer Authorization header. Returns
// ErrMissingCredential when neither carries a key.
func ExtractCredential(r *http.Request) (string, error) {
	if v := strings.TrimSpace(r.Header.Get("x-api-key")); v != "" {
		return v, nil
	}
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		if v := strings.TrimSpace(authz[7:]); v != "" {
			return v, nil
		}
	}
	return "", gateway.ErrMissingCredential
}

// Authenticate resolves a presented plaintext key to a Principal.
// Cache hits skip the bcrypt check; the SHA-256 lookup hash is
// collision-resistant enough to stand in for possession of the key once the
// record has been verified on the DB path.
func (s *Service) Authenticate(ctx context.Context, plaintext string) (*Result, error) {
	if !strings.HasPrefix(plaintext, gateway.APIKeyPrefix) {
		return nil, gateway.ErrInvalidCredential
	}
	hash := gateway.HashKey(plaintext)

	start := s.now()
	if rec, ok := s.local.GetIfPresent(hash); ok {
		if rec.expired(s.now()) || !rec.IsActive {
			s.local.Invalidate(hash)
		} else {
			return &Result{Principal: rec.principal(), Tier: TierLocal, CacheLatency: s.now().Sub(start)}, nil
		}
	}

	rec, err := s.sharedGet(ctx, hash)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "auth shared cache read failed",
			slog.String("error", err.Error()))
	}
	latency := s.now().Sub(start)
	if rec != nil {
		s.local.Set(hash, rec)
		s.keyIDToHash.Store(rec.ID, hash)
		return &Result{Principal: rec.principal(), Tier: TierShared, CacheLatency: latency}, nil
	}

	return s.authenticateViaDB(ctx, plaintext, hash, latency)
}

func (s *Service) sharedGet(ctx context.Context, hash string) (*cachedKey, error) {
	raw, err := s.kv.Get(ctx, authKeyPrefix+hash)
	if err != nil || raw == nil {
		return nil, err
	}
	var rec cachedKey
	if err := msgpack.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode cached key: %w", err)
	}
	// An expired or deactivated cached entry is a miss; the DB performs the
	// final check and refreshes the cache.
	if rec.expired(s.now()) || !rec.IsActive {
		return nil, nil
	}
	return &rec, nil
}

func (s *Service) authenticateViaDB(ctx context.Context, plaintext, hash string, latency time.Duration) (*Result, error) {
	key, err := s.store.GetKeyByLookupHash(ctx, hash)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return nil, gateway.ErrInvalidCredential
		}
		return nil, err
	}

	// Belt-and-suspenders: constant-time comparison of the stored hash against
	// the computed hash. The DB lookup already matched, but this guards against
	// hypothetical SQL collation or encoding surprises.
	if subtle.ConstantTimeCompare([]byte(key.LookupHash), []byte(hash)) != 1 {
		return nil, gateway.ErrInvalidCredential
	}

	if !key.Usable(s.now()) {
		return nil, gateway.ErrInvalidCredential
	}

	if err := bcrypt.CompareHashAndPassword([]byte(key.SlowHash), []byte(plaintext)); err != nil {
		return nil, gateway.ErrInvalidCredential
	}

	rec := &cachedKey{
		ID:         key.ID,
		OrgID:      key.OrgID,
		UserID:     key.UserID,
		Preview:    key.Preview,
		LookupHash: key.LookupHash,
		IsActive:   key.IsActive,
	}
	if key.ExpiresAt != nil {
		rec.ExpiresAtTS = key.ExpiresAt.Unix()
	}
	rec.Permissions = key.Permissions

	s.local.Set(hash, rec)
	s.keyIDToHash.Store(key.ID, hash)
	s.sharedSet(ctx, rec)

	// Touch last-used timestamp asynchronously.
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.store.TouchKeyUsed(ctx, key.ID); err != nil {
			s.logger.LogAttrs(ctx, slog.LevelWarn, "touch key last_used failed",
				slog.String("key_id", key.ID), slog.String("error", err.Error()))
		}
	}()

	return &Result{Principal: rec.principal(), Tier: TierDB, CacheLatency: latency}, nil
}

// sharedSet writes the record to the KV tier with a TTL capped at the key's
// remaining lifetime. Already-expired records are never written.
func (s *Service) sharedSet(ctx context.Context, rec *cachedKey) {
	ttl := sharedTTL
	if rec.ExpiresAtTS != 0 {
		until := time.Duration(rec.ExpiresAtTS-s.now().Unix()) * time.Second
		if until <= 0 {
			return
		}
		if until < ttl {
			ttl = until
		}
	}
	raw, err := msgpack.Marshal(rec)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "encode cached key failed",
			slog.String("error", err.Error()))
		return
	}
	if err := s.kv.Set(ctx, authKeyPrefix+rec.LookupHash, raw, ttl); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "auth shared cache write failed",
			slog.String("error", err.Error()))
	}
}

// InvalidateByKeyID evicts a key from both cache tiers.
// Used when admin operations (deactivate, update, delete) modify a key.
func (s *Service) InvalidateByKeyID(ctx context.Context, keyID string) {
	hash, ok := s.keyIDToHash.LoadAndDelete(keyID)
	if !ok {
		return
	}
	h := hash.(string)
	s.local.Invalidate(h)
	if err := s.kv.Delete(ctx, authKeyPrefix+h); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "auth shared cache invalidate failed",
			slog.String("key_id", keyID), slog.String("error", err.Error()))
	}
}
