package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	gateway "github.com/lkgate/lkgate/internal"
)

// GenerateParams describes the key to mint.
type GenerateParams struct {
	OrgID       string
	UserID      string
	Name        string
	Permissions *gateway.Permissions // nil selects the defaults
	TTL         time.Duration        // 0 = never expires
}

// Keygen mints API keys. The plaintext is returned exactly once and never
// stored; the record keeps the SHA-256 lookup hash and a bcrypt hash.
type Keygen struct {
	store      keyWriter
	bcryptCost int
	defaultRPM int
	now        func() time.Time
	newID      func() string
}

type keyWriter interface {
	CreateKey(ctx context.Context, key *gateway.APIKey) error
}

// NewKeygen returns a Keygen writing through store.
func NewKeygen(store keyWriter, bcryptCost, defaultRPM int) *Keygen {
	return &Keygen{
		store:      store,
		bcryptCost: bcryptCost,
		defaultRPM: defaultRPM,
		now:        time.Now,
		newID: func() string {
			id, err := uuid.NewV7()
			if err != nil {
				return uuid.NewString()
			}
			return id.String()
		},
	}
}

// Generate mints a key, persists its record, and returns (record, plaintext).
func (g *Keygen) Generate(ctx context.Context, p GenerateParams) (*gateway.APIKey, string, error) {
	suffix := make([]byte, 32)
	if _, err := rand.Read(suffix); err != nil {
		return nil, "", fmt.Errorf("generate key material: %w", err)
	}
	plaintext := gateway.APIKeyPrefix + base64.RawURLEncoding.EncodeToString(suffix)

	slow, err := bcrypt.GenerateFromPassword([]byte(plaintext), g.bcryptCost)
	if err != nil {
		return nil, "", fmt.Errorf("bcrypt key: %w", err)
	}

	perms := gateway.Permissions{
		CanRead:            true,
		CanWrite:           true,
		RateLimitPerMinute: g.defaultRPM,
	}
	if p.Permissions != nil {
		perms = *p.Permissions
	}

	now := g.now().UTC()
	key := &gateway.APIKey{
		ID:          g.newID(),
		OrgID:       p.OrgID,
		UserID:      p.UserID,
		Name:        p.Name,
		LookupHash:  gateway.HashKey(plaintext),
		SlowHash:    string(slow),
		Preview:     plaintext[:8],
		Permissions: perms,
		IsActive:    true,
		CreatedAt:   now,
	}
	if p.TTL > 0 {
		exp := now.Add(p.TTL)
		key.ExpiresAt = &exp
	}

	if err := g.store.CreateKey(ctx, key); err != nil {
		return nil, "", fmt.Errorf("persist key: %w", err)
	}
	return key, plaintext, nil
}
