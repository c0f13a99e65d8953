package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	gateway "github.com/lkgate/lkgate/internal"
	"github.com/lkgate/lkgate/internal/storage"
)

// Bootstrap seeds the model catalogue and API keys declared in the config.
// Existing records always win; seeding never overwrites or reactivates.
func Bootstrap(ctx context.Context, cfg *Config, store storage.Store) error {
	for _, m := range cfg.Models {
		caps := make([]gateway.Capability, 0, len(m.Capabilities))
		for _, c := range m.Capabilities {
			caps = append(caps, gateway.Capability(c))
		}
		mc := &gateway.ModelConfig{
			ID:              uuid.Must(uuid.NewV7()).String(),
			Provider:        m.Provider,
			ModelName:       m.ModelName,
			DisplayName:     m.DisplayName,
			ContextWindow:   m.ContextWindow,
			MaxOutputTokens: m.MaxOutputTokens,
			Capabilities:    caps,
			CostPer1KInput:  m.CostPer1KInput,
			CostPer1KOutput: m.CostPer1KOutput,
			IsActive:        true,
			Priority:        m.Priority,
		}
		if err := store.CreateModel(ctx, mc); err != nil {
			if errors.Is(err, gateway.ErrConflict) {
				continue
			}
			return fmt.Errorf("bootstrap model %s: %w", mc.Canonical(), err)
		}
		slog.Info("bootstrapped model", "model", mc.Canonical())
	}

	for _, k := range cfg.Keys {
		if k.Key == "" {
			continue
		}
		if !strings.HasPrefix(k.Key, cfg.Auth.KeyPrefix) {
			slog.Warn("seed key missing prefix, skipping", "name", k.Name, "prefix", cfg.Auth.KeyPrefix)
			continue
		}
		hash := gateway.HashKey(k.Key)
		if existing, _ := store.GetKeyByLookupHash(ctx, hash); existing != nil {
			continue
		}

		slow, err := bcrypt.GenerateFromPassword([]byte(k.Key), cfg.Auth.BcryptCost)
		if err != nil {
			return fmt.Errorf("bootstrap key %s: %w", k.Name, err)
		}
		preview := k.Key
		if len(preview) > 8 {
			preview = preview[:8]
		}
		rpm := k.RateLimitPerMinute
		if rpm == 0 {
			rpm = cfg.Auth.RateLimitPerMinute
		}

		rec := &gateway.APIKey{
			ID:         uuid.Must(uuid.NewV7()).String(),
			OrgID:      orDefault(k.OrgID, "default"),
			UserID:     orDefault(k.UserID, "admin"),
			Name:       orDefault(k.Name, "bootstrap"),
			LookupHash: hash,
			SlowHash:   string(slow),
			Preview:    preview,
			Permissions: gateway.Permissions{
				CanRead:            true,
				CanWrite:           true,
				CanManageKeys:      k.ManageKeys,
				IsAdmin:            k.Admin,
				RateLimitPerMinute: rpm,
			},
			IsActive:  true,
			CreatedAt: time.Now().UTC(),
		}
		if err := store.CreateKey(ctx, rec); err != nil {
			return fmt.Errorf("bootstrap key %s: %w", rec.Name, err)
		}
		slog.Info("bootstrapped api key", "name", rec.Name, "preview", rec.Preview)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
