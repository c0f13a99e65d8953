// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"

	gateway "github.com/lkgate/lkgate/internal"
)

// APIKeyStore manages API key persistence.
type APIKeyStore interface {
	CreateKey(ctx context.Context, key *gateway.APIKey) error
	GetKey(ctx context.Context, id string) (*gateway.APIKey, error)
	GetKeyByLookupHash(ctx context.Context, hash string) (*gateway.APIKey, error)
	ListKeys(ctx context.Context, orgID string, offset, limit int) ([]*gateway.APIKey, error)
	UpdateKey(ctx context.Context, key *gateway.APIKey) error
	// DeactivateKey revokes a key by clearing is_active. Key rows are never
	// physically deleted; the preview and usage trail stay queryable.
	DeactivateKey(ctx context.Context, id string) error
	TouchKeyUsed(ctx context.Context, id string) error
}

// ModelStore manages the model catalogue.
type ModelStore interface {
	CreateModel(ctx context.Context, m *gateway.ModelConfig) error
	GetModel(ctx context.Context, id string) (*gateway.ModelConfig, error)
	ListModels(ctx context.Context, activeOnly bool) ([]*gateway.ModelConfig, error)
	UpdateModel(ctx context.Context, m *gateway.ModelConfig) error
	DeleteModel(ctx context.Context, id string) error
}

// Store combines all storage interfaces.
type Store interface {
	APIKeyStore
	ModelStore
	Ping(ctx context.Context) error
	Close() error
}
