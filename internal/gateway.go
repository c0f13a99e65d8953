// Package gateway defines domain types and interfaces for the lkgate LLM gateway.
// This package has no project imports -- it is the dependency root.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// --- Provider contract ---

// Provider is the interface implemented by all LLM provider adapters.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "anthropic", "gemini").
	Name() string
	// Complete sends a non-streaming completion request.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error)
	// Stream sends a streaming completion request. The returned channel is
	// finite and single-consumer; the producer closes it after the final
	// chunk (non-empty FinishReason) or an error chunk.
	Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error)
}

// Message is a unified chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the domain-level request passed to provider adapters.
type CompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	Temperature float64           `json:"temperature"`
	MaxTokens   *int              `json:"max_tokens,omitempty"`
	Tools       json.RawMessage   `json:"tools,omitempty"`
	ToolChoice  json.RawMessage   `json:"tool_choice,omitempty"`
	RequestID   string            `json:"request_id"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Usage holds token counts for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns prompt + completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// CompletionResult is the normalized completion result from a provider.
type CompletionResult struct {
	Provider     string          `json:"provider"`
	Model        string          `json:"model"`
	Content      string          `json:"content"`
	Usage        Usage           `json:"usage"`
	FinishReason string          `json:"finish_reason"`
	Raw          json.RawMessage `json:"-"`
}

// StreamChunk is an incremental streaming chunk. A chunk with a non-empty
// FinishReason terminates the sequence.
type StreamChunk struct {
	Delta        string
	Usage        *Usage // non-nil on final chunk when the provider reports usage
	FinishReason string
	Err          error
}

// --- Model catalogue ---

// Capability is a model feature flag stored in the catalogue.
type Capability string

const (
	CapStreaming   Capability = "streaming"
	CapTools       Capability = "tools"
	CapVision      Capability = "vision"
	CapJSONMode    Capability = "json_mode"
	CapLongContext Capability = "long_context"
)

// KnownCapabilities enumerates all valid capability values.
var KnownCapabilities = []Capability{CapStreaming, CapTools, CapVision, CapJSONMode, CapLongContext}

// ModelConfig is a catalogue entry for one usable backend model.
// (provider, model_name) is unique across the catalogue.
type ModelConfig struct {
	ID              string       `json:"id"`
	Provider        string       `json:"provider"`
	ModelName       string       `json:"model_name"`
	DisplayName     string       `json:"display_name"`
	ContextWindow   int          `json:"context_window"`
	MaxOutputTokens int          `json:"max_output_tokens"`
	Capabilities    []Capability `json:"capabilities"`
	CostPer1KInput  float64      `json:"cost_per_1k_input"`
	CostPer1KOutput float64      `json:"cost_per_1k_output"`
	IsActive        bool         `json:"is_active"`
	Priority        int          `json:"priority"`
}

// Canonical returns the "provider:model_name" identifier.
func (m *ModelConfig) Canonical() string { return m.Provider + ":" + m.ModelName }

// HasCapability reports whether the model advertises cap.
func (m *ModelConfig) HasCapability(cap Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// --- Credentials and identity ---

// Permissions are the authorization flags and limits bound to an API key.
// Immutable once attached to a request.
type Permissions struct {
	CanRead            bool `json:"can_read" msgpack:"can_read"`
	CanWrite           bool `json:"can_write" msgpack:"can_write"`
	CanManageKeys      bool `json:"can_manage_keys" msgpack:"can_manage_keys"`
	IsAdmin            bool `json:"is_admin" msgpack:"is_admin"`
	RateLimitPerMinute int  `json:"rate_limit_per_minute" msgpack:"rate_limit_per_minute"`
}

// APIKey is the credential record. The plaintext key is never stored; only
// the stable SHA-256 lookup hash and a bcrypt slow hash at rest.
type APIKey struct {
	ID          string      `json:"id"`
	OrgID       string      `json:"org_id"`
	UserID      string      `json:"user_id"`
	Name        string      `json:"name"`
	LookupHash  string      `json:"-"`       // SHA-256 hex, unique
	SlowHash    string      `json:"-"`       // bcrypt, never exposed
	Preview     string      `json:"preview"` // first 8 chars for display
	Permissions Permissions `json:"permissions"`
	IsActive    bool        `json:"is_active"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time  `json:"last_used_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Usable reports whether the key is active and unexpired at the given instant.
func (k *APIKey) Usable(now time.Time) bool {
	if !k.IsActive {
		return false
	}
	return k.ExpiresAt == nil || k.ExpiresAt.After(now)
}

// Principal is the authenticated identity derived per request.
type Principal struct {
	APIKeyID    string      `json:"api_key_id"`
	OrgID       string      `json:"org_id"`
	UserID      string      `json:"user_id"`
	KeyPreview  string      `json:"key_preview"`
	Permissions Permissions `json:"-"`
}

// RequestContext bundles the principal with connection facts for one request.
type RequestContext struct {
	Principal  Principal
	LookupHash string // SHA-256 hex of the presented key, rate-limit counter key
	ClientIP   string
}

// --- Routing ---

// Decision records the routing outcome for one request.
type Decision struct {
	Provider      string   `json:"provider"`
	ProviderModel string   `json:"provider_model"`
	LogicalModel  string   `json:"logical_model"`
	FromCache     bool     `json:"from_cache"`
	FallbackChain []string `json:"fallback_chain"`
}

// CachedResponse is the canonical-JSON payload stored in the response cache.
type CachedResponse struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Content      string `json:"content"`
	Usage        Usage  `json:"usage"`
	FinishReason string `json:"finish_reason"`
}

// --- Context plumbing ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The RequestContext field is set later by the auth gate via mutation of the
// same pointer, avoiding a second context.WithValue + Request.WithContext.
type requestMeta struct {
	RequestID string
	Reqctx    *RequestContext
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// RequestContextFrom extracts the authenticated request context, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	if m := metaFromContext(ctx); m != nil {
		return m.Reqctx
	}
	return nil
}

// ContextWithRequestContext stores rc in the existing requestMeta if present,
// avoiding a new context.WithValue allocation. Falls back to creating new
// metadata if none exists (e.g., in tests).
func ContextWithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Reqctx = rc
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Reqctx: rc})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// --- Shared constants and helpers ---

// APIKeyPrefix is the prefix for all lkgate API keys.
const APIKeyPrefix = "lkg_"

// HashKey returns the hex-encoded SHA-256 lookup hash of a raw API key.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
