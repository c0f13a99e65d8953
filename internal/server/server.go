// Package server implements the HTTP transport layer for the gateway.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lkgate/lkgate/internal/auth"
	"github.com/lkgate/lkgate/internal/circuitbreaker"
	"github.com/lkgate/lkgate/internal/ratelimit"
	"github.com/lkgate/lkgate/internal/registry"
	"github.com/lkgate/lkgate/internal/router"
	"github.com/lkgate/lkgate/internal/storage"
	"github.com/lkgate/lkgate/internal/telemetry"
)

// PingChecker reports whether a backing store is reachable.
type PingChecker func(ctx context.Context) error

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth     *auth.Service
	Keygen   *auth.Keygen
	Router   *router.Router
	Registry registry.Registry
	Models   storage.ModelStore
	Keys     storage.APIKeyStore
	Limiter  *ratelimit.Limiter
	Breakers *circuitbreaker.Registry

	Metrics        *telemetry.Metrics // nil = no metrics middleware or endpoint
	MetricsHandler http.Handler       // promhttp handler, nil when Metrics is nil
	DBPing         PingChecker        // nil = skipped in health report
	KVPing         PingChecker        // nil = skipped in health report

	Version          string        // build version reported on the index route
	DefaultRateLimit int           // per-minute fallback when a key carries none
	AllowedOrigins   []string      // CORS allow-list; empty disables CORS headers
	AllowedRegions   []string      // residency allow-list; empty disables the gate
	UpstreamTimeout  time.Duration // per-request upstream budget; 0 = no cap
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(requestMetrics(deps.Metrics))
	}
	if len(deps.AllowedOrigins) > 0 {
		r.Use(s.cors)
	}
	if len(deps.AllowedRegions) > 0 {
		r.Use(s.regionGate)
	}

	// System endpoints (no auth)
	r.Get("/", s.handleIndex)
	r.Get("/internal/health", s.handleHealth)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/internal/metrics", deps.MetricsHandler)
	}

	// Client-facing API (auth + rate limit)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)
		r.Post("/v1/chat/completions", s.handleChatCompletion)
		r.Get("/v1/models", s.handleListModels)
	})

	// Admin surface (auth + can_manage_keys)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.requireKeyManager)
		r.Get("/admin/models", s.handleAdminListModels)
		r.Post("/admin/models", s.handleAdminCreateModel)
		r.Patch("/admin/models/{id}", s.handleAdminUpdateModel)
		r.Delete("/admin/models/{id}", s.handleAdminDeleteModel)
		r.Post("/admin/models/refresh", s.handleAdminRefreshModels)
		r.Post("/admin/keys", s.handleAdminCreateKey)
		r.Get("/admin/keys", s.handleAdminListKeys)
		r.Delete("/admin/keys/{id}", s.handleAdminDeleteKey)
	})

	return r
}

type server struct {
	deps Deps
}
