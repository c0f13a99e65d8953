// Package router picks the upstream for each completion request: response
// cache probe, registry resolution, fallback chain, circuit breaker gating,
// and per-provider concurrency limits.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	gateway "github.com/lkgate/lkgate/internal"
	"github.com/lkgate/lkgate/internal/circuitbreaker"
	"github.com/lkgate/lkgate/internal/kv"
	"github.com/lkgate/lkgate/internal/provider"
	"github.com/lkgate/lkgate/internal/registry"
)

// DefaultConcurrency bounds in-flight upstream calls per provider when no
// explicit limit is configured.
const DefaultConcurrency = 100

// CacheOptions controls the response cache for one request.
type CacheOptions struct {
	Enabled bool
	TTL     time.Duration
}

// FallbackOptions controls fallback for one request. A nil Models slice means
// no allow-list; an explicit empty slice disables fallback entirely.
type FallbackOptions struct {
	Enabled bool
	Models  []string
}

// Observer receives routing signals. Implemented by the telemetry package.
type Observer interface {
	CacheResult(hit bool)
	BreakerRejected(providerName string)
}

// NopObserver discards all signals.
type NopObserver struct{}

func (NopObserver) CacheResult(bool)       {}
func (NopObserver) BreakerRejected(string) {}

// Outcome is the routing result. Exactly one of Result, Cached, or Stream is
// set: Result for a unary upstream call, Cached for a cache hit, Stream when
// the caller asked for streaming and must drive the adapter itself.
type Outcome struct {
	Decision gateway.Decision
	Result   *gateway.CompletionResult
	Cached   *gateway.CachedResponse
	Stream   *StreamSession
}

// Router routes completion requests to provider adapters.
type Router struct {
	registry  registry.Registry
	providers *provider.Registry
	breakers  *circuitbreaker.Registry
	kv        kv.Store
	logger    *slog.Logger
	obs       Observer

	sems map[string]*semaphore.Weighted
}

// New builds a Router. limits maps provider name to its concurrency bound;
// providers absent from the map get DefaultConcurrency.
func New(reg registry.Registry, providers *provider.Registry, breakers *circuitbreaker.Registry, store kv.Store, limits map[string]int64, obs Observer, logger *slog.Logger) *Router {
	if obs == nil {
		obs = NopObserver{}
	}
	sems := make(map[string]*semaphore.Weighted)
	for _, name := range providers.List() {
		limit := limits[name]
		if limit <= 0 {
			limit = DefaultConcurrency
		}
		sems[name] = semaphore.NewWeighted(limit)
	}
	return &Router{
		registry:  reg,
		providers: providers,
		breakers:  breakers,
		kv:        store,
		logger:    logger,
		obs:       obs,
		sems:      sems,
	}
}

// Route resolves the request to a provider and either returns a cached
// payload, completes it upstream, or hands back a StreamSession.
func (r *Router) Route(ctx context.Context, req *gateway.CompletionRequest, cacheOpts CacheOptions, fbOpts FallbackOptions, streaming bool) (*Outcome, error) {
	var userID, orgID string
	if rc := gateway.RequestContextFrom(ctx); rc != nil {
		userID = rc.Principal.UserID
		orgID = rc.Principal.OrgID
	}

	// Streaming responses are never cached nor served from cache.
	cacheable := cacheOpts.Enabled && !streaming
	var cacheKey string
	if cacheable {
		cacheKey = Fingerprint(req, userID, orgID)
		if cached := r.probeCache(ctx, cacheKey); cached != nil {
			r.obs.CacheResult(true)
			return &Outcome{
				Decision: gateway.Decision{
					Provider:      cached.Provider,
					ProviderModel: cached.Model,
					LogicalModel:  req.Model,
					FromCache:     true,
					FallbackChain: []string{},
				},
				Cached: cached,
			}, nil
		}
		r.obs.CacheResult(false)
	}

	chain, err := r.buildChain(ctx, req.Model, fbOpts)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for i, candidate := range chain {
		breaker := r.breakers.GetOrCreate(candidate.Provider)
		if !breaker.Allow() {
			r.obs.BreakerRejected(candidate.Provider)
			r.logger.LogAttrs(ctx, slog.LevelWarn, "circuit open, skipping candidate",
				slog.String("provider", candidate.Provider),
				slog.String("model", candidate.ModelName))
			if lastErr == nil {
				lastErr = fmt.Errorf("circuit open for %s", candidate.Provider)
			}
			continue
		}

		adapter, err := r.providers.Get(candidate.Provider)
		if err != nil {
			lastErr = err
			continue
		}

		sem := r.sem(candidate.Provider)
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, r.terminal(ctx, err)
		}

		rest := canonicalNames(chain[i+1:])
		decision := gateway.Decision{
			Provider:      candidate.Provider,
			ProviderModel: candidate.ModelName,
			LogicalModel:  req.Model,
			FallbackChain: rest,
		}

		if streaming {
			return &Outcome{
				Decision: decision,
				Stream: &StreamSession{
					adapter: adapter,
					breaker: breaker,
					release: func() { sem.Release(1) },
					model:   candidate.ModelName,
				},
			}, nil
		}

		upReq := *req
		upReq.Model = candidate.ModelName
		result, err := adapter.Complete(ctx, &upReq)
		sem.Release(1)
		if err == nil {
			breaker.RecordSuccess()
			if cacheable {
				r.writeThrough(ctx, cacheKey, result, cacheOpts.TTL)
			}
			return &Outcome{Decision: decision, Result: result}, nil
		}

		breaker.RecordFailure()
		lastErr = err
		var perr *provider.Error
		if errors.As(err, &perr) && !perr.Fallback {
			break
		}
		r.logger.LogAttrs(ctx, slog.LevelWarn, "candidate failed, trying next",
			slog.String("provider", candidate.Provider),
			slog.String("model", candidate.ModelName),
			slog.String("error", err.Error()))
	}

	return nil, r.terminal(ctx, lastErr)
}

// terminal maps the last chain error onto the wire-facing taxonomy.
func (r *Router) terminal(ctx context.Context, lastErr error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", gateway.ErrUpstreamTimeout, lastErr)
	}
	if lastErr == nil {
		return gateway.ErrAllProvidersFailed
	}
	return fmt.Errorf("%w: %w", gateway.ErrAllProvidersFailed, lastErr)
}

// buildChain assembles the ordered candidate list: the primary, then its
// same-provider fallbacks. A caller allow-list intersects the fallbacks; an
// explicit empty list disables them. Duplicates keep their first occurrence.
func (r *Router) buildChain(ctx context.Context, model string, fbOpts FallbackOptions) ([]*gateway.ModelConfig, error) {
	primary, err := r.registry.GetModel(ctx, model)
	if err != nil {
		return nil, err
	}
	chain := []*gateway.ModelConfig{primary}

	if fbOpts.Enabled && (fbOpts.Models == nil || len(fbOpts.Models) > 0) {
		fallbacks, err := r.registry.FallbackChain(ctx, primary.Canonical())
		if err != nil {
			return nil, err
		}
		allowed := make(map[string]bool, len(fbOpts.Models))
		for _, m := range fbOpts.Models {
			allowed[m] = true
		}
		for _, fb := range fallbacks {
			if fbOpts.Models != nil && !allowed[fb.Canonical()] && !allowed[fb.ModelName] {
				continue
			}
			chain = append(chain, fb)
		}
	}

	seen := make(map[string]bool, len(chain))
	deduped := chain[:0]
	for _, m := range chain {
		if seen[m.Canonical()] {
			continue
		}
		seen[m.Canonical()] = true
		deduped = append(deduped, m)
	}
	return deduped, nil
}

func (r *Router) sem(providerName string) *semaphore.Weighted {
	if s, ok := r.sems[providerName]; ok {
		return s
	}
	// Provider registered after construction; fall back to an unshared
	// semaphore rather than panicking.
	return semaphore.NewWeighted(DefaultConcurrency)
}

func (r *Router) probeCache(ctx context.Context, key string) *gateway.CachedResponse {
	raw, err := r.kv.Get(ctx, key)
	if err != nil {
		r.logger.LogAttrs(ctx, slog.LevelWarn, "response cache read failed",
			slog.String("error", err.Error()))
		return nil
	}
	if raw == nil {
		return nil
	}
	var cached gateway.CachedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		r.logger.LogAttrs(ctx, slog.LevelWarn, "response cache entry corrupt",
			slog.String("error", err.Error()))
		return nil
	}
	return &cached
}

// writeThrough stores the result in the response cache. Failures are logged
// and dropped; they never fail the request.
func (r *Router) writeThrough(ctx context.Context, key string, result *gateway.CompletionResult, ttl time.Duration) {
	payload, err := json.Marshal(gateway.CachedResponse{
		Provider:     result.Provider,
		Model:        result.Model,
		Content:      result.Content,
		Usage:        result.Usage,
		FinishReason: result.FinishReason,
	})
	if err != nil {
		return
	}
	if err := r.kv.Set(ctx, key, payload, ttl); err != nil {
		r.logger.LogAttrs(ctx, slog.LevelWarn, "response cache write failed",
			slog.String("error", err.Error()))
	}
}

func canonicalNames(models []*gateway.ModelConfig) []string {
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Canonical()
	}
	return names
}

// StreamSession defers the upstream call so the caller can consume chunks
// directly. Once bytes flow there is no retry and no fallback; a mid-stream
// failure surfaces as stream termination.
type StreamSession struct {
	adapter gateway.Provider
	breaker *circuitbreaker.Breaker
	release func()
	model   string
}

// Start opens the upstream stream. The returned channel mirrors the
// adapter's; the concurrency permit is released when it drains.
func (s *StreamSession) Start(ctx context.Context, req *gateway.CompletionRequest) (<-chan gateway.StreamChunk, error) {
	upReq := *req
	upReq.Model = s.model
	upstream, err := s.adapter.Stream(ctx, &upReq)
	if err != nil {
		s.breaker.RecordFailure()
		s.release()
		return nil, err
	}
	s.breaker.RecordSuccess()

	out := make(chan gateway.StreamChunk)
	go func() {
		defer s.release()
		defer close(out)
		for chunk := range upstream {
			out <- chunk
		}
	}()
	return out, nil
}

// Cancel releases the session's permit without starting the stream.
func (s *StreamSession) Cancel() {
	s.release()
}
