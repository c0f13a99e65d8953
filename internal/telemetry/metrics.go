// Package telemetry provides observability primitives for the gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge

	UpstreamRequests *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	TokensTotal      *prometheus.CounterVec
	CostTotal        *prometheus.CounterVec

	ResponseCacheHits   prometheus.Counter
	ResponseCacheMisses prometheus.Counter
	AuthCacheResults    *prometheus.CounterVec

	RateLimitRejects  prometheus.Counter
	BreakerRejections *prometheus.CounterVec
	RegistryRefreshes *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lkgate",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "lkgate",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lkgate",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lkgate",
			Name:      "upstream_requests_total",
			Help:      "Total upstream provider calls by outcome.",
		}, []string{"provider", "model", "status"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "lkgate",
			Name:                            "upstream_duration_seconds",
			Help:                            "Upstream provider call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"provider", "model"}),

		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lkgate",
			Name:      "tokens_total",
			Help:      "Total tokens processed, split by prompt and completion.",
		}, []string{"provider", "model", "kind"}),

		CostTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lkgate",
			Name:      "cost_usd_total",
			Help:      "Estimated upstream cost in USD, from catalogue per-1k rates.",
		}, []string{"provider", "model"}),

		ResponseCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lkgate",
			Name:      "response_cache_hits_total",
			Help:      "Total response cache hits.",
		}),

		ResponseCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lkgate",
			Name:      "response_cache_misses_total",
			Help:      "Total response cache misses.",
		}),

		AuthCacheResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lkgate",
			Name:      "auth_cache_results_total",
			Help:      "Credential lookups by resolution tier.",
		}, []string{"tier"}),

		RateLimitRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lkgate",
			Name:      "ratelimit_rejects_total",
			Help:      "Total rate limit rejections.",
		}),

		BreakerRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lkgate",
			Name:      "breaker_rejections_total",
			Help:      "Requests skipped because the provider circuit was open.",
		}, []string{"provider"}),

		RegistryRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lkgate",
			Name:      "registry_refreshes_total",
			Help:      "Model registry refresh attempts by outcome.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.TokensTotal,
		m.CostTotal,
		m.ResponseCacheHits,
		m.ResponseCacheMisses,
		m.AuthCacheResults,
		m.RateLimitRejects,
		m.BreakerRejections,
		m.RegistryRefreshes,
	)

	return m
}

// CacheResult records a response cache probe outcome.
func (m *Metrics) CacheResult(hit bool) {
	if hit {
		m.ResponseCacheHits.Inc()
	} else {
		m.ResponseCacheMisses.Inc()
	}
}

// BreakerRejected records a candidate skipped due to an open circuit.
func (m *Metrics) BreakerRejected(providerName string) {
	m.BreakerRejections.WithLabelValues(providerName).Inc()
}

// AuthCacheResult records which tier resolved a credential; "miss" means the
// credential was rejected outright.
func (m *Metrics) AuthCacheResult(tier string) {
	m.AuthCacheResults.WithLabelValues(tier).Inc()
}

// RegistryRefresh records a registry refresh attempt by outcome status:
// "success", "empty" (catalogue had no models, previous snapshot retained),
// or "error".
func (m *Metrics) RegistryRefresh(status string) {
	m.RegistryRefreshes.WithLabelValues(status).Inc()
}
