package telemetry

import (
	gateway "github.com/lkgate/lkgate/internal"
)

// RateLookup resolves per-1k token rates for a provider/model pair. It
// usually closes over the model registry; returning ok=false skips the cost
// counter for that call.
type RateLookup func(providerName, model string) (inPer1K, outPer1K float64, ok bool)

// ProviderObserver feeds adapter signals into Prometheus. It satisfies the
// provider package's Observer interface.
type ProviderObserver struct {
	metrics *Metrics
	rates   RateLookup
}

// NewProviderObserver wires adapter telemetry to m. rates may be nil.
func NewProviderObserver(m *Metrics, rates RateLookup) *ProviderObserver {
	return &ProviderObserver{metrics: m, rates: rates}
}

// RequestCount increments the upstream call counter.
func (o *ProviderObserver) RequestCount(providerName, model, status string) {
	o.metrics.UpstreamRequests.WithLabelValues(providerName, model, status).Inc()
}

// RequestDuration observes one upstream call latency.
func (o *ProviderObserver) RequestDuration(providerName, model string, seconds float64) {
	o.metrics.UpstreamDuration.WithLabelValues(providerName, model).Observe(seconds)
}

// Usage records token counts and, when rates are known, the derived cost.
func (o *ProviderObserver) Usage(providerName, model string, u gateway.Usage) {
	o.metrics.TokensTotal.WithLabelValues(providerName, model, "prompt").Add(float64(u.PromptTokens))
	o.metrics.TokensTotal.WithLabelValues(providerName, model, "completion").Add(float64(u.CompletionTokens))
	if o.rates == nil {
		return
	}
	inRate, outRate, ok := o.rates(providerName, model)
	if !ok {
		return
	}
	cost := float64(u.PromptTokens)/1000*inRate + float64(u.CompletionTokens)/1000*outRate
	if cost > 0 {
		o.metrics.CostTotal.WithLabelValues(providerName, model).Add(cost)
	}
}
