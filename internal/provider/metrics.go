package provider

import gateway "github.com/lkgate/lkgate/internal"

// Observer receives the per-adapter observability signals: request counts by
// status, upstream latency, and token usage (from which the implementation
// also derives cost).
type Observer interface {
	RequestCount(provider, model, status string)
	RequestDuration(provider, model string, seconds float64)
	Usage(provider, model string, u gateway.Usage)
}

// NopObserver discards all signals. Useful in tests.
type NopObserver struct{}

func (NopObserver) RequestCount(_, _, _ string)            {}
func (NopObserver) RequestDuration(_, _ string, _ float64) {}
func (NopObserver) Usage(_, _ string, _ gateway.Usage)     {}
