// Package testutil provides shared fakes for gateway tests.
package testutil

import (
	"context"
	"errors"
	"sync/atomic"

	gateway "github.com/lkgate/lkgate/internal"
)

// FakeProvider is a scriptable gateway.Provider.
type FakeProvider struct {
	ProviderName string
	CompleteFn   func(ctx context.Context, req *gateway.CompletionRequest) (*gateway.CompletionResult, error)
	StreamFn     func(ctx context.Context, req *gateway.CompletionRequest) (<-chan gateway.StreamChunk, error)

	completeCalls atomic.Int64
	streamCalls   atomic.Int64
}

// NewFakeProvider returns a provider that echoes a canned completion.
func NewFakeProvider(name string) *FakeProvider {
	return &FakeProvider{
		ProviderName: name,
		CompleteFn: func(_ context.Context, req *gateway.CompletionRequest) (*gateway.CompletionResult, error) {
			return &gateway.CompletionResult{
				Provider:     name,
				Model:        req.Model,
				Content:      "response from " + req.Model,
				Usage:        gateway.Usage{PromptTokens: 5, CompletionTokens: 3},
				FinishReason: "stop",
			}, nil
		},
	}
}

// Name returns the provider identifier.
func (f *FakeProvider) Name() string { return f.ProviderName }

// Complete invokes CompleteFn and counts the call.
func (f *FakeProvider) Complete(ctx context.Context, req *gateway.CompletionRequest) (*gateway.CompletionResult, error) {
	f.completeCalls.Add(1)
	return f.CompleteFn(ctx, req)
}

// Stream invokes StreamFn and counts the call.
func (f *FakeProvider) Stream(ctx context.Context, req *gateway.CompletionRequest) (<-chan gateway.StreamChunk, error) {
	f.streamCalls.Add(1)
	if f.StreamFn == nil {
		return nil, errors.New("streaming not stubbed")
	}
	return f.StreamFn(ctx, req)
}

// CompleteCalls reports how many completions were attempted.
func (f *FakeProvider) CompleteCalls() int64 { return f.completeCalls.Load() }

// StreamCalls reports how many streams were attempted.
func (f *FakeProvider) StreamCalls() int64 { return f.streamCalls.Load() }

// StaticStream returns a StreamFn that replays the given chunks.
func StaticStream(chunks ...gateway.StreamChunk) func(context.Context, *gateway.CompletionRequest) (<-chan gateway.StreamChunk, error) {
	return func(context.Context, *gateway.CompletionRequest) (<-chan gateway.StreamChunk, error) {
		ch := make(chan gateway.StreamChunk, len(chunks))
		for _, c := range chunks {
			ch <- c
		}
		close(ch)
		return ch, nil
	}
}
