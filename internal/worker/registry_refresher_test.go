package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lkgate/lkgate/internal/registry"
)

type fakeRegistry struct {
	calls atomic.Int64
	err   error
}

func (f *fakeRegistry) Refresh(context.Context) error {
	f.calls.Add(1)
	return f.err
}

type countingRefreshObserver struct {
	success atomic.Int64
	empty   atomic.Int64
	fail    atomic.Int64
}

func (o *countingRefreshObserver) RegistryRefresh(status string) {
	switch status {
	case "success":
		o.success.Add(1)
	case "empty":
		o.empty.Add(1)
	default:
		o.fail.Add(1)
	}
}

func TestRegistryRefresherRefreshesImmediately(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistry{}
	obs := &countingRefreshObserver{}
	w := NewRegistryRefresher(reg, time.Hour, obs, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for reg.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no initial refresh")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if obs.success.Load() != 1 {
		t.Errorf("success count = %d", obs.success.Load())
	}
}

func TestRegistryRefresherCountsEmptyCatalogue(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistry{err: registry.ErrEmptyCatalogue}
	obs := &countingRefreshObserver{}
	w := NewRegistryRefresher(reg, time.Hour, obs, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for obs.empty.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("empty refresh not observed")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if obs.success.Load() != 0 || obs.fail.Load() != 0 {
		t.Errorf("success = %d, fail = %d, want empty only",
			obs.success.Load(), obs.fail.Load())
	}
}

func TestRegistryRefresherSurvivesErrors(t *testing.T) {
	t.Parallel()
	reg := &fakeRegistry{err: errors.New("db down")}
	obs := &countingRefreshObserver{}
	w := NewRegistryRefresher(reg, 10*time.Millisecond, obs, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for reg.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("refresh calls = %d, want >= 3", reg.calls.Load())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("refresh errors must not stop the worker: %v", err)
	}
	if obs.fail.Load() < 3 {
		t.Errorf("failure count = %d", obs.fail.Load())
	}
}

type fakeEvictable struct {
	calls atomic.Int64
}

func (f *fakeEvictable) EvictStale(time.Time) int {
	f.calls.Add(1)
	return 1
}

func TestStaleSweeperSweepsOnTick(t *testing.T) {
	t.Parallel()
	br := &fakeEvictable{}
	w := NewStaleSweeper(br, 10*time.Millisecond, time.Minute, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for br.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("sweeps = %d, want >= 2", br.calls.Load())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
