package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	"github.com/lkgate/lkgate/internal/auth"
	"github.com/lkgate/lkgate/internal/circuitbreaker"
	"github.com/lkgate/lkgate/internal/config"
	"github.com/lkgate/lkgate/internal/kv"
	"github.com/lkgate/lkgate/internal/provider"
	"github.com/lkgate/lkgate/internal/provider/anthropic"
	"github.com/lkgate/lkgate/internal/provider/gemini"
	"github.com/lkgate/lkgate/internal/provider/openai"
	"github.com/lkgate/lkgate/internal/ratelimit"
	"github.com/lkgate/lkgate/internal/registry"
	"github.com/lkgate/lkgate/internal/router"
	"github.com/lkgate/lkgate/internal/server"
	"github.com/lkgate/lkgate/internal/storage/sqlite"
	"github.com/lkgate/lkgate/internal/telemetry"
	"github.com/lkgate/lkgate/internal/worker"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Environment)
	slog.SetDefault(logger)

	slog.Info("starting lkgate", "version", version, "addr", cfg.Server.Addr, "env", cfg.Environment)

	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()

	kvStore, err := kv.Open(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer kvStore.Close()

	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}

	// Model registry: a shared Redis snapshot when KV is Redis-backed, a
	// per-process snapshot otherwise.
	var modelReg registry.Registry
	if cfg.Redis.URL == "" || cfg.Redis.URL == kv.MemoryURL {
		modelReg = registry.NewLocal(store, logger)
	} else {
		modelReg = registry.NewKV(store, kvStore, logger)
	}
	// Cold start with an unreachable catalogue serves ModelNotFound until the
	// refresher succeeds; the process still comes up.
	if err := modelReg.Refresh(ctx); err != nil {
		slog.Warn("initial registry load failed", "error", err)
	}

	var (
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
		provObs        provider.Observer
		routeObs       router.Observer
		refreshObs     interface{ RegistryRefresh(string) }
	)
	if cfg.Telemetry.Metrics.Enabled {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = telemetry.NewMetrics(promReg)
		metricsHandler = promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})
		provObs = telemetry.NewProviderObserver(metrics, func(providerName, model string) (float64, float64, bool) {
			mc, err := modelReg.GetModel(context.Background(), providerName+":"+model)
			if err != nil {
				return 0, 0, false
			}
			return mc.CostPer1KInput, mc.CostPer1KOutput, true
		})
		routeObs = metrics
		refreshObs = metrics
	}

	if cfg.Telemetry.Tracing.Enabled {
		shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(tctx); err != nil {
				slog.Warn("tracing shutdown", "error", err)
			}
		}()
	}

	// One pooled HTTP client shared by every adapter.
	resolver := &dnscache.Resolver{}
	go refreshDNS(bgCtx, resolver)
	httpClient := &http.Client{Transport: provider.NewTransport(resolver, cfg.Upstream.ConnectTimeout)}

	providers := provider.NewRegistry()
	limits := make(map[string]int64)
	for _, p := range []struct {
		name string
		cfg  config.ProviderConfig
	}{
		{"openai", cfg.Providers.OpenAI},
		{"anthropic", cfg.Providers.Anthropic},
		{"gemini", cfg.Providers.Gemini},
	} {
		if p.cfg.APIKey == "" {
			slog.Info("provider disabled, no api key", "provider", p.name)
			continue
		}
		switch p.name {
		case "openai":
			providers.Register(p.name, openai.New(p.cfg.APIKey, p.cfg.BaseURL, httpClient, provObs))
		case "anthropic":
			providers.Register(p.name, anthropic.New(p.cfg.APIKey, p.cfg.BaseURL, httpClient, provObs))
		case "gemini":
			providers.Register(p.name, gemini.New(p.cfg.APIKey, p.cfg.BaseURL, httpClient, provObs))
		}
		if p.cfg.MaxConcurrent > 0 {
			limits[p.name] = int64(p.cfg.MaxConcurrent)
		}
	}

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
	})

	authSvc, err := auth.NewService(store, kvStore, logger)
	if err != nil {
		return err
	}
	keygen := auth.NewKeygen(store, cfg.Auth.BcryptCost, cfg.Auth.RateLimitPerMinute)
	limiter := ratelimit.New(kvStore, ratelimit.Scope(cfg.Auth.RateLimitScope))

	rtr := router.New(modelReg, providers, breakers, kvStore, limits, routeObs, logger)

	runner := worker.NewRunner(
		worker.NewRegistryRefresher(modelReg, cfg.Registry.RefreshInterval, refreshObs, logger),
		worker.NewStaleSweeper(breakers, 10*time.Minute, time.Hour, logger),
	)
	go func() {
		if err := runner.Run(bgCtx); err != nil {
			slog.Error("worker runner stopped", "error", err)
		}
	}()

	handler := server.New(server.Deps{
		Auth:     authSvc,
		Keygen:   keygen,
		Router:   rtr,
		Registry: modelReg,
		Models:   store,
		Keys:     store,
		Limiter:  limiter,
		Breakers: breakers,

		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		DBPing:         store.Ping,
		KVPing:         kvStore.Ping,

		Version:          version,
		DefaultRateLimit: cfg.Auth.RateLimitPerMinute,
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedRegions:   cfg.CORS.AllowedRegions,
		UpstreamTimeout:  cfg.Upstream.ReadTimeout,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("lkgate ready", "addr", cfg.Server.Addr, "providers", providers.List())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	stopBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	slog.Info("lkgate stopped")
	return nil
}

func newLogger(environment string) *slog.Logger {
	switch environment {
	case "prod", "staging":
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}

// refreshDNS re-resolves cached entries so long-lived processes track
// upstream DNS changes.
func refreshDNS(ctx context.Context, r *dnscache.Resolver) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			r.Refresh(true)
		case <-ctx.Done():
			return
		}
	}
}
