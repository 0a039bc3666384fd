// Package orchestrator wires the service together and runs the HTTP server.
package orchestrator

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kyujaq/hearth/internal/api"
	"github.com/kyujaq/hearth/internal/backend"
	"github.com/kyujaq/hearth/internal/config"
	"github.com/kyujaq/hearth/internal/coordinator"
	"github.com/kyujaq/hearth/internal/embeddings"
	ollamaemb "github.com/kyujaq/hearth/internal/embeddings/ollama"
	"github.com/kyujaq/hearth/internal/health"
	"github.com/kyujaq/hearth/internal/logger"
	"github.com/kyujaq/hearth/internal/memory/policy"
	"github.com/kyujaq/hearth/internal/memory/retrieval"
	"github.com/kyujaq/hearth/internal/memory/store"
	"github.com/kyujaq/hearth/internal/model"
	"github.com/kyujaq/hearth/internal/router"
	"github.com/kyujaq/hearth/internal/shardqueue"
	"github.com/kyujaq/hearth/internal/telemetry"
)

// Run starts the orchestrator HTTP server and blocks until shutdown or error.
func Run() error {
	log := logger.New("hearth-orchestrator")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return err
	}

	log.Info().
		Int("http_port", cfg.HTTPPort).
		Str("db_path", cfg.DBPath).
		Str("embed_provider", cfg.EmbedProvider).
		Bool("vision_enabled", cfg.VisionEnabled).
		Msg("orchestrator starting")

	ctx, stop := newServerContext()
	defer stop()

	st, err := openStore(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("memory store unavailable")
		return err
	}
	defer func() { _ = st.Close() }()

	registry := buildRegistry(cfg)

	monitor := newMonitor(cfg, registry, log)
	go monitor.Run(ctx)

	retriever, err := retrieval.New(st, retrieval.Config{
		CacheTTL:      cfg.CacheTTL,
		SearchTimeout: cfg.SearchTimeout,
	}, log)
	if err != nil {
		log.Error().Err(err).Msg("retrieval client init failed")
		return err
	}

	queueCfg, err := shardqueue.LoadConfig()
	if err != nil {
		log.Error().Err(err).Msg("queue config invalid")
		return err
	}
	queueCfg.ErrorHandler = func(err error) {
		log.Error().Err(err).Msg("persistence job failed")
	}
	queue := shardqueue.NewExecutor(queueCfg, log)

	rt := router.New(
		registry,
		monitor,
		router.NewClassifier(cfg.ClassifierWordThreshold, cfg.DeepKeywords),
		router.NewAffinityTable(cfg.AffinityTTL),
		log,
	)

	pol := &policy.Engine{
		EphemeralMaxChars: cfg.EphemeralMaxChars,
		MinAssistantChars: cfg.MinAssistantChars,
	}

	coord := coordinator.New(st, retriever, rt, registry, pol, queue, coordinator.Options{
		ContextCharBudget: cfg.ContextCharBudget,
	}, log)

	go runEviction(ctx, cfg, st, log)

	svcHealth := startHealthCheckers(ctx, cfg, st, registry, log)

	if err := waitUntilHealthy(ctx, cfg.HealthInterval, svcHealth); err != nil {
		log.Error().Err(err).Msg("dependencies did not become healthy in time")
		queue.Stop()
		return err
	}

	handler := api.NewRouter(api.RouterDeps{
		Turns:       coord,
		Memory:      st,
		IsHealthy:   svcHealth.IsHealthy,
		TurnTimeout: cfg.TurnTimeout,
		Log:         log,
	})

	server := newHTTPServer(ctx, cfg, handler)
	errCh := serveHTTP(server, log, cfg)

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
			queue.Stop()
			return err
		}
		// Drain queued persistence work before exit.
		queue.Stop()
		log.Info().Msg("server exited")
		return nil
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
		queue.Stop()
		return err
	}
}

func openStore(cfg *config.Config, log zerolog.Logger) (*store.Store, error) {
	var emb embeddings.Provider
	switch cfg.EmbedProvider {
	case "hash":
		emb = embeddings.NewHashProvider()
	default:
		emb = ollamaemb.New(cfg.OllamaURL, cfg.EmbedModel, cfg.SearchTimeout)
	}

	indexPath := ""
	if cfg.DBPath != "" {
		indexPath = cfg.DBPath + ".vec"
	}
	defaults := store.Runtime{
		Autosave: cfg.AutosaveEnabled,
		MinScore: cfg.MinScore,
		TopK:     cfg.TopK,
	}
	return store.Open(cfg.DBPath, indexPath, emb, defaults, log)
}

func buildRegistry(cfg *config.Config) *backend.Registry {
	opts := backend.OllamaOptions{
		GenerateTimeout: cfg.GenerateTimeout,
		ConnectTimeout:  cfg.ConnectTimeout,
		ProbePath:       cfg.ProbePath,
	}

	reg := backend.NewRegistry()
	reg.Register(backend.Descriptor{
		Name:                    "fast",
		Class:                   model.ClassFast,
		BaseURL:                 cfg.FastBackendURL,
		Model:                   cfg.FastModel,
		MaxTokens:               cfg.MaxTokens,
		IdleUtilization:         cfg.IdleUtilization,
		HardFallbackUtilization: cfg.HardFallbackUtilization,
		MinFreeResourceMB:       cfg.MinFreeResourceMB,
	}, backend.NewOllamaClient(cfg.FastBackendURL, cfg.FastModel, opts))

	reg.Register(backend.Descriptor{
		Name:                    "deep",
		Class:                   model.ClassDeep,
		BaseURL:                 cfg.DeepBackendURL,
		Model:                   cfg.DeepModel,
		MaxTokens:               cfg.MaxTokens,
		IdleUtilization:         cfg.IdleUtilization,
		HardFallbackUtilization: cfg.HardFallbackUtilization,
		MinFreeResourceMB:       cfg.MinFreeResourceMB,
	}, backend.NewOllamaClient(cfg.DeepBackendURL, cfg.DeepModel, opts))

	if cfg.VisionEnabled {
		reg.Register(backend.Descriptor{
			Name:                    "vision",
			Class:                   model.ClassVision,
			BaseURL:                 cfg.VisionBackendURL,
			Model:                   cfg.VisionModel,
			MaxTokens:               cfg.MaxTokens,
			IdleUtilization:         cfg.IdleUtilization,
			HardFallbackUtilization: cfg.HardFallbackUtilization,
			MinFreeResourceMB:       cfg.MinFreeResourceMB,
		}, backend.NewOllamaClient(cfg.VisionBackendURL, cfg.VisionModel, opts))
	}
	return reg
}

func newMonitor(cfg *config.Config, reg *backend.Registry, log zerolog.Logger) *telemetry.Monitor {
	probers := make(map[string]telemetry.Prober)
	for _, name := range reg.Names() {
		if client, ok := reg.Client(name); ok {
			probers[name] = client
		}
	}
	return telemetry.NewMonitor(probers, cfg.PollInterval, cfg.ProbeTimeout, cfg.TelemetryWindow, log)
}

// runEviction prunes expired unpinned records on a fixed interval.
func runEviction(ctx context.Context, cfg *config.Config, st *store.Store, log zerolog.Logger) {
	retention := map[model.Tier]time.Duration{
		model.TierShort:  cfg.TierShortRetention,
		model.TierMedium: cfg.TierMediumRetention,
		model.TierLong:   cfg.TierLongRetention,
	}

	ticker := time.NewTicker(cfg.EvictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted, err := st.Evict(ctx, retention)
			if err != nil {
				log.Error().Err(err).Msg("eviction pass failed")
				continue
			}
			total := 0
			for _, n := range evicted {
				total += n
			}
			if total > 0 {
				log.Info().Interface("evicted", evicted).Msg("eviction pass complete")
			}
		}
	}
}

func startHealthCheckers(ctx context.Context, cfg *config.Config, st *store.Store, reg *backend.Registry, log zerolog.Logger) *health.ServiceChecker {
	var checkers []health.Checker

	storeChecker := health.NewPingChecker("store", st.HealthCheck, cfg.HealthProbeTimeout)
	go storeChecker.Start(ctx, cfg.HealthInterval)
	checkers = append(checkers, storeChecker)

	// The fast backend is the only hard dependency for serving turns; heavy
	// backends degrade to fallback when down.
	if client, ok := reg.Client("fast"); ok {
		fastChecker := health.NewPingChecker("backend-fast", func(pctx context.Context) error {
			_, err := client.StatsProbe(pctx)
			return err
		}, cfg.HealthProbeTimeout)
		go fastChecker.Start(ctx, cfg.HealthInterval)
		checkers = append(checkers, fastChecker)
	}

	svc := health.NewServiceChecker(log, checkers...)
	go svc.Start(ctx, cfg.HealthInterval)
	return svc
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.TurnTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// startupHealthTimeout returns the startup health window, twice the probe
// interval with a 60 second floor.
func startupHealthTimeout(interval time.Duration) time.Duration {
	timeout := 2 * interval
	if timeout < 60*time.Second {
		return 60 * time.Second
	}
	return timeout
}

// waitUntilHealthy blocks until service health turns healthy or the startup
// window expires. Checkers start unhealthy and need their first probe cycle
// to flip.
func waitUntilHealthy(ctx context.Context, interval time.Duration, svcHealth *health.ServiceChecker) error {
	timeout := startupHealthTimeout(interval)
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if svcHealth.IsHealthy() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("startup aborted: dependencies not healthy within %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// newServerContext returns a context cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
