// Package main provides the entry point for the OSINTForge server.
// It aggregates open-source intelligence about a person from several
// sources and serves merged, risk-scored reports over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lvonguyen/osintforge/internal/api"
	"github.com/lvonguyen/osintforge/internal/cache"
	"github.com/lvonguyen/osintforge/internal/config"
	"github.com/lvonguyen/osintforge/internal/dedupe"
	"github.com/lvonguyen/osintforge/internal/dispatch"
	"github.com/lvonguyen/osintforge/internal/engine"
	"github.com/lvonguyen/osintforge/internal/normalize"
	"github.com/lvonguyen/osintforge/internal/observability"
	"github.com/lvonguyen/osintforge/internal/source"
	"github.com/lvonguyen/osintforge/internal/store"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file with API keys")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	// Show version and exit
	if *showVersion {
		fmt.Printf("OSINTForge %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	if err := run(*configPath, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "osintforge: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	// Secrets come from the environment; a missing .env file is fine.
	envErr := godotenv.Load(envFile)

	cfg, cfgErr := loadConfig(configPath)
	if cfgErr != nil && !errors.Is(cfgErr, os.ErrNotExist) {
		return cfgErr
	}

	// Initialize telemetry
	telCfg := cfg.Telemetry
	telCfg.ServiceVersion = Version
	telCfg.LogLevel = cfg.Logging.Level
	telCfg.LogFormat = cfg.Logging.Format
	tel, err := observability.New(telCfg)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	logger := tel.Logger()

	logger.Info("starting OSINTForge",
		zap.String("version", Version),
		zap.String("commit", GitCommit),
		zap.String("config", configPath),
	)
	if cfgErr != nil {
		logger.Warn("config file not found, using defaults", zap.String("path", configPath))
	}
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		logger.Warn("failed to load env file", zap.String("path", envFile), zap.Error(envErr))
	}

	// Setup context with cancellation for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel.StartSystemMetricsCollector(ctx)

	// Source adapters
	logger.Info("configuring sources", zap.Strings("enabled", cfg.EnabledSources()))
	registry, err := source.BuildRegistry(cfg.Sources)
	if err != nil {
		logger.Warn("some sources failed to initialize", zap.Error(err))
	}
	if registry.Len() == 0 {
		logger.Warn("no sources available; investigations will fail until one is configured")
	} else {
		logger.Info("sources initialized", zap.Any("kinds", registry.Kinds()))
	}

	// Pipeline
	dispatcher := dispatch.NewDispatcher(
		registry,
		normalize.NewNormalizer(cfg.Normalize),
		dedupe.NewMerger(cfg.Dedupe),
		cfg.Scoring,
		cfg.Investigation,
		dispatch.WithLogger(logger.Named("dispatch")),
		dispatch.WithMetrics(tel.Metrics()),
		dispatch.WithTracer(tel.Tracer()),
	)
	runs := cache.New[*dispatch.Run](cfg.Cache,
		cache.WithLogger(logger.Named("cache")),
		cache.WithMetrics(tel.Metrics()),
	)

	// Optional Redis mirror
	var reports engine.Store
	if cfg.Redis.Enabled {
		rs := store.NewRedisStore(store.NewClient(cfg.Redis), cfg.Redis, cfg.Cache.TTL, logger.Named("store"))
		defer rs.Close()
		if err := rs.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, continuing", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		reports = rs
	}

	eng := engine.New(dispatcher, runs, reports, logger.Named("engine"))
	eng.StartJanitor(ctx, cfg.Server.JanitorInterval)

	apiCfg := cfg.Server.API
	apiCfg.Version = Version
	srv := api.NewServer(eng, registry, tel, logger.Named("api"), apiCfg)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Error("engine shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
	if err := tel.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry shutdown error: %v\n", err)
	}
	return nil
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config.DefaultConfig(), err
		}
		return nil, err
	}
	return cfg, nil
}
