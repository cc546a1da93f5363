// Kestrel - behavioral anomaly scoring for accounts, logins and access control.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/cases"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/notify"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("KESTREL_CONFIG"), "Path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"timezone", cfg.Engine.Timezone,
		"rules_file", cfg.RulesFile,
	)
	if cfg.Tracing.Enabled {
		slog.Info("tracing enabled; spans go to the globally registered provider", "service", cfg.Tracing.ServiceName)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("kestrel stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("kestrel shutdown complete")
}

func run(ctx context.Context, cfg *domain.Config, logger *slog.Logger) error {
	// Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	store := repository.NewCachedStore(repo, cacheImpl, cfg.Cache.ProfileTTL, logger)

	// EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	notifier := notify.Multi{notify.NewBusNotifier(busImpl), notify.NewLogNotifier(logger)}

	// Rules
	compiler, err := rules.NewCompiler()
	if err != nil {
		return fmt.Errorf("failed to initialize rule compiler: %w", err)
	}
	catalog := rules.NewCatalog(store, compiler, logger)

	if cfg.RulesFile != "" {
		seeder := rules.NewSeeder(cfg.RulesFile, store, catalog, logger)
		if _, err := seeder.Apply(ctx); err != nil {
			return fmt.Errorf("failed to seed rules from %s: %w", cfg.RulesFile, err)
		}
		stopWatch, err := seeder.Watch(ctx)
		if err != nil {
			slog.Warn("rules file will not be hot reloaded", "path", cfg.RulesFile, "error", err)
		} else {
			defer stopWatch()
		}
	}
	if _, err := catalog.Reload(ctx); err != nil {
		return err
	}
	slog.Info("rule catalog initialized", "rules_count", catalog.Snapshot().Len())

	// Engine
	loc, err := cfg.Engine.Location()
	if err != nil {
		return err
	}
	eng, err := engine.New(engine.Options{
		Store:    store,
		Catalog:  catalog,
		Reads:    velocity.NewService(cacheImpl, loc),
		Notifier: notifier,
		Engine:   cfg.Engine,
		Scoring:  cfg.Scoring,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	// Async worker
	asyncWorker := worker.NewWorker(busImpl, eng)
	if err := asyncWorker.Start(worker.Config{
		Shards:    cfg.Engine.WorkerShards,
		QueueSize: cfg.Engine.WorkerQueueSize,
	}); err != nil {
		return fmt.Errorf("failed to start async worker: %w", err)
	}
	defer asyncWorker.Stop()

	// Server
	srv := api.NewServer(cfg.Server, api.Deps{
		Engine:   eng,
		Store:    store,
		Catalog:  catalog,
		Workflow: cases.NewWorkflow(store),
		Bus:      busImpl,
		Version:  Version,
	})

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	return nil
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL  behavioral anomaly scoring")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Store:    %s\n", cfg.Repository.Driver)
	fmt.Printf("  Bus:      %s\n", cfg.EventBus.Type)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /v1/score/onboarding     - Score a registration attempt")
	fmt.Println("    POST /v1/score/login          - Score a login")
	fmt.Println("    POST /v1/score/access         - Score a credential scan")
	fmt.Println("    POST /v1/events               - Queue an event for async scoring")
	fmt.Println("    GET  /v1/rules                - List rules")
	fmt.Println("    POST /v1/rules                - Create a rule")
	fmt.Println("    PUT  /v1/rules/{id}           - Replace a rule")
	fmt.Println("    POST /v1/rules/{id}/disable   - Disable a rule")
	fmt.Println("    POST /v1/rules/reload         - Hot-reload rules")
	fmt.Println("    GET  /v1/cases                - List detection cases")
	fmt.Println("    POST /v1/cases/{id}/status    - Move a case through review")
	fmt.Println("    GET  /health, /ready, /metrics")
	fmt.Println()
}
