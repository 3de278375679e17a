package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/corefin/fifo-engine/internal/engine"
	"github.com/corefin/fifo-engine/internal/fifo"
	"github.com/corefin/fifo-engine/internal/httpapi"
	"github.com/corefin/fifo-engine/internal/ledger"
	"github.com/corefin/fifo-engine/internal/precision"
	"github.com/corefin/fifo-engine/internal/scheduler"
	"github.com/corefin/fifo-engine/internal/snapshot"
	"github.com/corefin/fifo-engine/internal/storage"
	"github.com/corefin/fifo-engine/internal/validate"
	"github.com/corefin/fifo-engine/internal/version"
	"github.com/corefin/fifo-engine/pkg/cache"
	"github.com/corefin/fifo-engine/pkg/config"
	"github.com/corefin/fifo-engine/pkg/healthprobe"
)

// New creates a new application instance.
func New(cfg *config.Config, logger *zap.Logger, opts *Options) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	healthChecker := healthprobe.New()

	policies, err := setupPolicies(cfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup precision policies: %w", err)
	}

	store, err := setupStorage(cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup storage: %w", err)
	}

	pointerCache, err := setupCache(cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup cache: %w", err)
	}

	ledgerReader := ledger.NewPostgresLedgerFromDB(store.DB(), logger)
	snapshotStore := snapshot.NewPostgresStore(store.DB(), logger)

	pointers := version.NewPointerStore(store.DB(), logger)
	cachedPointers := version.NewCachedPointer(pointers, pointerCache, cfg.CachePointerTTL, logger)

	publisher := version.NewPublisher(&version.PublisherConfig{
		Committer:   store,
		Invalidator: cachedPointers,
		Logger:      logger,
	})

	orchestrator := engine.New(
		engine.Config{
			MaxRetries:        cfg.EngineMaxRetries,
			RetryInitialDelay: cfg.EngineRetryInitialDelay,
			RetryMaxDelay:     cfg.EngineRetryMaxDelay,
			RetryBackoffMult:  cfg.EngineRetryBackoffMult,
			RunTimeout:        cfg.EngineRunTimeout,
			ParallelSymbols:   cfg.EngineParallelSymbols,
			Logger:            logger,
		},
		ledgerReader,
		fifo.NewMatcher(policies, logger),
		validate.New(policies, ledgerReader, logger),
		snapshotStore,
		store,
		cachedPointers,
		publisher,
	)

	healthChecker.RegisterCheck("database", func(ctx context.Context) error {
		return store.DB().PingContext(ctx)
	})

	httpServer := httpapi.New(&httpapi.Config{
		Port:          cfg.HTTPPort,
		Logger:        logger,
		HealthChecker: healthChecker,
		Versions:      cachedPointers,
		Allocations:   store,
		Runs:          store,
		Policies:      policies,
	})

	var sched *scheduler.Scheduler
	if cfg.SchedulerEnabled && !opts.DisableScheduler {
		sched = scheduler.New(&scheduler.Config{
			Computer:            orchestrator,
			IncrementalInterval: cfg.SchedulerIncrementalInterval,
			FullInterval:        cfg.SchedulerFullInterval,
			Logger:              logger,
		})
	}

	return &App{
		cfg:           cfg,
		logger:        logger,
		healthChecker: healthChecker,
		httpServer:    httpServer,
		scheduler:     sched,
		orchestrator:  orchestrator,
		storage:       store,
		ledger:        ledgerReader,
		pointerCache:  pointerCache,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Orchestrator exposes the run driver for one-shot CLI commands.
func (a *App) Orchestrator() *engine.Orchestrator {
	return a.orchestrator
}

// Storage exposes the engine's store for one-shot CLI commands.
func (a *App) Storage() *storage.Postgres {
	return a.storage
}

func setupPolicies(cfg *config.Config) (*precision.Set, error) {
	fallback, err := precision.NewPolicy(cfg.PrecisionBaseDecimals, cfg.PrecisionQuoteDecimals, cfg.PrecisionDustThreshold)
	if err != nil {
		return nil, fmt.Errorf("parse default policy: %w", err)
	}

	overrides, err := precision.ParseOverrides(cfg.PrecisionOverrides)
	if err != nil {
		return nil, fmt.Errorf("parse overrides: %w", err)
	}

	return precision.NewSet(fallback, overrides), nil
}

func setupStorage(cfg *config.Config, logger *zap.Logger) (*storage.Postgres, error) {
	return storage.NewPostgres(&storage.PostgresConfig{
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
		User:     cfg.PostgresUser,
		Password: cfg.PostgresPass,
		Database: cfg.PostgresDB,
		SSLMode:  cfg.PostgresSSL,
		Logger:   logger,
	})
}

func setupCache(cfg *config.Config, logger *zap.Logger) (cache.Cache, error) {
	return cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: cfg.CacheNumCounters,
		MaxCost:     cfg.CacheMaxItems,
		BufferItems: 64,
		Logger:      logger,
	})
}
