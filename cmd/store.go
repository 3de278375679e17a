package cmd

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/corefin/fifo-engine/internal/precision"
	"github.com/corefin/fifo-engine/internal/storage"
	"github.com/corefin/fifo-engine/pkg/config"
)

// openStorage loads env config and connects to the engine's database. Used by
// the one-shot read commands that don't need the full application wiring.
func openStorage() (*storage.Postgres, *config.Config, *zap.Logger, error) {
	loadEnv()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create logger: %w", err)
	}

	store, err := storage.NewPostgres(&storage.PostgresConfig{
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
		User:     cfg.PostgresUser,
		Password: cfg.PostgresPass,
		Database: cfg.PostgresDB,
		SSLMode:  cfg.PostgresSSL,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect storage: %w", err)
	}

	return store, cfg, logger, nil
}

// loadPolicies builds the per-symbol precision set from config.
func loadPolicies(cfg *config.Config) (*precision.Set, error) {
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
