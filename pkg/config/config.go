package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel string
	HTTPPort string

	// Engine
	EngineMaxRetries        int
	EngineRetryInitialDelay time.Duration
	EngineRetryMaxDelay     time.Duration
	EngineRetryBackoffMult  float64
	EngineRunTimeout        time.Duration
	EngineParallelSymbols   int

	// Scheduler
	SchedulerEnabled             bool
	SchedulerIncrementalInterval time.Duration
	SchedulerFullInterval        time.Duration

	// Precision
	PrecisionBaseDecimals  int
	PrecisionQuoteDecimals int
	PrecisionDustThreshold string
	PrecisionOverrides     string

	// Version pointer cache
	CacheNumCounters int64
	CacheMaxItems    int64
	CachePointerTTL  time.Duration

	// Storage
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		// Application defaults
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),

		// Engine defaults
		EngineMaxRetries:        getIntOrDefault("ENGINE_MAX_RETRIES", 3),
		EngineRetryInitialDelay: getDurationOrDefault("ENGINE_RETRY_INITIAL_DELAY", 500*time.Millisecond),
		EngineRetryMaxDelay:     getDurationOrDefault("ENGINE_RETRY_MAX_DELAY", 10*time.Second),
		EngineRetryBackoffMult:  getFloat64OrDefault("ENGINE_RETRY_BACKOFF_MULTIPLIER", 2.0),
		EngineRunTimeout:        getDurationOrDefault("ENGINE_RUN_TIMEOUT", 5*time.Minute),
		EngineParallelSymbols:   getIntOrDefault("ENGINE_PARALLEL_SYMBOLS", 4),

		// Scheduler defaults
		SchedulerEnabled:             getBoolOrDefault("SCHEDULER_ENABLED", true),
		SchedulerIncrementalInterval: getDurationOrDefault("SCHEDULER_INCREMENTAL_INTERVAL", 5*time.Minute),
		SchedulerFullInterval:        getDurationOrDefault("SCHEDULER_FULL_INTERVAL", 24*time.Hour),

		// Precision defaults
		PrecisionBaseDecimals:  getIntOrDefault("PRECISION_BASE_DECIMALS", 8),
		PrecisionQuoteDecimals: getIntOrDefault("PRECISION_QUOTE_DECIMALS", 2),
		PrecisionDustThreshold: getEnvOrDefault("PRECISION_DUST_THRESHOLD", "0.00000001"),
		PrecisionOverrides:     os.Getenv("PRECISION_OVERRIDES"),

		// Cache defaults
		CacheNumCounters: getInt64OrDefault("CACHE_NUM_COUNTERS", 10000),
		CacheMaxItems:    getInt64OrDefault("CACHE_MAX_ITEMS", 1000),
		CachePointerTTL:  getDurationOrDefault("CACHE_POINTER_TTL", 5*time.Second),

		// Storage defaults
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "fifo"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", "fifo123"),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "fifo_engine"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
	}

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	if c.EngineMaxRetries < 0 {
		return fmt.Errorf("ENGINE_MAX_RETRIES cannot be negative, got %d", c.EngineMaxRetries)
	}

	if c.EngineRetryBackoffMult < 1.0 {
		return fmt.Errorf("ENGINE_RETRY_BACKOFF_MULTIPLIER must be >= 1.0, got %f", c.EngineRetryBackoffMult)
	}

	if c.EngineParallelSymbols < 1 {
		return fmt.Errorf("ENGINE_PARALLEL_SYMBOLS must be >= 1, got %d", c.EngineParallelSymbols)
	}

	if c.PrecisionBaseDecimals < 0 || c.PrecisionQuoteDecimals < 0 {
		return fmt.Errorf("precision decimals cannot be negative")
	}

	return nil
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getInt64OrDefault(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}
