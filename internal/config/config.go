// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Scorer selection modes.
const (
	ScorerModeLive = "live" // real model API over HTTP
	ScorerModeStub = "stub" // deterministic stub, no network
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Storage
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisAddr   string // Redis address (optional, uses in-memory state if not set)
	RedisDB     int

	// Message bus
	KafkaBrokers string
	KafkaTopic   string
	KafkaGroupID string

	// Model scoring
	ModelAPIURL      string
	ModelTimeout     time.Duration
	ScorerMode       string // "live" or "stub"
	ScorerFailClosed bool   // abort events on scorer failure instead of failing open

	// Alert feed
	PollInterval time.Duration

	// Observability
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultKafkaBrokers = "localhost:9092"
	DefaultKafkaTopic   = "transactions"
	DefaultKafkaGroupID = "fraudwatch"
	DefaultModelTimeout = 3000 * time.Millisecond
	DefaultPollInterval = 1000 * time.Millisecond
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RedisAddr:        os.Getenv("REDIS_ADDR"),   // Optional, uses in-memory if not set
		RedisDB:          int(getEnvInt64("REDIS_DB", 0)),
		KafkaBrokers:     getEnv("KAFKA_BROKERS", DefaultKafkaBrokers),
		KafkaTopic:       getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		KafkaGroupID:     getEnv("KAFKA_GROUP_ID", DefaultKafkaGroupID),
		ModelAPIURL:      os.Getenv("MODEL_API_URL"),
		ModelTimeout:     getEnvMillis("MODEL_TIMEOUT_MS", DefaultModelTimeout),
		ScorerMode:       getEnv("SCORER_MODE", ScorerModeLive),
		ScorerFailClosed: getEnvBool("SCORER_FAIL_CLOSED", false),
		PollInterval:     getEnvMillis("POLL_INTERVAL_MS", DefaultPollInterval),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	switch c.ScorerMode {
	case ScorerModeLive:
		if c.ModelAPIURL == "" {
			return fmt.Errorf("MODEL_API_URL is required when SCORER_MODE=live")
		}
	case ScorerModeStub:
	default:
		return fmt.Errorf("SCORER_MODE must be %q or %q, got %q", ScorerModeLive, ScorerModeStub, c.ScorerMode)
	}

	if c.KafkaBrokers == "" {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MS must be positive")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil && i > 0 {
			return time.Duration(i) * time.Millisecond
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
