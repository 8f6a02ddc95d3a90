// Package config loads orchestrator configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all orchestrator configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Structured store (required — the engine fails fast without it)
	DBPath string `envconfig:"CONDUCTOR_DB_PATH" required:"true"`

	// Vector store. Optional: when VectorDir is empty the vector side is
	// disabled and context assembly runs in degraded (structured-only) mode.
	VectorDir     string `envconfig:"CONDUCTOR_VECTOR_DIR"`
	EmbedEndpoint string `envconfig:"CONDUCTOR_EMBED_ENDPOINT"` // OpenAI-compatible /v1 base URL
	EmbedAPIKey   string `envconfig:"CONDUCTOR_EMBED_API_KEY"`
	EmbedModel    string `envconfig:"CONDUCTOR_EMBED_MODEL" default:"text-embedding-3-small"`

	// Queue
	PollInterval    time.Duration `envconfig:"CONDUCTOR_POLL_INTERVAL" default:"1s"`
	MaxPollInterval time.Duration `envconfig:"CONDUCTOR_MAX_POLL_INTERVAL" default:"30s"`
	ClaimTimeout    time.Duration `envconfig:"CONDUCTOR_CLAIM_TIMEOUT" default:"10m"`
	SweepInterval   time.Duration `envconfig:"CONDUCTOR_SWEEP_INTERVAL" default:"1m"`
	MaxAttempts     int           `envconfig:"CONDUCTOR_MAX_ATTEMPTS" default:"3"`
	MaxPayloadBytes int           `envconfig:"CONDUCTOR_MAX_PAYLOAD_BYTES" default:"262144"`

	// Context assembly
	ContextBudgetBytes int `envconfig:"CONDUCTOR_CONTEXT_BUDGET_BYTES" default:"32768"`
	ContextTopK        int `envconfig:"CONDUCTOR_CONTEXT_TOP_K" default:"5"`
	ContextRecentN     int `envconfig:"CONDUCTOR_CONTEXT_RECENT_N" default:"10"`

	// Executor. ExecutorCmd names an external binary invoked per task; when
	// empty, a scripted stand-in executor answers with explicitly mocked
	// results.
	ExecutorCmd    string        `envconfig:"CONDUCTOR_EXECUTOR_CMD"`
	ExecuteTimeout time.Duration `envconfig:"CONDUCTOR_EXECUTE_TIMEOUT" default:"5m"`
	SentinelDir    string        `envconfig:"CONDUCTOR_SENTINEL_DIR"`

	// Phase definitions override (optional YAML file; built-ins when empty)
	PhaseFile string `envconfig:"CONDUCTOR_PHASE_FILE"`

	// HTTP surfaces
	APIListenAddr     string `envconfig:"CONDUCTOR_API_ADDR" default:":8090"`
	MetricsListenAddr string `envconfig:"CONDUCTOR_METRICS_ADDR" default:":9090"`
}

// VectorEnabled returns true if a vector store directory is configured.
func (c *Config) VectorEnabled() bool {
	return c.VectorDir != ""
}

// EmbedEnabled returns true if an embedding endpoint is configured.
func (c *Config) EmbedEnabled() bool {
	return c.EmbedEndpoint != ""
}

// SentinelEnabled returns true if a sentinel watch directory is configured.
func (c *Config) SentinelEnabled() bool {
	return c.SentinelDir != ""
}

// Load reads configuration from environment variables. Missing required
// parameters are an error, not a silent degradation.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.MaxPollInterval < c.PollInterval {
		return fmt.Errorf("max poll interval %s is below poll interval %s", c.MaxPollInterval, c.PollInterval)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.MaxPayloadBytes < 1024 {
		return fmt.Errorf("max payload bytes must be at least 1024, got %d", c.MaxPayloadBytes)
	}
	return nil
}
