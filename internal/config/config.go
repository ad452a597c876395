// Package config provides configuration loading for processd.
//
// Configuration is read from an optional YAML file and overridden by
// PROCESSD_-prefixed environment variables, then completed with defaults.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete processd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Engine        EngineConfig        `koanf:"engine"`
	Store         StoreConfig         `koanf:"store"`
	NATS          NATSConfig          `koanf:"nats"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds logging and OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	Endpoint        string `koanf:"endpoint"`
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"`

	// LogOTEL tees log entries into the global OTEL logger provider.
	LogOTEL bool `koanf:"log_otel"`
}

// EngineConfig holds orchestration settings.
type EngineConfig struct {
	// RecentFailures bounds the per-tool recent failure buffer.
	RecentFailures int `koanf:"recent_failures"`

	// DefinitionsPath is an optional YAML file of contracts and patterns
	// loaded in addition to the built-in catalog.
	DefinitionsPath string `koanf:"definitions_path"`

	Rollback RollbackConfig `koanf:"rollback"`
}

// RollbackConfig controls compensation retries and pacing.
type RollbackConfig struct {
	MaxAttempts    int      `koanf:"max_attempts"`
	InitialBackoff Duration `koanf:"initial_backoff"`
	MaxBackoff     Duration `koanf:"max_backoff"`
	Multiplier     float64  `koanf:"multiplier"`

	// RatePerSecond limits compensating calls; zero disables the limit.
	RatePerSecond float64 `koanf:"rate_per_second"`
	Burst         int     `koanf:"burst"`
}

// StoreConfig selects the row store the built-in tools write to.
type StoreConfig struct {
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
}

// NATSConfig configures run event publishing.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	Token         Secret `koanf:"token"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// Store drivers.
const (
	StoreMemory = "memory"
	StoreBolt   = "bolt"
)

// Default returns a configuration populated with defaults.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	if c.Observability.LogFormat != "json" && c.Observability.LogFormat != "console" {
		return fmt.Errorf("invalid log format: %q", c.Observability.LogFormat)
	}
	if c.Engine.RecentFailures < 1 {
		return fmt.Errorf("recent_failures must be positive, got %d", c.Engine.RecentFailures)
	}

	rb := c.Engine.Rollback
	if rb.MaxAttempts < 1 {
		return fmt.Errorf("rollback max_attempts must be >= 1, got %d", rb.MaxAttempts)
	}
	if rb.Multiplier < 1 {
		return fmt.Errorf("rollback multiplier must be >= 1, got %v", rb.Multiplier)
	}
	if rb.MaxBackoff.Duration() < rb.InitialBackoff.Duration() {
		return errors.New("rollback max_backoff must be >= initial_backoff")
	}
	if rb.RatePerSecond < 0 {
		return errors.New("rollback rate_per_second cannot be negative")
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreBolt:
		if c.Store.Path == "" {
			return errors.New("store path required for bolt driver")
		}
	default:
		return fmt.Errorf("unknown store driver: %q", c.Store.Driver)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats url required when nats is enabled")
	}
	return nil
}
