package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Registry  RegistryConfig
	Sandbox   SandboxConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// RegistryConfig holds npm registry client configuration.
type RegistryConfig struct {
	URL               string        `envconfig:"REGISTRY_URL" default:"https://registry.npmjs.org"`
	Timeout           time.Duration `envconfig:"REGISTRY_TIMEOUT" default:"30s"`
	RetryMax          int           `envconfig:"REGISTRY_RETRY_MAX" default:"3"`
	RequestsPerSecond float64       `envconfig:"REGISTRY_RPS" default:"20"`
	Burst             int           `envconfig:"REGISTRY_BURST" default:"40"`
}

// SandboxConfig holds execution boundary configuration.
type SandboxConfig struct {
	WorkerOrigin string        `envconfig:"SANDBOX_WORKER_ORIGIN" default:"https://sandbox.localhost"`
	CallTimeout  time.Duration `envconfig:"SANDBOX_CALL_TIMEOUT" default:"30s"`
	ReadyTimeout time.Duration `envconfig:"SANDBOX_READY_TIMEOUT" default:"10s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Registry: RegistryConfig{
			URL:               "https://registry.npmjs.org",
			Timeout:           30 * time.Second,
			RetryMax:          3,
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Sandbox: SandboxConfig{
			WorkerOrigin: "https://sandbox.localhost",
			CallTimeout:  30 * time.Second,
			ReadyTimeout: 10 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}
