package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all daemon configuration, populated from LAUNCHER_-prefixed
// environment variables.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	Install   InstallConfig
	Terminal  TerminalConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `envconfig:"HOST" default:"127.0.0.1"`
	Port string `envconfig:"PORT" default:"9191"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// InstallConfig holds install workflow configuration.
type InstallConfig struct {
	// PinBaseURL serves the per-release pin documents.
	PinBaseURL string `envconfig:"PIN_BASE_URL" default:"https://update.invoke.ai"`
	// UVPath locates the uv binary; bare names resolve via PATH.
	UVPath string `envconfig:"UV_PATH" default:"uv"`
}

// TerminalConfig holds PTY session configuration.
type TerminalConfig struct {
	HistoryLines int `envconfig:"HISTORY_LINES" default:"2000"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("LAUNCHER", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
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
			Host: "127.0.0.1",
			Port: "9191",
		},
		Logging: LogConfig{
			Level: "info",
		},
		Install: InstallConfig{
			PinBaseURL: "https://update.invoke.ai",
			UVPath:     "uv",
		},
		Terminal: TerminalConfig{
			HistoryLines: 2000,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}

// Address returns the host:port the HTTP server binds.
func (c ServerConfig) Address() string {
	return c.Host + ":" + c.Port
}
