// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Session   SessionConfig
	Terminal  TerminalConfig
	Database  DatabaseConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// AuthConfig holds credential verification configuration. The token format is
// defined by the credential issuer; the server only verifies.
type AuthConfig struct {
	JWTSecret string        `envconfig:"JWT_SECRET" default:""`
	Leeway    time.Duration `envconfig:"JWT_LEEWAY" default:"30s"`
}

// SessionConfig holds presence and idle-reaping configuration.
type SessionConfig struct {
	IdleTimeout  time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"300s"`
	ReapInterval time.Duration `envconfig:"SESSION_REAP_INTERVAL" default:"60s"`
	SendBuffer   int           `envconfig:"SESSION_SEND_BUFFER" default:"256"`
}

// TerminalConfig holds terminal subprocess configuration.
type TerminalConfig struct {
	Shell          string `envconfig:"TERMINAL_SHELL" default:""`
	WorkspaceRoot  string `envconfig:"TERMINAL_WORKSPACE_ROOT" default:"/tmp/codehive-workspaces"`
	MaxPerChannel  int    `envconfig:"TERMINAL_MAX_PER_CHANNEL" default:"8"`
	ScrollbackSize int    `envconfig:"TERMINAL_SCROLLBACK_BYTES" default:"262144"`
	InputPerSecond int    `envconfig:"TERMINAL_INPUT_RPS" default:"200"`
	InputBurst     int    `envconfig:"TERMINAL_INPUT_BURST" default:"400"`
}

// DatabaseConfig holds the SQLite store configuration.
type DatabaseConfig struct {
	Path string `envconfig:"DATABASE_PATH" default:"/tmp/codehive/codehive.db"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds HTTP rate limiting configuration.
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
			Port: "8080",
			Host: "0.0.0.0",
		},
		Auth: AuthConfig{
			Leeway: 30 * time.Second,
		},
		Session: SessionConfig{
			IdleTimeout:  300 * time.Second,
			ReapInterval: 60 * time.Second,
			SendBuffer:   256,
		},
		Terminal: TerminalConfig{
			WorkspaceRoot:  "/tmp/codehive-workspaces",
			MaxPerChannel:  8,
			ScrollbackSize: 262144,
			InputPerSecond: 200,
			InputBurst:     400,
		},
		Database: DatabaseConfig{
			Path: "/tmp/codehive/codehive.db",
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
