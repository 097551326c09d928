package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Server config
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	// Session config
	assert.Equal(t, 300*time.Second, cfg.Session.IdleTimeout)
	assert.Equal(t, 60*time.Second, cfg.Session.ReapInterval)
	assert.Equal(t, 256, cfg.Session.SendBuffer)

	// Terminal config
	assert.Equal(t, "/tmp/codehive-workspaces", cfg.Terminal.WorkspaceRoot)
	assert.Equal(t, 8, cfg.Terminal.MaxPerChannel)
	assert.Equal(t, 262144, cfg.Terminal.ScrollbackSize)

	// Auth config
	assert.Empty(t, cfg.Auth.JWTSecret)
	assert.Equal(t, 30*time.Second, cfg.Auth.Leeway)

	// Rate limit config
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadOrDefault(t *testing.T) {
	cfg := LoadOrDefault()

	assert.NotNil(t, cfg)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                     "9000",
		"HOST":                     "127.0.0.1",
		"JWT_SECRET":               "test-secret",
		"JWT_LEEWAY":               "10s",
		"SESSION_IDLE_TIMEOUT":     "120s",
		"SESSION_REAP_INTERVAL":    "15s",
		"SESSION_SEND_BUFFER":      "64",
		"TERMINAL_SHELL":           "/bin/zsh",
		"TERMINAL_MAX_PER_CHANNEL": "2",
		"DATABASE_PATH":            "/tmp/test.db",
		"LOG_LEVEL":                "debug",
		"LOG_DEV":                  "true",
		"RATE_LIMIT_ENABLED":       "false",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "test-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 10*time.Second, cfg.Auth.Leeway)
	assert.Equal(t, 120*time.Second, cfg.Session.IdleTimeout)
	assert.Equal(t, 15*time.Second, cfg.Session.ReapInterval)
	assert.Equal(t, 64, cfg.Session.SendBuffer)
	assert.Equal(t, "/bin/zsh", cfg.Terminal.Shell)
	assert.Equal(t, 2, cfg.Terminal.MaxPerChannel)
	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.False(t, cfg.RateLimit.Enabled)
}
