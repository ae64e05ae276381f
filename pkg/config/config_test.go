package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "claude-sonnet-4", cfg.Provider.DefaultModel)
	assert.Equal(t, 5, cfg.Resilience.FailureThreshold)
	assert.Equal(t, 3, cfg.Resilience.MaxRetries)
	assert.Equal(t, 32*time.Second, cfg.Resilience.MaxDelay)
	assert.Equal(t, 0.1, cfg.Resilience.JitterFactor)
	assert.Equal(t, 15*time.Second, cfg.Realtime.HeartbeatInterval)
	assert.Equal(t, 1000, cfg.Realtime.ErrorLogCapacity)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("RESILIENCE_FAILURE_THRESHOLD", "3")
	t.Setenv("RESILIENCE_BASE_DELAY", "250ms")
	t.Setenv("REALTIME_CONNECTION_TIMEOUT", "2m")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Resilience.FailureThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Resilience.BaseDelay)
	assert.Equal(t, 2*time.Minute, cfg.Realtime.ConnectionTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsBadHeartbeat(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("REALTIME_HEARTBEAT_INTERVAL", "2m")
	t.Setenv("REALTIME_CONNECTION_TIMEOUT", "1m")

	_, err := Load()
	assert.Error(t, err)
}

func TestRedisURL(t *testing.T) {
	cfg := &Config{Redis: RedisConfig{Host: "localhost", Port: 6379, DB: 2}}
	assert.Equal(t, "redis://localhost:6379/2", cfg.RedisURL())

	cfg.Redis.Password = "secret"
	assert.Equal(t, "redis://:secret@localhost:6379/2", cfg.RedisURL())
}
