package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ARENA_STORE", "memory")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":8081", cfg.StreamAddr)
	assert.Equal(t, 10, cfg.TimeControlMinutes)
	assert.Equal(t, 3, cfg.ConflictRetries)
	assert.Equal(t, 168*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 30*time.Second, cfg.SettleRetryInterval)
	assert.Equal(t, 1200, cfg.DefaultRating)
	assert.Zero(t, cfg.RateLimitPerMinute)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ARENA_STORE", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("ARENA_TIME_CONTROL_MINUTES", "3")
	t.Setenv("ARENA_INCREMENT_SECONDS", "2")
	t.Setenv("ARENA_SESSION_TTL_HOURS", "0")
	t.Setenv("ARENA_CONFLICT_RETRIES", "-4")
	t.Setenv("ARENA_RATE_LIMIT_PER_MIN", "120")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.Equal(t, 3, cfg.TimeControlMinutes)
	assert.Equal(t, 2, cfg.IncrementSeconds)
	assert.Equal(t, time.Duration(0), cfg.SessionTTL)
	assert.Equal(t, 3, cfg.ConflictRetries)
}

func TestLoadRequiresRedisURL(t *testing.T) {
	t.Setenv("ARENA_STORE", "")
	t.Setenv("REDIS_URL", "")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("ARENA_STORE", "etcd")
	_, err = Load()
	assert.Error(t, err)
}
