package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "https://api.mfapi.in/mf", cfg.MFAPIBaseURL)
	assert.Equal(t, 30*time.Second, cfg.MFAPITimeout)
	assert.Equal(t, "redis", cfg.RateLimit.Backend)
	assert.True(t, cfg.RateLimit.FailOpen)
	assert.Equal(t, 300*time.Second, cfg.RateLimit.WaitDeadline)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr())
	assert.Equal(t, "0 6 * * *", cfg.CronSchedule)
	assert.Equal(t, "Asia/Kolkata", cfg.CronTimezone)
	assert.Equal(t, "kreditbee", cfg.MySQL.Database)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RATE_LIMIT_BACKEND", "memory")
	t.Setenv("RATE_LIMIT_FAIL_OPEN", "false")
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("MYSQL_DATABASE", "navdb")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr())
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.False(t, cfg.RateLimit.FailOpen)
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr())
	assert.Equal(t, "navdb", cfg.MySQL.Database)
}

func TestBuckets_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	buckets := cfg.Buckets()
	require.Len(t, buckets, 3)
	assert.Equal(t, "per_second", buckets[0].Name)
	assert.Equal(t, 2, buckets[0].Capacity)
	assert.Equal(t, time.Second, buckets[0].Interval)
	assert.Equal(t, 50, buckets[1].Capacity)
	assert.Equal(t, 300, buckets[2].Capacity)
}

func TestBuckets_Overrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_SECOND_CAPACITY", "5")
	t.Setenv("RATE_LIMIT_PER_SECOND_REFILL_RATE", "5")
	t.Setenv("RATE_LIMIT_PER_SECOND_INTERVAL_MS", "2000")
	t.Setenv("RATE_LIMIT_PER_HOUR_CAPACITY", "600")

	cfg, err := Load()
	require.NoError(t, err)

	buckets := cfg.Buckets()
	assert.Equal(t, 5, buckets[0].Capacity)
	assert.InDelta(t, 5.0, buckets[0].RefillRate, 1e-9)
	assert.Equal(t, 2*time.Second, buckets[0].Interval)

	// Untouched tiers keep their defaults.
	assert.Equal(t, 50, buckets[1].Capacity)
	assert.Equal(t, 600, buckets[2].Capacity)
	assert.Equal(t, time.Hour, buckets[2].Interval)
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		cfg := Config{LogLevel: tt.level}
		assert.Equal(t, tt.want, cfg.SlogLevel(), "level %q", tt.level)
	}
}
