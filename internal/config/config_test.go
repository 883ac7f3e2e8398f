package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Addr)
	require.True(t, cfg.RejectNotices)
	require.Zero(t, cfg.IdleTimeout)
	require.Equal(t, 30*time.Second, cfg.PingInterval)
	require.Equal(t, 32, cfg.OutboxSize)
	require.Empty(t, cfg.AllowedOrigins)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("RELAY_ADDR", " :9090 ")
	t.Setenv("RELAY_REJECT_NOTICES", "false")
	t.Setenv("RELAY_IDLE_TIMEOUT", "2m")
	t.Setenv("RELAY_OUTBOX_SIZE", "8")
	t.Setenv("RELAY_ALLOWED_ORIGINS", "localhost:*, example.com ,")
	t.Setenv("REDIS_URL", "redis://127.0.0.1:6379/1")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Addr)
	require.False(t, cfg.RejectNotices)
	require.Equal(t, 2*time.Minute, cfg.IdleTimeout)
	require.Equal(t, 8, cfg.OutboxSize)
	require.Equal(t, []string{"localhost:*", "example.com"}, cfg.AllowedOrigins)
	require.Equal(t, "redis://127.0.0.1:6379/1", cfg.RedisURL)
}

func TestFromEnv_Invalid(t *testing.T) {
	t.Run("outbox too small", func(t *testing.T) {
		t.Setenv("RELAY_OUTBOX_SIZE", "1")
		_, err := FromEnv()
		require.Error(t, err)
	})
	t.Run("bad webhook", func(t *testing.T) {
		t.Setenv("WEBHOOK_URL", "not a url")
		_, err := FromEnv()
		require.Error(t, err)
	})
	t.Run("negative timeout", func(t *testing.T) {
		t.Setenv("RELAY_IDLE_TIMEOUT", "-1s")
		_, err := FromEnv()
		require.Error(t, err)
	})
}
