package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 30*time.Second, cfg.Call.RingTimeout)
	assert.Equal(t, 20, cfg.Messages.PageSize)
	assert.Equal(t, 256, cfg.WebSocket.SendBuffer)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CALL_RING_TIMEOUT", "45s")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("MESSAGES_PAGE_SIZE", "not-a-number")

	cfg := Load()

	assert.Equal(t, 45*time.Second, cfg.Call.RingTimeout)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 20, cfg.Messages.PageSize, "unparsable values fall back to the default")
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LogConfig{Level: tt.level}.SlogLevel(), tt.level)
	}
}
