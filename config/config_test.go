package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CHAT_API_URL", "http://localhost:5001/api/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:5001/api", cfg.APIBaseURL)
	assert.Equal(t, "ws://localhost:5001/ws", cfg.WSURL)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
	assert.Equal(t, 3*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 3*time.Second, cfg.TypingIdle)
	assert.Equal(t, 50, cfg.PageSize)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Empty(t, cfg.CacheDSN)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"http websocket url", "CHAT_WS_URL", "http://localhost:5001/ws"},
		{"zero page size", "CHAT_PAGE_SIZE", "0"},
		{"negative attempts", "CHAT_MAX_RECONNECT_ATTEMPTS", "-1"},
		{"relative api url", "CHAT_API_URL", "api"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
