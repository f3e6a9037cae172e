package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 24*time.Hour, cfg.SessionRetention)
	assert.Equal(t, 2*time.Minute, cfg.RevalidateInterval)
	assert.Equal(t, 5*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 10, cfg.MaxReconnectAttempts)
	assert.Equal(t, StoreCookie, cfg.StoreBackend)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("KIOSK_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("PORT", "9090")
	t.Setenv("BACKEND_URL", "http://backend.internal:3000")
	t.Setenv("CHANNEL_URL", "wss://backend.internal/ws")
	t.Setenv("REVALIDATE_INTERVAL", "45s")
	t.Setenv("MAX_RECONNECT_ATTEMPTS", "3")
	t.Setenv("ENABLE_PUSH", "true")
	t.Setenv("ALLOWED_ORIGINS", "http://a.local, http://b.local")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "http://backend.internal:3000", cfg.BackendURL)
	assert.Equal(t, "wss://backend.internal/ws", cfg.ChannelURL)
	assert.Equal(t, 45*time.Second, cfg.RevalidateInterval)
	assert.Equal(t, 3, cfg.MaxReconnectAttempts)
	assert.True(t, cfg.EnablePush)
	assert.Equal(t, []string{"http://a.local", "http://b.local"}, cfg.AllowedOrigins)
}

func TestLoadConfig_InvalidEnvValuesKeepDefaults(t *testing.T) {
	t.Setenv("KIOSK_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("MAX_RECONNECT_ATTEMPTS", "lots")
	t.Setenv("PING_INTERVAL", "often")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.MaxReconnectAttempts)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
}

func TestLoadConfig_TOMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kiosk.toml")
	content := `
port = "5000"
backend_url = "http://10.0.0.5:3000"
store_backend = "memory"
session_retention = "12h"
reconnect_base_delay = "250ms"
allowed_origins = ["http://kiosk.local"]
enable_rate_limit = false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("KIOSK_CONFIG", path)
	t.Setenv("KIOSK_ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("PORT", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.Port)
	assert.Equal(t, "http://10.0.0.5:3000", cfg.BackendURL)
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, 12*time.Hour, cfg.SessionRetention)
	assert.Equal(t, 250*time.Millisecond, cfg.ReconnectBaseDelay)
	assert.Equal(t, []string{"http://kiosk.local"}, cfg.AllowedOrigins)
	assert.False(t, cfg.EnableRateLimit)
}

func TestLoadConfig_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "kiosk.env")
	require.NoError(t, os.WriteFile(envPath, []byte("SERVER_NAME=Table Seven\nREDIS_DB=4\n"), 0644))

	t.Setenv("KIOSK_ENV_FILE", envPath)
	// godotenv only fills variables that are not already set
	t.Setenv("SERVER_NAME", "")
	t.Setenv("REDIS_DB", "")
	os.Unsetenv("SERVER_NAME")
	os.Unsetenv("REDIS_DB")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "Table Seven", cfg.ServerName)
	assert.Equal(t, 4, cfg.RedisDB)
}

func TestLoadFile_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`ping_interval = "soon"`), 0644))

	err := Default().LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping_interval")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"bad port", func(c *Config) { c.Port = "http" }, "invalid port"},
		{"bad backend", func(c *Config) { c.BackendURL = "not a url" }, "invalid backend url"},
		{"http channel", func(c *Config) { c.ChannelURL = "http://localhost:3000/ws" }, "scheme must be ws or wss"},
		{"unknown store", func(c *Config) { c.StoreBackend = "sqlite" }, "unknown store backend"},
		{"cookie without path", func(c *Config) { c.StorePath = "" }, "store path"},
		{"zero retention", func(c *Config) { c.SessionRetention = 0 }, "retention"},
		{"zero ping", func(c *Config) { c.PingInterval = 0 }, "intervals"},
		{"negative attempts", func(c *Config) { c.MaxReconnectAttempts = -1 }, "reconnect attempts"},
		{"no create attempts", func(c *Config) { c.CreateSessionAttempts = 0 }, "create session attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
