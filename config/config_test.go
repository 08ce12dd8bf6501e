package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widget.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_url: https://api.example.com/
tenant_id: acme
title: Talk to Acme
ping_interval: 45
reconnect_delay: 2s
max_reconnect_delay: 1m
store:
  driver: redis
  redis_url: redis://localhost:6379/0
supabase:
  url: https://proj.supabase.co
  api_key: anon
  cache_ttl: 90s
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://api.example.com", cfg.APIURL)
	assert.Equal(t, "Talk to Acme", cfg.Title)
	assert.Equal(t, 45*time.Second, cfg.PingInterval.Duration())
	assert.Equal(t, 2*time.Second, cfg.ReconnectDelay.Duration())
	assert.Equal(t, time.Minute, cfg.MaxReconnectDelay.Duration())
	assert.Equal(t, DefaultSessionExpiry, cfg.SessionExpiry.Duration())
	assert.Equal(t, DefaultChannel, cfg.Channel)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.True(t, cfg.Supabase.Enabled())
	assert.Equal(t, 90*time.Second, cfg.Supabase.CacheTTL.Duration())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "config file not found")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ping_interval: soon\n"), 0o600))
	_, err = Load(path)
	assert.ErrorContains(t, err, "invalid duration value")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CHATWIDGET_API_URL":        "http://localhost:8080",
		"CHATWIDGET_TENANT_ID":      " acme ",
		"CHATWIDGET_STORE_DRIVER":   "sqlite",
		"CHATWIDGET_STORE_DSN":      "data/widget.db",
		"CHATWIDGET_CLOSE_DELAY":    "500ms",
		"CHATWIDGET_SESSION_EXPIRY": "600",
	}
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "acme", cfg.TenantID)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 500*time.Millisecond, cfg.CloseDelay.Duration())
	assert.Equal(t, 10*time.Minute, cfg.SessionExpiry.Duration())
}

func TestApplyEnv_BadDuration(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(func(k string) string {
		if k == "CHATWIDGET_PING_INTERVAL" {
			return "often"
		}
		return ""
	})
	assert.ErrorIs(t, err, ErrInvalid)
	assert.ErrorContains(t, err, "CHATWIDGET_PING_INTERVAL")
}

func TestFromEnv(t *testing.T) {
	t.Setenv("CHATWIDGET_API_URL", "https://chat.example.com")
	t.Setenv("CHATWIDGET_TENANT_ID", "globex")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "globex", cfg.TenantID)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "widget.env")
	require.NoError(t, os.WriteFile(path, []byte("CHATWIDGET_TEST_ONLY_VALUE=from-file\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CHATWIDGET_TEST_ONLY_VALUE") })

	LoadEnvFile(path, filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, "from-file", os.Getenv("CHATWIDGET_TEST_ONLY_VALUE"))
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Default()
		c.APIURL = "https://api.example.com"
		c.TenantID = "acme"
		return c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"missing api url", func(c *Config) { c.APIURL = "" }, "api_url is required"},
		{"missing tenant", func(c *Config) { c.TenantID = "  " }, "tenant_id is required"},
		{"websocket url", func(c *Config) { c.APIURL = "ws://api.example.com" }, "http(s) origin"},
		{"no host", func(c *Config) { c.APIURL = "https://" }, "http(s) origin"},
		{"negative ping", func(c *Config) { c.PingInterval = Duration(-time.Second) }, "ping_interval must be positive"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "etcd" }, "unknown store driver"},
		{"file without path", func(c *Config) { c.Store.Driver = "file" }, "store.path is required"},
		{"redis without url", func(c *Config) { c.Store.Driver = "redis" }, "store.redis_url is required"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, "store.dsn is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			assert.ErrorIs(t, err, ErrInvalid)
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestValidate_FillsDefaults(t *testing.T) {
	c := Config{APIURL: "http://localhost:8080", TenantID: "acme", ReconnectDelay: Duration(5 * time.Second)}
	require.NoError(t, c.Validate())

	assert.Equal(t, DefaultGuestName, c.GuestName)
	assert.Equal(t, DefaultStorageKey, c.StorageKey)
	assert.Equal(t, DefaultStoreDriver, c.Store.Driver)
	assert.Equal(t, DefaultPingInterval, c.PingInterval.Duration())
	assert.Equal(t, 5*time.Second, c.MaxReconnectDelay.Duration(), "max delay never undercuts the first delay")
	assert.Empty(t, c.Title, "appearance is left for the widget to resolve")
}
