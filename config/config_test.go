package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/sitesync/resilience"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.RateLimit.Policies, 4)
	assert.Equal(t, resilience.DefaultLimitPolicies(), cfg.RateLimit.LimitPolicies())
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	m := NewManager()
	require.NoError(t, m.Load(context.Background()))

	cfg := m.Get()
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, time.Minute, cfg.Cache.CleanupInterval)
	assert.Equal(t, 0.9, cfg.Cache.DegradedAt)
	assert.Empty(t, m.File())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sitesync.yaml", `
server:
  addr: ":9090"
  trust_proxy: true
database:
  path: /var/lib/sitesync/site.db
rate_limit:
  policies:
    read:
      window: 1m
      max_requests: 10
auth:
  api_keys:
    - id: field-tablet
      hash: abc123
      expires_at: 2027-01-01T00:00:00Z
`)
	t.Setenv("SITESYNC_SERVER_ADDR", ":7070")
	t.Setenv("SITESYNC_RATE_LIMIT_POLICIES_WRITE_MAX_REQUESTS", "5")

	m := NewManager(WithFile(path))
	require.NoError(t, m.Load(context.Background()))
	cfg := m.Get()

	assert.Equal(t, ":7070", cfg.Server.Addr, "env overrides the file")
	assert.True(t, cfg.Server.TrustProxy)
	assert.Equal(t, "/var/lib/sitesync/site.db", cfg.Database.Path)
	assert.Equal(t, resilience.LimitPolicy{Window: time.Minute, MaxRequests: 10}, cfg.RateLimit.Policies["read"])
	assert.Equal(t, 5, cfg.RateLimit.Policies["write"].MaxRequests)
	assert.Equal(t, 15*time.Minute, cfg.RateLimit.Policies["write"].Window)

	require.Len(t, cfg.Auth.APIKeys, 1)
	assert.Equal(t, "field-tablet", cfg.Auth.APIKeys[0].ID)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), cfg.Auth.APIKeys[0].ExpiresAt.UTC())
	assert.Equal(t, path, m.File())
}

func TestLoad_MissingNamedFile(t *testing.T) {
	m := NewManager(WithFile(filepath.Join(t.TempDir(), "absent.yaml")))
	err := m.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
}

func TestLoad_ResolvesSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "api-hash", "deadbeef\n")
	path := writeFile(t, dir, "sitesync.yaml", `
secrets:
  file_dir: `+dir+`
auth:
  jwt:
    enabled: true
    secret: secretref:env:SITESYNC_TEST_JWT
  api_keys:
    - id: office
      hash: secretref:file:api-hash
client:
  api_key: ${SITESYNC_TEST_CLIENT_KEY}
`)
	t.Setenv("SITESYNC_TEST_JWT", "hmac-secret")
	t.Setenv("SITESYNC_TEST_CLIENT_KEY", "client-key")

	m := NewManager(WithFile(path))
	require.NoError(t, m.Load(context.Background()))
	cfg := m.Get()
	assert.Equal(t, "hmac-secret", cfg.Auth.JWT.Secret)
	assert.Equal(t, "deadbeef", cfg.Auth.APIKeys[0].Hash)
	assert.Equal(t, "client-key", cfg.Client.APIKey)

	settings := m.Settings()
	jwt := settings["auth"].(map[string]any)["jwt"].(map[string]any)
	assert.Equal(t, redactedValue, jwt["secret"])
	assert.Equal(t, true, jwt["enabled"])
}

func TestLoad_UnresolvableSecret(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sitesync.yaml", `
auth:
  jwt:
    enabled: true
    secret: secretref:vault:prod/jwt
`)
	err := NewManager(WithFile(path)).Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"empty database", func(c *Config) { c.Database.Path = "" }},
		{"zero cleanup", func(c *Config) { c.Cache.CleanupInterval = 0 }},
		{"degraded above one", func(c *Config) { c.Cache.DegradedAt = 1.5 }},
		{"unknown class", func(c *Config) {
			c.RateLimit.Policies["export"] = resilience.LimitPolicy{Window: time.Minute, MaxRequests: 1}
		}},
		{"zero budget", func(c *Config) {
			c.RateLimit.Policies["read"] = resilience.LimitPolicy{Window: time.Minute}
		}},
		{"jwt without secret", func(c *Config) { c.Auth.JWT.Enabled = true }},
		{"bad log level", func(c *Config) { c.Observe.Logging.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
		})
	}
}

func TestReload_KeepsPreviousOnInvalid(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sitesync.yaml", "rate_limit:\n  policies:\n    read:\n      max_requests: 10\n")
	m := NewManager(WithFile(path))
	require.NoError(t, m.Load(context.Background()))

	var got []*Config
	m.OnConfigChange(func(c *Config) { got = append(got, c) })

	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  policies:\n    read:\n      max_requests: 0\n"), 0o600))
	require.NoError(t, m.viper.ReadInConfig())
	m.reload(context.Background())
	assert.Empty(t, got)
	assert.Equal(t, 10, m.Get().RateLimit.Policies["read"].MaxRequests)

	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  policies:\n    read:\n      max_requests: 25\n"), 0o600))
	require.NoError(t, m.viper.ReadInConfig())
	m.reload(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, 25, got[0].RateLimit.Policies["read"].MaxRequests)
	assert.Same(t, got[0], m.Get())
}

func TestWatch(t *testing.T) {
	path := writeFile(t, t.TempDir(), "sitesync.yaml", "cache:\n  degraded_at: 0.5\n")
	m := NewManager(WithFile(path))
	require.NoError(t, m.Load(context.Background()))

	var reloads atomic.Int32
	m.OnConfigChange(func(c *Config) {
		if c.Cache.DegradedAt == 0.75 {
			reloads.Add(1)
		}
	})
	require.NoError(t, m.Watch())
	require.NoError(t, m.Watch(), "second Watch is a no-op")

	require.NoError(t, os.WriteFile(path, []byte("cache:\n  degraded_at: 0.75\n"), 0o600))
	assert.Eventually(t, func() bool { return reloads.Load() > 0 }, 5*time.Second, 20*time.Millisecond)
}

func TestWatch_RequiresFile(t *testing.T) {
	t.Chdir(t.TempDir())
	m := NewManager()
	require.NoError(t, m.Load(context.Background()))
	assert.ErrorIs(t, m.Watch(), ErrNoConfigFile)
}

func TestRedact(t *testing.T) {
	in := map[string]any{
		"auth": map[string]any{
			"api_key_header": "X-API-Key",
			"api_keys":       []any{map[string]any{"id": "office", "hash": "abc"}},
		},
		"client": map[string]any{"api_key": "k", "base_url": "http://x"},
	}
	out := redact(in)
	a := out["auth"].(map[string]any)
	assert.Equal(t, "X-API-Key", a["api_key_header"])
	assert.Equal(t, []any{map[string]any{"id": "office", "hash": redactedValue}}, a["api_keys"])
	assert.Equal(t, map[string]any{"api_key": redactedValue, "base_url": "http://x"}, out["client"])
}
