package config

import (
	"time"

	"github.com/jonwraymond/sitesync/api"
	"github.com/jonwraymond/sitesync/auth"
	"github.com/jonwraymond/sitesync/observe"
	"github.com/jonwraymond/sitesync/observe/exporters"
	"github.com/jonwraymond/sitesync/resilience"
)

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	policies := make(map[string]resilience.LimitPolicy)
	for class, p := range resilience.DefaultLimitPolicies() {
		policies[string(class)] = p
	}

	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxInFlight:     api.DefaultMaxInFlight,
		},
		Database: DatabaseConfig{Path: "data/sitesync.db"},
		Cache: CacheConfig{
			CleanupInterval: time.Minute,
			DegradedAt:      0.9,
		},
		RateLimit: RateLimitConfig{Policies: policies},
		Auth:      AuthConfig{APIKeyHeader: auth.DefaultAPIKeyHeader},
		Client: ClientConfig{
			BaseURL:     "http://localhost:8080",
			Timeout:     30 * time.Second,
			MaxAttempts: 3,
		},
		Observe: observe.Config{
			ServiceName: "sitesync",
			Tracing:     observe.TracingConfig{Exporter: exporters.None, SamplePct: 1},
			Metrics:     observe.MetricsConfig{Enabled: true, Exporter: exporters.Prometheus, Interval: time.Minute},
			Logging:     observe.LoggingConfig{Enabled: true, Level: "info", Format: observe.FormatJSON},
		},
	}
}

func (m *Manager) setDefaults() {
	d := DefaultConfig()
	v := m.viper

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.max_in_flight", d.Server.MaxInFlight)
	v.SetDefault("server.trust_proxy", d.Server.TrustProxy)

	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("cache.cleanup_interval", d.Cache.CleanupInterval)
	v.SetDefault("cache.degraded_at", d.Cache.DegradedAt)

	for class, p := range d.RateLimit.Policies {
		v.SetDefault("rate_limit.policies."+class+".window", p.Window)
		v.SetDefault("rate_limit.policies."+class+".max_requests", p.MaxRequests)
	}

	v.SetDefault("auth.jwt.enabled", d.Auth.JWT.Enabled)
	v.SetDefault("auth.jwt.secret", d.Auth.JWT.Secret)
	v.SetDefault("auth.jwt.issuer", d.Auth.JWT.Issuer)
	v.SetDefault("auth.jwt.audience", d.Auth.JWT.Audience)
	v.SetDefault("auth.jwt.leeway", d.Auth.JWT.Leeway)
	v.SetDefault("auth.api_key_header", d.Auth.APIKeyHeader)

	v.SetDefault("client.base_url", d.Client.BaseURL)
	v.SetDefault("client.timeout", d.Client.Timeout)
	v.SetDefault("client.max_attempts", d.Client.MaxAttempts)
	v.SetDefault("client.api_key", d.Client.APIKey)

	v.SetDefault("secrets.strict", d.Secrets.Strict)
	v.SetDefault("secrets.file_dir", d.Secrets.FileDir)

	v.SetDefault("observe.service_name", d.Observe.ServiceName)
	v.SetDefault("observe.tracing.enabled", d.Observe.Tracing.Enabled)
	v.SetDefault("observe.tracing.exporter", d.Observe.Tracing.Exporter)
	v.SetDefault("observe.tracing.sample_pct", d.Observe.Tracing.SamplePct)
	v.SetDefault("observe.metrics.enabled", d.Observe.Metrics.Enabled)
	v.SetDefault("observe.metrics.exporter", d.Observe.Metrics.Exporter)
	v.SetDefault("observe.metrics.interval", d.Observe.Metrics.Interval)
	v.SetDefault("observe.logging.enabled", d.Observe.Logging.Enabled)
	v.SetDefault("observe.logging.level", d.Observe.Logging.Level)
	v.SetDefault("observe.logging.format", d.Observe.Logging.Format)
}
