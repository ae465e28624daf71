package config

import (
	stderrors "errors"
	"fmt"
	"slices"
	"time"

	"github.com/jmgilman/go/errors"

	"github.com/jonwraymond/sitesync/auth"
	"github.com/jonwraymond/sitesync/observe"
	"github.com/jonwraymond/sitesync/resilience"
)

// Config is the complete sitesync configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Client    ClientConfig    `mapstructure:"client"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
	Observe   observe.Config  `mapstructure:"observe"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxInFlight     int           `mapstructure:"max_in_flight"`

	// TrustProxy identifies callers by X-Forwarded-For.
	TrustProxy bool `mapstructure:"trust_proxy"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	// CleanupInterval is how often the janitor drops expired entries.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	// DegradedAt is the utilization at which the cache health check
	// reports degraded.
	DegradedAt float64 `mapstructure:"degraded_at"`
}

// RateLimitConfig holds the per-class request budgets, keyed by class
// name.
type RateLimitConfig struct {
	Policies map[string]resilience.LimitPolicy `mapstructure:"policies"`
}

// LimitPolicies converts Policies to limiter classes.
func (r RateLimitConfig) LimitPolicies() map[resilience.OperationClass]resilience.LimitPolicy {
	out := make(map[resilience.OperationClass]resilience.LimitPolicy, len(r.Policies))
	for name, p := range r.Policies {
		out[resilience.OperationClass(name)] = p
	}
	return out
}

// AuthConfig configures caller identification.
type AuthConfig struct {
	JWT          JWTConfig     `mapstructure:"jwt"`
	APIKeyHeader string        `mapstructure:"api_key_header"`
	APIKeys      []auth.APIKey `mapstructure:"api_keys"`
}

// JWTConfig configures bearer token verification.
type JWTConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	Leeway   time.Duration `mapstructure:"leeway"`
}

// ClientConfig configures the sync client used by the CLI.
type ClientConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	APIKey      string        `mapstructure:"api_key"`
}

// SecretsConfig configures secret reference resolution.
type SecretsConfig struct {
	// Strict rejects references that resolve to an empty value.
	Strict bool `mapstructure:"strict"`

	// FileDir roots relative secretref:file: references.
	FileDir string `mapstructure:"file_dir"`
}

func invalid(key, format string, args ...any) error {
	return errors.WithContext(errors.Newf(errors.CodeInvalidConfig, format, args...), "key", key)
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, invalid("server.addr", "server.addr is required"))
	}
	if c.Server.MaxInFlight < 0 {
		errs = append(errs, invalid("server.max_in_flight", "server.max_in_flight must be >= 0, got %d", c.Server.MaxInFlight))
	}
	if c.Database.Path == "" {
		errs = append(errs, invalid("database.path", "database.path is required"))
	}
	if c.Cache.CleanupInterval <= 0 {
		errs = append(errs, invalid("cache.cleanup_interval", "cache.cleanup_interval must be positive"))
	}
	if c.Cache.DegradedAt <= 0 || c.Cache.DegradedAt > 1 {
		errs = append(errs, invalid("cache.degraded_at", "cache.degraded_at must be in (0, 1], got %g", c.Cache.DegradedAt))
	}

	known := []resilience.OperationClass{
		resilience.ClassRead, resilience.ClassWrite, resilience.ClassDelete, resilience.ClassUpload,
	}
	for name, p := range c.RateLimit.Policies {
		key := "rate_limit.policies." + name
		if !slices.Contains(known, resilience.OperationClass(name)) {
			errs = append(errs, invalid(key, "unknown operation class %q", name))
			continue
		}
		if p.Window <= 0 || p.MaxRequests <= 0 {
			errs = append(errs, invalid(key, "%s needs a positive window and max_requests", key))
		}
	}

	if c.Auth.JWT.Enabled && c.Auth.JWT.Secret == "" {
		errs = append(errs, invalid("auth.jwt.secret", "auth.jwt.secret is required when jwt is enabled"))
	}
	for i, k := range c.Auth.APIKeys {
		if k.ID == "" || k.Hash == "" {
			errs = append(errs, invalid(fmt.Sprintf("auth.api_keys[%d]", i), "api key %d needs an id and a hash", i))
		}
	}

	if err := c.Observe.Validate(); err != nil {
		errs = append(errs, errors.Wrap(err, errors.CodeInvalidConfig, "observe"))
	}
	return stderrors.Join(errs...)
}
