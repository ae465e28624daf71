package config

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/jmgilman/go/errors"
	"github.com/spf13/viper"

	"github.com/jonwraymond/sitesync/observe"
	"github.com/jonwraymond/sitesync/secret"
)

// EnvPrefix prefixes environment overrides: server.addr is read from
// SITESYNC_SERVER_ADDR.
const EnvPrefix = "SITESYNC"

// ErrNoConfigFile is returned by Watch when no file was loaded.
var ErrNoConfigFile = stderrors.New("config: no config file to watch")

// Manager loads, validates and reloads the configuration.
type Manager struct {
	viper   *viper.Viper
	file    string
	log     observe.Logger
	secrets *secret.Registry

	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
	watching  bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithFile loads path instead of searching for sitesync.{yaml,toml}.
func WithFile(path string) Option {
	return func(m *Manager) { m.file = path }
}

// WithLogger sets the logger used for reload reports.
func WithLogger(l observe.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithSecretRegistry sets the providers available to secret references.
// Default: secret.NewDefaultRegistry
func WithSecretRegistry(r *secret.Registry) Option {
	return func(m *Manager) {
		if r != nil {
			m.secrets = r
		}
	}
}

// NewManager creates a Manager. Call Load before Get.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		viper:   viper.New(),
		log:     observe.NopLogger(),
		secrets: secret.NewDefaultRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}

	v := m.viper
	if m.file != "" {
		v.SetConfigFile(m.file)
	} else {
		v.SetConfigName("sitesync")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "sitesync"))
		}
		v.AddConfigPath("/etc/sitesync")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	m.setDefaults()
	return m
}

// Load reads the file and environment, resolves secrets and validates the
// result. A missing file is only an error when one was named explicitly.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.readFile(); err != nil {
		return err
	}
	cfg, err := m.build(ctx)
	if err != nil {
		return err
	}
	m.config = cfg
	return nil
}

func (m *Manager) readFile() error {
	err := m.viper.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if m.file == "" && stderrors.As(err, &notFound) {
		return nil
	}
	return errors.WithContext(
		errors.Wrap(err, errors.CodeInvalidConfig, "read config file"), "file", m.viper.ConfigFileUsed())
}

// build decodes the current viper state into a validated Config.
func (m *Manager) build(ctx context.Context) (*Config, error) {
	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToTimeHookFunc(time.RFC3339),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := m.viper.Unmarshal(cfg, hook); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "decode config")
	}
	if err := m.resolveSecrets(ctx, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveSecrets replaces secret and environment references in the
// credential settings with their values.
func (m *Manager) resolveSecrets(ctx context.Context, cfg *Config) error {
	res, err := m.secrets.Build(cfg.Secrets.Strict,
		map[string]map[string]any{"file": {"dir": cfg.Secrets.FileDir}},
		m.secrets.List()...)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "build secret resolver")
	}
	defer func() { _ = res.Close() }()

	resolve := func(key string, v *string) error {
		if *v == "" {
			return nil
		}
		out, err := res.ResolveValue(ctx, *v)
		if err != nil {
			return errors.WithContext(errors.Wrap(err, errors.CodeInvalidConfig, "resolve secret"), "key", key)
		}
		*v = out
		return nil
	}

	if err := resolve("auth.jwt.secret", &cfg.Auth.JWT.Secret); err != nil {
		return err
	}
	if err := resolve("client.api_key", &cfg.Client.APIKey); err != nil {
		return err
	}
	for i := range cfg.Auth.APIKeys {
		if err := resolve(fmt.Sprintf("auth.api_keys[%d].hash", i), &cfg.Auth.APIKeys[i].Hash); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the current configuration. It must not be modified.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// File returns the path of the loaded file, or "" when none was read.
func (m *Manager) File() string {
	return m.viper.ConfigFileUsed()
}

// Settings returns the merged raw settings with credential values
// masked, for display.
func (m *Manager) Settings() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return redact(m.viper.AllSettings())
}

// OnConfigChange registers fn to receive every successfully reloaded
// configuration.
func (m *Manager) OnConfigChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Watch reloads the configuration whenever its file changes.
func (m *Manager) Watch() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.watching {
		return nil
	}
	if m.viper.ConfigFileUsed() == "" {
		return ErrNoConfigFile
	}

	m.viper.OnConfigChange(func(e fsnotify.Event) {
		m.log.Debug(context.Background(), "config file changed",
			observe.Field{Key: "file", Value: e.Name},
			observe.Field{Key: "op", Value: e.Op.String()})
		m.reload(context.Background())
	})
	m.viper.WatchConfig()
	m.watching = true
	return nil
}

// reload rebuilds the configuration from viper's freshly read state and
// notifies callbacks. An invalid result keeps the current configuration.
func (m *Manager) reload(ctx context.Context) {
	m.mu.Lock()
	cfg, err := m.build(ctx)
	if err != nil {
		m.mu.Unlock()
		m.log.Warn(ctx, "config reload rejected, keeping previous settings",
			observe.Field{Key: "error", Value: err.Error()})
		return
	}
	m.config = cfg
	callbacks := append([]func(*Config){}, m.callbacks...)
	m.mu.Unlock()

	m.log.Info(ctx, "config reloaded", observe.Field{Key: "file", Value: m.viper.ConfigFileUsed()})
	for _, fn := range callbacks {
		fn(cfg)
	}
}

// redactedKeys name settings whose values are never displayed.
var redactedKeys = []string{"secret", "hash", "api_key", "password", "token"}

const redactedValue = "[REDACTED]"

func redact(settings map[string]any) map[string]any {
	out := make(map[string]any, len(settings))
	for k, v := range settings {
		out[k] = redactValue(k, v)
	}
	return out
}

func redactValue(key string, v any) any {
	switch val := v.(type) {
	case map[string]any:
		return redact(val)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = redactValue(key, item)
		}
		return items
	case time.Duration:
		return val.String()
	case string:
		if val == "" {
			return val
		}
		if key == "api_key_header" {
			return val
		}
		for _, s := range redactedKeys {
			if strings.Contains(key, s) {
				return redactedValue
			}
		}
		return val
	default:
		return v
	}
}
