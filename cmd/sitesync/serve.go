package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/sitesync/api"
	"github.com/jonwraymond/sitesync/auth"
	"github.com/jonwraymond/sitesync/cache"
	"github.com/jonwraymond/sitesync/config"
	"github.com/jonwraymond/sitesync/health"
	"github.com/jonwraymond/sitesync/observe"
	"github.com/jonwraymond/sitesync/resilience"
	"github.com/jonwraymond/sitesync/store"
)

// pingSlowThreshold reports the database degraded when a ping is slower.
const pingSlowThreshold = 250 * time.Millisecond

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			m, err := opts.load(ctx)
			if err != nil {
				return err
			}
			cfg := *m.Get()
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ln, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				return err
			}
			return serve(ctx, m, &cfg, ln, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

// app is the wired server process.
type app struct {
	log      observe.Logger
	obs      observe.Observer
	db       *store.SQLite
	cache    *cache.Store
	limiters *resilience.LimiterSet
	server   *api.Server
}

// newApp builds every component from cfg. The caller must call close.
func newApp(ctx context.Context, cfg *config.Config, logw io.Writer) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	obsCfg := cfg.Observe
	obsCfg.Version = version
	a.obs, err = observe.NewObserver(ctx, obsCfg, observe.WithLogWriter(logw), observe.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	a.log = a.obs.Logger()

	a.db, err = store.Open(ctx, cfg.Database.Path, store.WithLogger(a.log))
	if err != nil {
		return nil, err
	}

	a.cache = cache.NewStore()
	if _, err = observe.RegisterCacheMetrics(a.obs.Meter(), a.cache.Stats); err != nil {
		return nil, err
	}

	a.limiters = resilience.NewLimiterSet(cfg.RateLimit.LimitPolicies())

	mw, err := observe.MiddlewareFromObserver(a.obs)
	if err != nil {
		return nil, err
	}

	agg := health.NewAggregator(health.AggregatorConfig{Logger: a.log})
	agg.Register(
		health.NewPingChecker("database", a.db, pingSlowThreshold),
		health.NewCacheChecker(a.cache, cfg.Cache.DegradedAt),
		health.NewMemoryChecker(health.MemoryCheckerConfig{}),
	)

	a.server, err = api.New(api.Config{
		Repository: a.db,
		Limiters:   a.limiters,
		Cache:      a.cache,
		Resolver: auth.NewResolver(auth.ResolverConfig{
			Authenticator: authenticator(cfg.Auth),
			TrustProxy:    cfg.Server.TrustProxy,
			Logger:        a.log,
		}),
		Middleware:  mw,
		Health:      agg,
		Gatherer:    reg,
		MaxInFlight: cfg.Server.MaxInFlight,
		Version:     version,
		Logger:      a.log,
	})
	if err != nil {
		return nil, err
	}
	agg.Register(health.NewCheckerFunc("requests", a.inFlightCheck))
	return a, nil
}

func (a *app) inFlightCheck(context.Context) health.Result {
	m := a.server.InFlight()
	details := map[string]any{"active": m.Active, "available": m.Available, "rejected": m.Rejected}
	if m.Available == 0 {
		return health.Degraded("request slots exhausted").WithDetails(details)
	}
	return health.Healthy(fmt.Sprintf("%d requests in flight", m.Active)).WithDetails(details)
}

// applyLimits installs reloaded rate-limit policies. Classes whose policy
// did not change keep their windows.
func (a *app) applyLimits(ctx context.Context, cfg *config.Config) {
	for class, p := range cfg.RateLimit.LimitPolicies() {
		changed, err := a.limiters.SetPolicy(ctx, class, p)
		if err != nil {
			a.log.Warn(ctx, "rate limit policy not applied",
				observe.Field{Key: "class", Value: string(class)},
				observe.Field{Key: "error", Value: err.Error()})
			continue
		}
		if !changed {
			continue
		}
		a.log.Info(ctx, "rate limit policy applied",
			observe.Field{Key: "class", Value: string(class)},
			observe.Field{Key: "window", Value: p.Window.String()},
			observe.Field{Key: "max_requests", Value: p.MaxRequests})
	}
}

func (a *app) close(ctx context.Context) {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && a.log != nil {
			a.log.Warn(ctx, "close database", observe.Field{Key: "error", Value: err.Error()})
		}
	}
	if a.obs != nil {
		_ = a.obs.Shutdown(ctx)
	}
}

// authenticator builds the credential chain, or nil when no credentials
// are configured.
func authenticator(cfg config.AuthConfig) auth.Authenticator {
	var chain auth.Chain
	if cfg.JWT.Enabled {
		chain = append(chain, auth.NewJWTAuthenticator(auth.JWTConfig{
			Issuer:   cfg.JWT.Issuer,
			Audience: cfg.JWT.Audience,
			Leeway:   cfg.JWT.Leeway,
		}, auth.NewStaticKeyProvider([]byte(cfg.JWT.Secret))))
	}
	if len(cfg.APIKeys) > 0 {
		chain = append(chain, auth.NewAPIKeyAuthenticator(cfg.APIKeyHeader, auth.NewMemoryAPIKeyStore(cfg.APIKeys...)))
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}

// serve runs the API on ln and the cache janitor until ctx ends, then
// drains in-flight requests.
func serve(ctx context.Context, m *config.Manager, cfg *config.Config, ln net.Listener, logw io.Writer) error {
	a, err := newApp(ctx, cfg, logw)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer a.close(context.Background())

	m.OnConfigChange(func(c *config.Config) { a.applyLimits(ctx, c) })
	if m.File() != "" {
		if err := m.Watch(); err != nil {
			a.log.Warn(ctx, "config watch unavailable", observe.Field{Key: "error", Value: err.Error()})
		}
	}

	srv := &http.Server{
		Handler:      a.server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info(ctx, "listening", observe.Field{Key: "addr", Value: ln.Addr().String()})
		if err := srv.Serve(ln); !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		a.cache.Start(cfg.Cache.CleanupInterval)
		<-gctx.Done()
		a.cache.Close()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info(context.Background(), "shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
