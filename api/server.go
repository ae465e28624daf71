package api

import (
	"net/http"

	"github.com/jmgilman/go/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonwraymond/sitesync/auth"
	"github.com/jonwraymond/sitesync/cache"
	"github.com/jonwraymond/sitesync/health"
	"github.com/jonwraymond/sitesync/model"
	"github.com/jonwraymond/sitesync/observe"
	"github.com/jonwraymond/sitesync/resilience"
	"github.com/jonwraymond/sitesync/store"
)

// DefaultMaxInFlight bounds concurrently served API requests.
const DefaultMaxInFlight = 128

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Config wires a Server.
type Config struct {
	// Repository stores the records. Required.
	Repository store.Repository

	// Limiters holds the per-class budgets.
	// Default: resilience.DefaultLimitPolicies on a memory store
	Limiters *resilience.LimiterSet

	// Cache holds the response namespaces.
	// Default: a new store
	Cache *cache.Store

	// Resolver identifies callers for rate limiting.
	// Default: identify by client address
	Resolver *auth.Resolver

	// Middleware instruments every request.
	// Default: no-op tracing and metrics
	Middleware *observe.Middleware

	// Health, when set, is served on /healthz, /readyz and /health.
	Health *health.Aggregator

	// Gatherer, when set, is served on /metrics.
	Gatherer prometheus.Gatherer

	// MaxInFlight bounds concurrent API requests.
	// Default: DefaultMaxInFlight
	MaxInFlight int

	Version string
	Logger  observe.Logger
}

// Server is the HTTP API.
type Server struct {
	repo     store.Repository
	limiters *resilience.LimiterSet
	resolver *auth.Resolver
	mw       *observe.Middleware
	bulkhead *resilience.Bulkhead
	log      observe.Logger

	responses *responseCache
	mux       *http.ServeMux
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Repository == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "api: repository is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	if cfg.Limiters == nil {
		cfg.Limiters = resilience.NewLimiterSet(resilience.DefaultLimitPolicies())
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewStore()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = auth.NewResolver(auth.ResolverConfig{Logger: cfg.Logger})
	}
	if cfg.Middleware == nil {
		cfg.Middleware = observe.NewMiddleware(nil, nil, cfg.Logger)
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}

	responses, err := newResponseCache(cfg.Cache, cfg.Logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		repo:      cfg.Repository,
		limiters:  cfg.Limiters,
		resolver:  cfg.Resolver,
		mw:        cfg.Middleware,
		bulkhead:  resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: cfg.MaxInFlight}),
		log:       cfg.Logger.With(observe.Field{Key: "component", Value: "api"}),
		responses: responses,
		mux:       http.NewServeMux(),
	}

	s.route("GET /api/{collection}", "list", resilience.ClassRead, s.list)
	s.route("GET /api/{collection}/stats", "stats", resilience.ClassRead, s.stats)
	s.route("GET /api/{collection}/{id}", "get", resilience.ClassRead, s.get)
	s.route("POST /api/{collection}", "create", resilience.ClassWrite, s.create)
	s.route("PATCH /api/{collection}/{id}", "update", resilience.ClassWrite, s.update)
	s.route("PUT /api/{collection}/{id}", "update", resilience.ClassWrite, s.update)
	s.route("DELETE /api/{collection}/{id}", "delete", resilience.ClassDelete, s.delete)
	s.route("POST /api/"+model.DailyLogs+"/{id}/photos", "upload", resilience.ClassUpload, s.addPhoto)

	if cfg.Health != nil {
		health.RegisterHandlers(s.mux, cfg.Health, health.WithVersion(cfg.Version))
	}
	if cfg.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	return s, nil
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler { return s.mux }

// InFlight reports the request bulkhead's occupancy.
func (s *Server) InFlight() resilience.BulkheadMetrics { return s.bulkhead.Metrics() }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// route mounts h behind the request chain.
func (s *Server) route(pattern, op string, class resilience.OperationClass, h http.HandlerFunc) {
	classify := func(r *http.Request) observe.OperationMeta {
		coll := r.PathValue("collection")
		if coll == "" && class == resilience.ClassUpload {
			coll = model.DailyLogs
		}
		return observe.OperationMeta{Component: "api", Operation: op, Collection: coll, Class: string(class)}
	}

	var chain http.Handler = h
	chain = s.limitInFlight(chain)
	chain = s.rateLimit(class, chain)
	chain = s.resolver.Middleware(chain)
	chain = s.mw.Handler(classify, chain)
	s.mux.Handle(pattern, chain)
}

// limitInFlight rejects requests with 503 while the bulkhead is full.
func (s *Server) limitInFlight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.bulkhead.Acquire(r.Context()); err != nil {
			writeError(w, errors.Wrap(err, errors.CodeUnavailable, "server busy, retry later"))
			return
		}
		defer s.bulkhead.Release()
		next.ServeHTTP(w, r)
	})
}
