package observe

import (
	"context"
	"net/http"
	"time"
)

// OperationFunc is an instrumented unit of work.
type OperationFunc func(ctx context.Context) error

// Middleware wraps operations with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: wrapped functions and handlers are safe for concurrent use.
//   - Context: the span is propagated through the context.
//   - Errors: errors from the wrapped function are recorded and returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewMiddleware creates a Middleware. Nil components are replaced with
// no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NewNoopTracer()
	}
	if metrics == nil {
		metrics = NewNoopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{tracer: tracer, metrics: metrics, logger: logger}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewMiddleware(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// Logger returns the middleware's logger.
func (m *Middleware) Logger() Logger {
	return m.logger
}

// Metrics returns the middleware's metrics.
func (m *Middleware) Metrics() Metrics {
	return m.metrics
}

// Run executes fn inside a span and records its outcome.
func (m *Middleware) Run(ctx context.Context, meta OperationMeta, fn OperationFunc) error {
	ctx, span := m.tracer.StartSpan(ctx, meta)
	start := time.Now()

	err := fn(ctx)

	duration := time.Since(start)
	m.tracer.EndSpan(span, err)
	m.metrics.RecordRequest(ctx, meta, 0, duration, err)

	log := m.logger.WithOperation(meta)
	if err != nil {
		log.Warn(ctx, "operation failed", Field{Key: "duration", Value: duration}, Field{Key: "error", Value: err})
	} else {
		log.Debug(ctx, "operation completed", Field{Key: "duration", Value: duration})
	}
	return err
}

// Handler instruments an HTTP handler. classify names the operation for
// each request.
func (m *Middleware) Handler(classify func(*http.Request) OperationMeta, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta := classify(r)
		ctx, span := m.tracer.StartSpan(r.Context(), meta)
		start := time.Now()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		duration := time.Since(start)
		var err error
		if rec.status >= http.StatusInternalServerError {
			err = httpStatusError(rec.status)
		}
		m.tracer.EndSpan(span, err)
		m.metrics.RecordRequest(ctx, meta, rec.status, duration, err)

		fields := []Field{
			{Key: "method", Value: r.Method},
			{Key: "path", Value: r.URL.Path},
			{Key: "status", Value: rec.status},
			{Key: "duration", Value: duration},
		}
		log := m.logger.WithOperation(meta)
		switch {
		case rec.status >= 500:
			log.Error(ctx, "request failed", fields...)
		case rec.status >= 400:
			log.Warn(ctx, "request rejected", fields...)
		default:
			log.Info(ctx, "request completed", fields...)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

type httpStatusError int

func (e httpStatusError) Error() string {
	return "observe: http status " + http.StatusText(int(e))
}
