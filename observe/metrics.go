package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jonwraymond/sitesync/cache"
)

// Metrics records request and admission metrics.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordRequest records one operation with its status and duration.
	// status is the HTTP status code, or 0 for non-HTTP operations.
	RecordRequest(ctx context.Context, meta OperationMeta, status int, duration time.Duration, err error)

	// RecordRateLimit records one rate-limit decision.
	RecordRateLimit(ctx context.Context, class string, allowed bool)
}

type metricsImpl struct {
	totalCount   metric.Int64Counter
	errorCount   metric.Int64Counter
	durationHist metric.Float64Histogram
	rateLimit    metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	totalCount, err := meter.Int64Counter(
		"sitesync.request.total",
		metric.WithDescription("Total number of operations"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	errorCount, err := meter.Int64Counter(
		"sitesync.request.errors",
		metric.WithDescription("Total number of failed operations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	durationHist, err := meter.Float64Histogram(
		"sitesync.request.duration_ms",
		metric.WithDescription("Operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	rateLimit, err := meter.Int64Counter(
		"sitesync.ratelimit.decisions",
		metric.WithDescription("Rate-limit decisions by class and outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		totalCount:   totalCount,
		errorCount:   errorCount,
		durationHist: durationHist,
		rateLimit:    rateLimit,
	}, nil
}

func (m *metricsImpl) RecordRequest(ctx context.Context, meta OperationMeta, status int, duration time.Duration, err error) {
	attrs := meta.attributes()
	if status > 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", status))
	}
	opt := metric.WithAttributes(attrs...)

	m.totalCount.Add(ctx, 1, opt)
	if err != nil || status >= 500 {
		m.errorCount.Add(ctx, 1, opt)
	}
	m.durationHist.Record(ctx, float64(duration.Microseconds())/1000, opt)
}

func (m *metricsImpl) RecordRateLimit(ctx context.Context, class string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "rejected"
	}
	m.rateLimit.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sitesync.class", class),
		attribute.String("sitesync.outcome", outcome),
	))
}

// CacheStatsFunc reports per-namespace cache statistics.
// *cache.Store's Stats method satisfies it.
type CacheStatsFunc func() map[string]cache.Stats

// RegisterCacheMetrics exports cache statistics as observable instruments,
// read from source on every collection cycle. Unregister the returned
// registration on shutdown.
func RegisterCacheMetrics(meter metric.Meter, source CacheStatsFunc) (metric.Registration, error) {
	hits, err := meter.Int64ObservableCounter("sitesync.cache.hits",
		metric.WithDescription("Cache hits per namespace"), metric.WithUnit("{lookup}"))
	if err != nil {
		return nil, err
	}
	misses, err := meter.Int64ObservableCounter("sitesync.cache.misses",
		metric.WithDescription("Cache misses per namespace"), metric.WithUnit("{lookup}"))
	if err != nil {
		return nil, err
	}
	evictions, err := meter.Int64ObservableCounter("sitesync.cache.evictions",
		metric.WithDescription("Capacity evictions per namespace"), metric.WithUnit("{entry}"))
	if err != nil {
		return nil, err
	}
	entries, err := meter.Int64ObservableGauge("sitesync.cache.entries",
		metric.WithDescription("Entries held per namespace"), metric.WithUnit("{entry}"))
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for ns, st := range source() {
			opt := metric.WithAttributes(attribute.String("cache.namespace", ns))
			o.ObserveInt64(hits, int64(st.Hits), opt)
			o.ObserveInt64(misses, int64(st.Misses), opt)
			o.ObserveInt64(evictions, int64(st.Evictions), opt)
			o.ObserveInt64(entries, int64(st.Entries), opt)
		}
		return nil
	}, hits, misses, evictions, entries)
}

type noopMetrics struct{}

// NewNoopMetrics returns metrics that record nothing.
func NewNoopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) RecordRequest(context.Context, OperationMeta, int, time.Duration, error) {}
func (noopMetrics) RecordRateLimit(context.Context, string, bool)                         {}
