// Package observe provides logging, tracing and metrics for the
// synchronization core.
//
// Logger is a small structured logging interface backed by zerolog.
// Tracer and Metrics wrap OpenTelemetry; Middleware combines the three
// around HTTP handlers (Handler) and client operations (Run).
// RegisterCacheMetrics exports cache.Store statistics as observable
// instruments.
package observe
