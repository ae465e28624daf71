// Package health reports whether a sitesync process can serve traffic.
//
// A Checker reports one component's Status: Healthy, Degraded or
// Unhealthy. The Aggregator runs a set of checkers concurrently under a
// shared deadline and folds their results into one overall status; a
// checker that panics or outlives the deadline counts as Unhealthy.
//
// Built-in checkers:
//
//   - MemoryChecker compares heap use against the runtime memory limit.
//   - CacheChecker reports Degraded once any bounded cache namespace is at
//     or above its utilization threshold (90% by default).
//   - PingChecker wraps anything with PingContext, such as *sql.DB.
//
// The HTTP side exposes the usual probe trio:
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, agg, health.WithVersion(version.Version))
//
// /healthz always answers 200 while the process runs, /readyz answers 503
// only when some check is Unhealthy, and /health returns every result as
// JSON.
package health
