// Package resilience provides request admission and failure handling for
// the synchronization core.
//
// # Rate limiting
//
// RateLimiter is a fixed-window limiter keyed by caller identifier. Each
// check either admits the request and counts it, or rejects it with the
// time until the window resets; rejected checks never consume quota.
// Window state lives behind WindowStore so a shared store can replace the
// in-memory default. LimiterSet keeps one limiter per OperationClass
// (read, write, delete, upload) so exhausting one budget never blocks
// another.
//
//	set := resilience.NewLimiterSet(resilience.DefaultLimitPolicies())
//	d, err := set.CheckLimit(ctx, resilience.ClassWrite, clientIP)
//	if err == nil && !d.Allowed {
//	    w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds()))
//	}
//
// # Remote calls
//
// Executor composes the patterns a client-side request runs through:
//
//   - Bulkhead: limits concurrent operations.
//   - Circuit Breaker: fails fast after repeated transport failures.
//   - Retry: retries with backoff, never sooner than a server Retry-After.
//   - Timeout: bounds each attempt (DefaultTimeout when unset).
//
// Cancellation of the caller's context always surfaces as ctx.Err() and
// is never counted as a circuit failure.
package resilience
