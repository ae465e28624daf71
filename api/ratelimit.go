package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jmgilman/go/errors"

	"github.com/jonwraymond/sitesync/auth"
	"github.com/jonwraymond/sitesync/observe"
	"github.com/jonwraymond/sitesync/resilience"
)

// Rate-limit response headers.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
	HeaderRetry     = "Retry-After"
)

// rateLimit admits requests within the caller's budget for class. When
// the limiter itself fails the request is let through.
func (s *Server) rateLimit(class resilience.OperationClass, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		caller := auth.KeyFromContext(ctx)

		d, err := s.limiters.CheckLimit(ctx, class, caller)
		if err != nil {
			s.log.Warn(ctx, "rate limiter unavailable, allowing request",
				observe.Field{Key: "class", Value: string(class)},
				observe.Field{Key: "error", Value: err.Error()})
			next.ServeHTTP(w, r)
			return
		}
		s.mw.Metrics().RecordRateLimit(ctx, string(class), d.Allowed)

		h := w.Header()
		h.Set(HeaderLimit, strconv.Itoa(d.Limit))
		h.Set(HeaderRemaining, strconv.Itoa(d.Remaining))
		h.Set(HeaderReset, strconv.FormatInt(d.ResetTime.Unix(), 10))

		if !d.Allowed {
			retryAfter := d.RetryAfterSeconds()
			h.Set(HeaderRetry, strconv.Itoa(retryAfter))
			s.log.Info(ctx, "rate limit exceeded",
				observe.Field{Key: "class", Value: string(class)},
				observe.Field{Key: "caller", Value: caller},
				observe.Field{Key: "retry_after", Value: retryAfter})
			writeError(w, errors.WithContextMap(
				errors.Newf(errors.CodeRateLimit, "too many %s requests, retry in %d seconds", class, retryAfter),
				map[string]any{
					"retryAfter": retryAfter,
					"resetTime":  d.ResetTime.UTC().Format(time.RFC3339),
				}))
			return
		}
		next.ServeHTTP(w, r)
	})
}
