package auth

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/jonwraymond/sitesync/observe"
)

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// Authenticator verifies credentials. Nil identifies every caller by
	// address.
	Authenticator Authenticator

	// TrustProxy takes the client address from X-Forwarded-For or
	// X-Real-IP instead of the connection's remote address.
	TrustProxy bool

	// Logger records credentials that failed to verify.
	Logger observe.Logger
}

// Resolver attributes requests to callers. It never rejects a request.
type Resolver struct {
	config ResolverConfig
}

// NewResolver creates a Resolver.
func NewResolver(config ResolverConfig) *Resolver {
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	return &Resolver{config: config}
}

// Resolve returns the identity for r. A missing or failing credential
// yields the client address identity.
func (res *Resolver) Resolve(r *http.Request) *Identity {
	if res.config.Authenticator != nil {
		id, err := res.config.Authenticator.Authenticate(r.Context(), r.Header)
		if err == nil && id != nil {
			return id
		}
		if err != nil && !errors.Is(err, ErrMissingCredentials) {
			res.config.Logger.Debug(r.Context(), "credential rejected, identifying by address",
				observe.Field{Key: "authenticator", Value: res.config.Authenticator.Name()},
				observe.Field{Key: "error", Value: err},
			)
		}
	}
	return AddressIdentity(res.clientAddr(r))
}

// Middleware attaches the resolved identity to the request context.
func (res *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := res.Resolve(r)
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (res *Resolver) clientAddr(r *http.Request) string {
	if res.config.TrustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
