package auth

import "context"

type contextKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFromContext returns the identity attached to ctx, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}

// KeyFromContext returns the rate-limit identifier of the caller in ctx,
// or "ip:unknown" when none is attached.
func KeyFromContext(ctx context.Context) string {
	if id := IdentityFromContext(ctx); id != nil {
		return id.Key()
	}
	return AddressIdentity("").Key()
}
