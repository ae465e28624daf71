package auth

import (
	"context"
	"net/http"
)

// Authenticator verifies one kind of credential.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: ErrMissingCredentials when the request carries no credential
//   of this kind; ErrInvalidCredentials, ErrTokenExpired or
//   ErrTokenMalformed when it carries one that does not verify. Any other
//   error is an internal failure.
type Authenticator interface {
	Name() string
	Authenticate(ctx context.Context, header http.Header) (*Identity, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc struct {
	name string
	fn   func(ctx context.Context, header http.Header) (*Identity, error)
}

// NewAuthenticatorFunc creates an AuthenticatorFunc.
func NewAuthenticatorFunc(name string, fn func(ctx context.Context, header http.Header) (*Identity, error)) *AuthenticatorFunc {
	return &AuthenticatorFunc{name: name, fn: fn}
}

// Name returns the authenticator name.
func (f *AuthenticatorFunc) Name() string { return f.name }

// Authenticate calls the wrapped function.
func (f *AuthenticatorFunc) Authenticate(ctx context.Context, header http.Header) (*Identity, error) {
	return f.fn(ctx, header)
}
