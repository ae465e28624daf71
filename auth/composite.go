package auth

import (
	"context"
	"errors"
	"net/http"
)

// Chain tries authenticators in order. The first one that finds its kind
// of credential decides the outcome; later ones are not consulted.
type Chain []Authenticator

// Name returns "chain".
func (c Chain) Name() string { return "chain" }

// Authenticate implements Authenticator.
func (c Chain) Authenticate(ctx context.Context, header http.Header) (*Identity, error) {
	for _, a := range c {
		id, err := a.Authenticate(ctx, header)
		if errors.Is(err, ErrMissingCredentials) {
			continue
		}
		return id, err
	}
	return nil, ErrMissingCredentials
}

var _ Authenticator = Chain(nil)
