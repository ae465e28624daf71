package collection

import (
	"context"

	"github.com/jonwraymond/sitesync/envelope"
)

// Transport sends one request to the API and returns its success
// envelope. Failures are returned as errors carrying the server's code.
// A cancelled ctx must surface as an error matching context.Canceled.
type Transport interface {
	Do(ctx context.Context, method, path string, body any) (*envelope.Envelope, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, method, path string, body any) (*envelope.Envelope, error)

// Do implements Transport.
func (f TransportFunc) Do(ctx context.Context, method, path string, body any) (*envelope.Envelope, error) {
	return f(ctx, method, path, body)
}
