// Package transport is the HTTP client side of the sitesync API.
//
// HTTP implements the collection Transport boundary: it encodes request
// bodies as JSON, decodes the response envelope and turns failures into
// typed errors carrying the server's code. Every call runs through a
// resilience.Executor. Reads (GET) are retried on retryable codes and
// honor the server's Retry-After; writes are sent at most once.
package transport
