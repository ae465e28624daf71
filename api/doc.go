// Package api serves sitesync collections over HTTP.
//
// Every API request passes, in order, through tracing and request logging,
// caller identification, the per-class rate limiter, a bulkhead bounding
// in-flight work, and finally the handler. Reads are served through a
// read-through cache of encoded response envelopes; every mutation
// invalidates the affected cache keys before it responds.
//
// Rate-limited requests receive 429 with Retry-After and X-RateLimit-*
// headers. A failing rate limiter lets requests through.
package api
