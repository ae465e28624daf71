// Package auth identifies the caller behind an HTTP request.
//
// sitesync does not enforce authentication: every request is served. The
// identity only decides whose rate-limit window a request counts against.
// A Resolver tries the configured Authenticators (bearer JWT, API key) and
// falls back to the client address when no credential is present or a
// credential does not verify.
package auth
