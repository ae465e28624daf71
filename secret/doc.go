// Package secret resolves secret references in configuration values.
//
// A value may carry ${VAR} environment references and secretref tokens:
//
//	secretref:env:SITESYNC_JWT_SECRET
//	secretref:file:/run/secrets/jwt
//	Bearer secretref:env:UPSTREAM_TOKEN
//
// A value that is exactly one reference resolves to the secret; inline
// references are substituted in place. Resolved values must never be
// logged.
package secret
