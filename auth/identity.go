package auth

import "time"

// Method indicates how a caller was identified.
type Method string

const (
	MethodJWT     Method = "jwt"
	MethodAPIKey  Method = "api_key"
	MethodAddress Method = "address"
)

// Identity is the caller a request is attributed to.
type Identity struct {
	// Subject is the user id, API key id or client address.
	Subject string

	Method Method

	// Claims holds verified token claims. Empty for address identities.
	Claims map[string]any

	// ExpiresAt is when the credential expires; zero when it does not.
	ExpiresAt time.Time
}

// Key returns the rate-limit identifier for this caller. Methods are
// kept in separate key spaces so a user id can never collide with an
// address.
func (id *Identity) Key() string {
	switch id.Method {
	case MethodJWT:
		return "user:" + id.Subject
	case MethodAPIKey:
		return "key:" + id.Subject
	default:
		return "ip:" + id.Subject
	}
}

// Anonymous reports whether the caller presented no verified credential.
func (id *Identity) Anonymous() bool {
	return id.Method == MethodAddress
}

// AddressIdentity identifies a caller by network address.
func AddressIdentity(addr string) *Identity {
	if addr == "" {
		addr = "unknown"
	}
	return &Identity{Subject: addr, Method: MethodAddress}
}
