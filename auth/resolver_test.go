package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolver_Resolve(t *testing.T) {
	store := NewMemoryAPIKeyStore(APIKey{ID: "k1", Hash: HashAPIKey("secret")})
	res := NewResolver(ResolverConfig{Authenticator: NewAPIKeyAuthenticator("", store)})

	r := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	r.RemoteAddr = "10.0.0.7:5123"
	if got := res.Resolve(r).Key(); got != "ip:10.0.0.7" {
		t.Errorf("no credential = %q, want ip:10.0.0.7", got)
	}

	r.Header.Set(DefaultAPIKeyHeader, "wrong")
	id := res.Resolve(r)
	if !id.Anonymous() || id.Key() != "ip:10.0.0.7" {
		t.Errorf("bad credential should fall back to address, got %q", id.Key())
	}

	r.Header.Set(DefaultAPIKeyHeader, "secret")
	if got := res.Resolve(r).Key(); got != "key:k1" {
		t.Errorf("valid key = %q", got)
	}
}

func TestResolver_InternalErrorFallsBack(t *testing.T) {
	failing := NewAuthenticatorFunc("broken", func(context.Context, http.Header) (*Identity, error) {
		return nil, errors.New("store offline")
	})
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:80"

	if got := NewResolver(ResolverConfig{Authenticator: failing}).Resolve(r).Key(); got != "ip:192.0.2.1" {
		t.Errorf("Key() = %q", got)
	}
}

func TestResolver_ClientAddr(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		headers    map[string]string
		remote     string
		want       string
	}{
		{"remote addr", false, nil, "203.0.113.5:443", "203.0.113.5"},
		{"forwarded ignored", false, map[string]string{"X-Forwarded-For": "1.1.1.1"}, "203.0.113.5:443", "203.0.113.5"},
		{"forwarded trusted", true, map[string]string{"X-Forwarded-For": "1.1.1.1, 10.0.0.1"}, "10.0.0.1:1", "1.1.1.1"},
		{"real ip", true, map[string]string{"X-Real-IP": "2.2.2.2"}, "10.0.0.1:1", "2.2.2.2"},
		{"no port", false, nil, "pipe", "pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			res := NewResolver(ResolverConfig{TrustProxy: tt.trustProxy})
			if got := res.Resolve(r).Subject; got != tt.want {
				t.Errorf("Subject = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolver_Middleware(t *testing.T) {
	res := NewResolver(ResolverConfig{})
	var seen string
	h := res.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = KeyFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.9:1000"
	h.ServeHTTP(httptest.NewRecorder(), r)
	if seen != "ip:198.51.100.9" {
		t.Errorf("identity in handler = %q", seen)
	}

	if got := KeyFromContext(context.Background()); got != "ip:unknown" {
		t.Errorf("KeyFromContext(empty) = %q", got)
	}
}
