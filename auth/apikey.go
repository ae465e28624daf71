package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultAPIKeyHeader carries API keys.
const DefaultAPIKeyHeader = "X-API-Key"

// APIKey is a registered API key. Only its hash is kept.
type APIKey struct {
	// ID names the key; it becomes the caller subject.
	ID string `mapstructure:"id"`

	// Hash is the hex SHA-256 of the key.
	Hash string `mapstructure:"hash"`

	// ExpiresAt is when the key stops verifying; zero never expires.
	ExpiresAt time.Time `mapstructure:"expires_at"`
}

// APIKeyStore looks up keys by hash.
type APIKeyStore interface {
	// Lookup returns nil when no key has this hash.
	Lookup(ctx context.Context, hash string) (*APIKey, error)
}

// HashAPIKey hashes an API key for storage.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// APIKeyAuthenticator verifies API keys.
type APIKeyAuthenticator struct {
	header string
	store  APIKeyStore
	now    func() time.Time
}

// NewAPIKeyAuthenticator creates an API key authenticator reading header.
// An empty header selects DefaultAPIKeyHeader.
func NewAPIKeyAuthenticator(header string, store APIKeyStore) *APIKeyAuthenticator {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return &APIKeyAuthenticator{header: header, store: store, now: time.Now}
}

// Name returns "api_key".
func (a *APIKeyAuthenticator) Name() string { return "api_key" }

// Authenticate verifies the key header.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, header http.Header) (*Identity, error) {
	raw := strings.TrimSpace(header.Get(a.header))
	if raw == "" {
		return nil, ErrMissingCredentials
	}

	key, err := a.store.Lookup(ctx, HashAPIKey(raw))
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ErrInvalidCredentials
	}
	if !key.ExpiresAt.IsZero() && a.now().After(key.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	return &Identity{
		Subject:   key.ID,
		Method:    MethodAPIKey,
		Claims:    map[string]any{"key_id": key.ID},
		ExpiresAt: key.ExpiresAt,
	}, nil
}

// MemoryAPIKeyStore is an in-memory API key store.
type MemoryAPIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKey
}

// NewMemoryAPIKeyStore creates a store holding keys.
func NewMemoryAPIKeyStore(keys ...APIKey) *MemoryAPIKeyStore {
	s := &MemoryAPIKeyStore{keys: make(map[string]*APIKey, len(keys))}
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

// Lookup implements APIKeyStore.
func (s *MemoryAPIKeyStore) Lookup(_ context.Context, hash string) (*APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys[strings.ToLower(hash)], nil
}

// Add registers or replaces a key.
func (s *MemoryAPIKeyStore) Add(key APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[strings.ToLower(key.Hash)] = &key
}

// Remove forgets a key.
func (s *MemoryAPIKeyStore) Remove(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, strings.ToLower(hash))
}

var (
	_ Authenticator = (*APIKeyAuthenticator)(nil)
	_ APIKeyStore   = (*MemoryAPIKeyStore)(nil)
)
