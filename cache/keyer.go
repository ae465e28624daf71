package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Keyer generates deterministic cache keys from read parameters.
//
// Contract:
// - Determinism: same inputs must produce same key, regardless of map iteration order.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	// Key generates a cache key from a scope and the read parameters.
	Key(scope string, input any) (string, error)
}

// DefaultKeyer generates SHA-256 based cache keys.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key generates a deterministic cache key.
// Format: <scope>|<hash>
// where hash is Digest(input).
func (k *DefaultKeyer) Key(scope string, input any) (string, error) {
	digest, err := Digest(input)
	if err != nil {
		return "", err
	}
	return scope + keySeparator + digest, nil
}

// Digest returns the first 16 hex characters of SHA-256 over the JSON
// encoding of v. encoding/json writes map keys in sorted order, so maps
// with equal content hash equally whatever their insertion order.
func Digest(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("cache: failed to encode key input: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8]), nil // First 8 bytes = 16 hex chars
}

// Ensure DefaultKeyer implements Keyer
var _ Keyer = (*DefaultKeyer)(nil)
