package cache

import (
	"errors"
	"strings"
	"time"
)

// MaxKeyLength bounds key size. Keys embed a digest, so real keys stay
// well below it.
const MaxKeyLength = 512

var (
	ErrNilCache          = errors.New("cache: store is nil")
	ErrStoreClosed       = errors.New("cache: store is closed")
	ErrInvalidPrefix     = errors.New("cache: namespace prefix is invalid")
	ErrNamespaceConflict = errors.New("cache: namespace prefix overlaps an existing namespace")

	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key is too long")
)

// ValidateKey rejects blank keys, keys longer than MaxKeyLength and keys
// containing line breaks.
func ValidateKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "", strings.ContainsAny(key, "\r\n"):
		return ErrInvalidKey
	case len(key) > MaxKeyLength:
		return ErrKeyTooLong
	}
	return nil
}

// Backend is what ReadThrough reads from and fills. Get reports a miss or
// an expired entry as (zero, false). A Backend may panic; ReadThrough
// recovers and falls back to fetching directly.
type Backend[T any] interface {
	Get(key string) (T, bool)
	// Set stores value. ttl <= 0 selects the backend default.
	Set(key string, value T, ttl time.Duration)
}

// Matcher selects keys for DeleteMatching. *regexp.Regexp is a Matcher.
type Matcher interface {
	MatchString(s string) bool
}

// Invalidator drops cached keys singly or by group.
type Invalidator interface {
	Delete(key string) bool
	DeletePrefix(prefix string) int
	DeleteMatching(pattern Matcher) int
}

