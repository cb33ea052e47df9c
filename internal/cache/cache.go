// Package cache provides TTL memoization for remote query results:
// layer schema metadata and count queries, which are stable enough to
// reuse across pages within one session.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key generates a cache key from a query signature (URL plus the
// parameters that determine the response)
func Key(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return "parcelscope:v1:" + hex.EncodeToString(hash[:])
}
