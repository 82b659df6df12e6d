package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// CacheService represents a generic cache service
type CacheService interface {
	// Get retrieves a value from the cache
	Get(key string) ([]byte, error)

	// Set stores a value in the cache with an expiration time
	Set(key string, value []byte, expiration time.Duration) error

	// Delete removes a value from the cache
	Delete(key string) error
}

// Key builds a memcache-safe key: the namespace followed by a hash of the
// parts, so free text such as addresses never hits the 250 byte or
// whitespace restrictions.
func Key(namespace string, parts ...string) string {
	sum := sha1.Sum([]byte(strings.Join(parts, "\x1f")))
	return namespace + ":" + hex.EncodeToString(sum[:])
}

// GetJSON loads and decodes a cached value. A miss returns false and no error.
func GetJSON(c CacheService, key string, out interface{}) (bool, error) {
	data, err := c.Get(key)
	if stderrors.Is(err, memcache.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON encodes and stores a value
func SetJSON(c CacheService, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(key, data, ttl)
}
