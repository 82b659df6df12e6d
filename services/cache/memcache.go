package cache

import (
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcacheService implements CacheService using memcache
type MemcacheService struct {
	client *memcache.Client
}

// NewMemcacheService creates a new memcache service
func NewMemcacheService(serverAddr string) *MemcacheService {
	client := memcache.New(serverAddr)
	client.Timeout = 500 * time.Millisecond
	return &MemcacheService{client: client}
}

// Ping checks that the server answers
func (m *MemcacheService) Ping() error {
	return m.client.Ping()
}

// Get retrieves a value from memcache
func (m *MemcacheService) Get(key string) ([]byte, error) {
	item, err := m.client.Get(key)
	if err != nil {
		return nil, err
	}
	return item.Value, nil
}

// Set stores a value in memcache with an expiration time. Memcache treats
// relative expirations above 30 days as absolute timestamps, so longer TTLs
// are sent as a Unix time.
func (m *MemcacheService) Set(key string, value []byte, expiration time.Duration) error {
	exp := int32(expiration.Seconds())
	if expiration > 30*24*time.Hour {
		exp = int32(time.Now().Add(expiration).Unix())
	}
	return m.client.Set(&memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: exp,
	})
}

// Delete removes a value from memcache
func (m *MemcacheService) Delete(key string) error {
	err := m.client.Delete(key)
	if err == memcache.ErrCacheMiss {
		return nil
	}
	return err
}
