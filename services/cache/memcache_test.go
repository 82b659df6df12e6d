package cache

import (
	"testing"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/stretchr/testify/assert"
)

// This test requires a running memcached instance
// If memcached is not available, the test will be skipped
func TestMemcacheService(t *testing.T) {
	mc := NewMemcacheService("localhost:11211")
	if err := mc.Ping(); err != nil {
		t.Skip("Memcached is not available, skipping test")
	}

	key := Key("test", "太古城, Hong Kong")
	err := mc.Set(key, []byte(`{"lat":22.28,"lng":114.21}`), 2*time.Second)
	assert.NoError(t, err)

	var got struct{ Lat, Lng float64 }
	found, err := GetJSON(mc, key, &got)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 22.28, got.Lat)

	assert.NoError(t, mc.Delete(key))
	assert.NoError(t, mc.Delete(key))

	_, err = mc.Get(key)
	assert.ErrorIs(t, err, memcache.ErrCacheMiss)
}
