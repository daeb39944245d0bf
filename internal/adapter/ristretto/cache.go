// Package ristretto implements the cache port for raster windows using
// dgraph-io/ristretto.
package ristretto

import (
	"github.com/dgraph-io/ristretto/v2"
)

// Cache wraps a ristretto cache keyed by raster window identity.
type Cache[V any] struct {
	c *ristretto.Cache[string, V]
}

// New creates a ristretto-backed cache. maxCostBytes is the maximum total
// size of cached values in bytes.
func New[V any](maxCostBytes int64) (*Cache[V], error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache[V]{c: c}, nil
}

// Get retrieves a value from the cache.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.c.Get(key)
}

// Set stores a value with the given memory cost. Admission may drop it.
func (c *Cache[V]) Set(key string, value V, cost int64) bool {
	return c.c.Set(key, value, cost)
}

// Del removes a value from the cache.
func (c *Cache[V]) Del(key string) {
	c.c.Del(key)
}

// Close shuts down the cache and releases resources.
func (c *Cache[V]) Close() {
	c.c.Close()
}
