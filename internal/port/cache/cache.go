// Package cache defines the in-process cache port used for raster windows.
package cache

// Cache is a size-bounded key/value cache with no persistence guarantees:
// a Set may be dropped and a Get may miss at any time.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	// Set stores value with an approximate memory cost in bytes.
	Set(key K, value V, cost int64) bool
	Del(key K)
	Close()
}
