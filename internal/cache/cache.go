// Package cache provides a small TTL cache used in front of sports API lookups.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"sportstream-relay/internal/metrics"
)

// TTL is a bounded cache whose entries expire after a fixed time-to-live.
// Entries can also be dropped explicitly with Invalidate or Purge.
type TTL[K comparable, V any] struct {
	lru     *expirable.LRU[K, V]
	metrics *metrics.Metrics
}

// New creates a TTL cache holding up to size entries for ttl each.
// The metrics parameter is optional.
func New[K comparable, V any](size int, ttl time.Duration, m *metrics.Metrics) *TTL[K, V] {
	return &TTL[K, V]{
		lru:     expirable.NewLRU[K, V](size, nil, ttl),
		metrics: m,
	}
}

// Get returns the cached value for key, if present and not expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	v, ok := c.lru.Get(key)
	if c.metrics != nil {
		result := "miss"
		if ok {
			result = "hit"
		}
		c.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
	return v, ok
}

// Set stores value under key.
func (c *TTL[K, V]) Set(key K, value V) {
	c.lru.Add(key, value)
}

// Invalidate drops key.
func (c *TTL[K, V]) Invalidate(key K) {
	c.lru.Remove(key)
}

// Purge drops every entry.
func (c *TTL[K, V]) Purge() {
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *TTL[K, V]) Len() int {
	return c.lru.Len()
}
