// Package cache is a small TTL cache keyed by string. A cache constructed
// with a non-positive TTL is disabled: Get always misses and Set is a no-op.
package cache

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type Cache[V any] struct {
	items *ttlcache.Cache[string, V]
	ttl   time.Duration
}

func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		items: ttlcache.New[string, V](
			ttlcache.WithTTL[string, V](ttl),
			ttlcache.WithDisableTouchOnHit[string, V](),
		),
		ttl: ttl,
	}
}

func (c *Cache[V]) Enabled() bool {
	return c != nil && c.ttl > 0
}

func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	if !c.Enabled() {
		return zero, false
	}
	item := c.items.Get(key)
	if item == nil || item.IsExpired() {
		return zero, false
	}
	return item.Value(), true
}

func (c *Cache[V]) Set(key string, value V) {
	if !c.Enabled() {
		return
	}
	c.items.Set(key, value, ttlcache.DefaultTTL)
}

func (c *Cache[V]) Delete(key string) {
	if !c.Enabled() {
		return
	}
	c.items.Delete(key)
}

func (c *Cache[V]) Len() int {
	if !c.Enabled() {
		return 0
	}
	return c.items.Len()
}

// Start runs the expired-item janitor until Stop is called.
func (c *Cache[V]) Start() {
	if !c.Enabled() {
		return
	}
	go c.items.Start()
}

func (c *Cache[V]) Stop() {
	if !c.Enabled() {
		return
	}
	c.items.Stop()
}
