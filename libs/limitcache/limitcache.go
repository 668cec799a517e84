// Package limitcache keeps one token bucket per key in a bounded LRU.
package limitcache

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Cache hands out rate limiters keyed by, for example, a remote address.
// It is safe for concurrent use.
type Cache struct {
	lcache *lru.Cache
	limit  rate.Limit
	burst  int
}

// New creates a cache holding at most size limiters, each allowing limit
// events per second with the given burst.
func New(size int, limit rate.Limit, burst int) (*Cache, error) {
	lcache, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create lru")
	}
	return &Cache{lcache: lcache, limit: limit, burst: burst}, nil
}

// Get returns the limiter for key, creating it on first use.
func (c *Cache) Get(key interface{}) *rate.Limiter {
	new := rate.NewLimiter(c.limit, c.burst)
	prev, _, _ := c.lcache.PeekOrAdd(key, new)
	if prev != nil {
		return prev.(*rate.Limiter)
	}
	return new
}

// Allow consumes one token for key.
func (c *Cache) Allow(key interface{}) bool {
	return c.AllowAt(key, time.Now())
}

// AllowAt is Allow with an explicit clock.
func (c *Cache) AllowAt(key interface{}, now time.Time) bool {
	return c.Get(key).AllowN(now, 1)
}

// Forget drops the limiter for key.
func (c *Cache) Forget(key interface{}) {
	c.lcache.Remove(key)
}

// Len returns the number of tracked keys.
func (c *Cache) Len() int {
	return c.lcache.Len()
}
