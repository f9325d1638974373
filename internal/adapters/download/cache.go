package download

import (
	"context"
	"time"

	"tilefetch/internal/platform/logger"
	"tilefetch/internal/platform/metrics"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cache layers an in-memory LRU over an optional persistent Store
type cache struct {
	mem     *lru.Cache[string, entry]
	store   *Store
	metrics *metrics.Metrics
	log     *logger.Logger
}

func newCache(size int, store *Store, m *metrics.Metrics, log *logger.Logger) *cache {
	c := &cache{store: store, metrics: m, log: log}
	if size > 0 {
		c.mem, _ = lru.New[string, entry](size)
	}
	return c
}

// get looks url up in memory, then in the store
// A store hit is promoted to memory; store failures count as misses.
func (c *cache) get(ctx context.Context, url string, now time.Time) (entry, string, bool) {
	if c.mem != nil {
		if e, ok := c.mem.Get(url); ok {
			c.metrics.CacheHit("memory", e.expired(now))
			return e, "memory", true
		}
	}
	if c.store != nil {
		e, ok, err := c.store.Get(ctx, url)
		if err != nil {
			c.log.Warn().Err(err).Str("url", url).Msg("cache store read failed")
		}
		if ok {
			if c.mem != nil {
				c.mem.Add(url, e)
			}
			c.metrics.CacheHit("store", e.expired(now))
			return e, "store", true
		}
	}
	c.metrics.CacheMiss()
	return entry{}, "", false
}

// put records data for url until expires
func (c *cache) put(ctx context.Context, url string, e entry) {
	if c.mem != nil {
		c.mem.Add(url, e)
	}
	if c.store != nil {
		if err := c.store.Put(ctx, url, e); err != nil {
			c.log.Warn().Err(err).Str("url", url).Msg("cache store write failed")
		}
	}
}

func (c *cache) len() int {
	if c.mem == nil {
		return 0
	}
	return c.mem.Len()
}
