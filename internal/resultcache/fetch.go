package resultcache

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// FetchFunc computes the value for a key on a miss.
type FetchFunc func(ctx context.Context) (interface{}, error)

// GetOrFetch returns the cached value for key or calls fetch and stores the
// result. Concurrent misses for the same key share one fetch. If the fetch
// fails and an expired copy is still stored, the stale copy is returned
// together with the error.
func (c *Cache) GetOrFetch(ctx context.Context, key string, fetch FetchFunc, opts SetOptions) (interface{}, error) {
	// Get drops expired entries, so hold on to the old value first.
	stale, hasStale := c.peek(key)
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.flights.Do(key, func() (interface{}, error) {
		// another caller may have filled it while we queued
		if v, ok := c.live(key); ok {
			return v, nil
		}
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, opts)
		return v, nil
	})
	if err != nil {
		if hasStale {
			c.logger.Warn("serving stale result cache entry", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
			return stale, err
		}
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	return v, nil
}

type PreloadItem struct {
	Key   string
	Fetch FetchFunc
	TTL   time.Duration
}

// Preload fetches every item whose key is not live in the cache and stores
// it at high priority. Fetch errors are logged and skipped; the returned
// count is the number of entries loaded.
func (c *Cache) Preload(ctx context.Context, items []PreloadItem, concurrency int) int {
	if concurrency <= 0 {
		concurrency = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	loaded := make(chan struct{}, len(items))
	for _, item := range items {
		item := item
		if _, ok := c.live(item.Key); ok {
			continue
		}
		g.Go(func() error {
			v, err := item.Fetch(gctx)
			if err != nil {
				c.logger.Warn("result cache preload failed", map[string]interface{}{
					"key":   item.Key,
					"error": err.Error(),
				})
				return nil
			}
			c.Set(item.Key, v, SetOptions{TTL: item.TTL, Priority: PriorityHigh})
			loaded <- struct{}{}
			return nil
		})
	}
	_ = g.Wait()
	close(loaded)

	n := len(loaded)
	c.logger.Info("result cache preloaded", map[string]interface{}{
		"requested": len(items),
		"loaded":    n,
	})
	return n
}
