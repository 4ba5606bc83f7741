package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Fetcher layers deduplicated population on top of a Cache. Concurrent
// requests for a missing key share a single upstream call; every caller
// receives the same value. The upstream is therefore invoked at most once per
// TTL window per key regardless of fan-in.
type Fetcher struct {
	cache *Cache
	group singleflight.Group
}

// NewFetcher creates a Fetcher backed by the given cache.
func NewFetcher(c *Cache) *Fetcher {
	return &Fetcher{cache: c}
}

// Fetch returns the cached value for key, populating it via fn on a miss.
// The error from fn is returned to every caller that shared the flight and
// leaves the cache unpopulated so the next request retries.
func (f *Fetcher) Fetch(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) (any, error)) (any, error) {
	if value, ok := f.cache.Get(key); ok {
		return value, nil
	}

	value, err, _ := f.group.Do(key, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have
		// populated the key while we waited our turn.
		if value, ok := f.cache.Get(key); ok {
			return value, nil
		}
		value, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		f.cache.SetWithTTL(key, value, ttl)
		return value, nil
	})
	return value, err
}
