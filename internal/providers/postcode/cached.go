package postcode

import (
	"context"
	"fmt"
	"time"

	"github.com/opbuddy121/fibre-joint-app/internal/cache"
)

// Cached memoizes successful lookups. Misses are not cached so a flaky
// upstream does not pin "unknown" for the whole TTL.
type Cached struct {
	next  Provider
	cache cache.Cache
	ttl   time.Duration
}

func NewCached(next Provider, c cache.Cache, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cached{next: next, cache: c, ttl: ttl}
}

// Key rounds to ~1m so readings from the same spot share an entry.
func Key(lat, lon float64) string {
	return fmt.Sprintf("postcode:%.5f:%.5f", lat, lon)
}

func (c *Cached) Lookup(ctx context.Context, lat, lon float64) (string, bool) {
	key := Key(lat, lon)

	var hit string
	if ok, err := c.cache.GetJSON(ctx, key, &hit); err == nil && ok && hit != "" {
		return hit, true
	}

	pc, ok := c.next.Lookup(ctx, lat, lon)
	if !ok {
		return "", false
	}
	_ = c.cache.SetJSON(ctx, key, pc, c.ttl)
	return pc, true
}
