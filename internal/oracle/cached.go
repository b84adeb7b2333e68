package oracle

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/roach88/shipsure/internal/policy"
)

// Cached re-uses an Observed result per shipment for a fixed TTL, so an
// on-demand check overlapping a scheduled cycle does not double the calls
// made to the feed. Unavailable outcomes are never cached.
type Cached struct {
	inner Oracle
	cache *ttlcache.Cache[string, policy.Observation]
}

// NewCached wraps inner. A non-positive ttl disables caching and inner is
// returned as-is.
func NewCached(inner Oracle, ttl time.Duration) Oracle {
	if ttl <= 0 {
		return inner
	}
	c := &Cached{
		inner: inner,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, policy.Observation](ttl),
			ttlcache.WithDisableTouchOnHit[string, policy.Observation](),
		),
	}
	go c.cache.Start()
	return c
}

func (c *Cached) Observe(ctx context.Context, shipmentID string) policy.Observation {
	if item := c.cache.Get(shipmentID); item != nil {
		return item.Value()
	}
	obs := c.inner.Observe(ctx, shipmentID)
	if obs.Outcome == policy.Observed {
		c.cache.Set(shipmentID, obs, ttlcache.DefaultTTL)
	}
	return obs
}

// Close stops the expiry loop.
func (c *Cached) Close() {
	c.cache.Stop()
}
