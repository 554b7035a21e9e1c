package geo

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opensource-finance/tripwire/internal/domain"
)

// cacheNamespace is the tenant slot used for shared distance entries.
const cacheNamespace = "_geo"

// unknownMarker records a negative answer so it is not re-fetched
// immediately.
const unknownMarker = "?"

// Cached memoises another DistanceService in a domain.Cache.
// Concurrent misses for one pair share a single backend call.
type Cached struct {
	next   DistanceService
	cache  domain.Cache
	ttl    time.Duration
	flight singleflight.Group
}

type lookup struct {
	km    float64
	known bool
}

// NewCached wraps next. Unknown answers are kept for a tenth of ttl.
func NewCached(next DistanceService, cache domain.Cache, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: cache, ttl: ttl}
}

// DistanceKm implements DistanceService.
func (c *Cached) DistanceKm(ctx context.Context, cityA, cityB string) (float64, bool) {
	k := makeKey(cityA, cityB)
	key := "distance:" + k.a + "|" + k.b

	if res, hit := c.cached(ctx, key); hit {
		return res.km, res.known
	}

	v, _, _ := c.flight.Do(key, func() (any, error) {
		// A flight that finished since our miss has already filled the cache.
		if res, hit := c.cached(ctx, key); hit {
			return res, nil
		}
		km, ok := c.next.DistanceKm(ctx, cityA, cityB)
		if ctx.Err() != nil {
			return lookup{km, ok}, nil
		}
		value, ttl := strconv.FormatFloat(km, 'f', -1, 64), c.ttl
		if !ok {
			value, ttl = unknownMarker, c.ttl/10
		}
		if err := c.cache.Set(ctx, cacheNamespace, key, []byte(value), ttl); err != nil {
			slog.Debug("distance cache write failed", "key", key, "error", err)
		}
		return lookup{km, ok}, nil
	})
	res := v.(lookup)
	return res.km, res.known
}

func (c *Cached) cached(ctx context.Context, key string) (lookup, bool) {
	raw, err := c.cache.Get(ctx, cacheNamespace, key)
	if err != nil || raw == nil {
		return lookup{}, false
	}
	if string(raw) == unknownMarker {
		return lookup{}, true
	}
	km, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return lookup{}, false
	}
	return lookup{km: km, known: true}, true
}

func ttlSeconds(s int) time.Duration {
	if s <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(s) * time.Second
}
