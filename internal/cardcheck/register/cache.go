package register

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/sitecomply/sitecomply-backend/internal/cardcheck/metrics"
	"github.com/sitecomply/sitecomply-backend/pkg/logger"
)

const (
	cacheKeyPrefix = "cardcheck:register:"
	localCacheSize = 1000
)

// CachedClient caches successful register lookups in Redis with a small
// in-process tier, and collapses concurrent lookups of the same card.
type CachedClient struct {
	next    Client
	cache   *cache.Cache
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewCachedClient wraps next with a Redis cache
func NewCachedClient(next Client, rdb *redis.Client, ttl time.Duration, m *metrics.Metrics, log *logger.Logger) *CachedClient {
	return &CachedClient{
		next: next,
		cache: cache.New(&cache.Options{
			Redis:      rdb,
			LocalCache: cache.NewTinyLFU(localCacheSize, time.Minute),
		}),
		ttl:     ttl,
		metrics: m,
		log:     log.WithComponent("register_cache"),
	}
}

// Lookup implements Client
func (c *CachedClient) Lookup(ctx context.Context, scheme, cardNumber string) (*Record, error) {
	key := cacheKey(scheme, cardNumber)

	var rec Record
	err := c.cache.Get(ctx, key, &rec)
	switch {
	case err == nil:
		c.metrics.IncRegisterLookup("hit")
		return &rec, nil
	case !errors.Is(err, cache.ErrCacheMiss):
		c.log.Warn().Err(err).Msg("register cache read failed")
	}

	// The shared lookup outlives any one caller; the HTTP client timeout bounds it.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		r, err := c.next.Lookup(shared, scheme, cardNumber)
		if err != nil {
			return nil, err
		}
		if setErr := c.cache.Set(&cache.Item{
			Ctx:   shared,
			Key:   key,
			Value: r,
			TTL:   c.ttl,
		}); setErr != nil {
			c.log.Warn().Err(setErr).Msg("register cache write failed")
		}
		return r, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			c.metrics.IncRegisterLookup("error")
			return nil, res.Err
		}
		c.metrics.IncRegisterLookup("miss")
		return res.Val.(*Record), nil
	case <-ctx.Done():
		c.metrics.IncRegisterLookup("error")
		return nil, ctx.Err()
	}
}

func cacheKey(scheme, cardNumber string) string {
	return cacheKeyPrefix + strings.ToUpper(strings.TrimSpace(scheme)) + ":" + strings.TrimSpace(cardNumber)
}
