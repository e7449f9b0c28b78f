// Package datacache implements the REST-response cache of spec.md
// §4.9 step 2 (funding rate, open interest, fear-greed, each cached
// with a TTL so the control loop doesn't re-fetch on every candle
// close). Grounded on the teacher's internal/cache/cache_service.go:
// the same redis.Client wrapper with a degraded-mode fallback on
// initial connection failure, generalized from its Epic-6 user-settings
// key prefixes to the spec's market-data keys.
package datacache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"futures-signal-engine/internal/logging"
)

// Config mirrors the teacher's config.RedisConfig shape.
type Config struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	PoolSize int
}

const (
	fundingTTL     = 5 * time.Minute
	openInterestTTL = 5 * time.Minute
	fearGreedTTL   = 15 * time.Minute
)

func fundingKey(symbol string) string      { return fmt.Sprintf("market:%s:funding_rate", symbol) }
func openInterestKey(symbol string) string { return fmt.Sprintf("market:%s:open_interest", symbol) }
const fearGreedKey = "market:fear_greed"

// Cache wraps a Redis client with graceful degradation: if Redis is
// unreachable at construction, operations no-op (cache miss) rather
// than blocking the control loop, matching the teacher's
// NewCacheService "return service in degraded mode" behavior.
type Cache struct {
	client  *redis.Client
	healthy bool
	mu      sync.RWMutex
	log     *logging.Logger
}

// NewCache connects to Redis per cfg; on failure it returns a degraded
// Cache rather than an error, since market-data caching is an
// optimization, not a hard dependency.
func NewCache(cfg Config) *Cache {
	log := logging.WithComponent("datacache")
	if !cfg.Enabled {
		return &Cache{healthy: false, log: log}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	c := &Cache{client: client, log: log}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		c.log.WithError(err).Warn("initial redis connection failed, running degraded")
		return c
	}
	c.healthy = true
	return c
}

func (c *Cache) isHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy && c.client != nil
}

func (c *Cache) getFloat(ctx context.Context, key string) (float64, bool) {
	if !c.isHealthy() {
		return 0, false
	}
	val, err := c.client.Get(ctx, key).Float64()
	if err != nil {
		return 0, false
	}
	return val, true
}

func (c *Cache) setFloat(ctx context.Context, key string, value float64, ttl time.Duration) {
	if !c.isHealthy() {
		return
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.log.WithError(err).Debug("redis set failed")
	}
}

// FundingRate returns a cached funding rate and whether it was a hit.
func (c *Cache) FundingRate(ctx context.Context, symbol string) (float64, bool) {
	return c.getFloat(ctx, fundingKey(symbol))
}

// SetFundingRate caches a funding rate for 5 minutes.
func (c *Cache) SetFundingRate(ctx context.Context, symbol string, rate float64) {
	c.setFloat(ctx, fundingKey(symbol), rate, fundingTTL)
}

// OpenInterest returns a cached open-interest value and whether it was
// a hit.
func (c *Cache) OpenInterest(ctx context.Context, symbol string) (float64, bool) {
	return c.getFloat(ctx, openInterestKey(symbol))
}

// SetOpenInterest caches an open-interest value for 5 minutes.
func (c *Cache) SetOpenInterest(ctx context.Context, symbol string, oi float64) {
	c.setFloat(ctx, openInterestKey(symbol), oi, openInterestTTL)
}

// FearGreed returns the cached fear-greed index and whether it was a
// hit; callers fall back to 50 on a miss (spec.md §6).
func (c *Cache) FearGreed(ctx context.Context) (int, bool) {
	if !c.isHealthy() {
		return 0, false
	}
	val, err := c.client.Get(ctx, fearGreedKey).Int()
	if err != nil {
		return 0, false
	}
	return val, true
}

// SetFearGreed caches the fear-greed index for 15 minutes.
func (c *Cache) SetFearGreed(ctx context.Context, value int) {
	if !c.isHealthy() {
		return
	}
	if err := c.client.Set(ctx, fearGreedKey, value, fearGreedTTL).Err(); err != nil {
		c.log.WithError(err).Debug("redis set failed")
	}
}

