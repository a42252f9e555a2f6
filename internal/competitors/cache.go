package competitors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/circuitbreaker"
	"github.com/francesca-tabor-ai/Searchable-AI-Visibility/internal/metrics"
)

const cacheKeyPrefix = "visibility:competitors:"

// Cache keeps ranked competitor lists in Redis for dashboard reads.
type Cache struct {
	redis  *circuitbreaker.RedisWrapper
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache creates a cache whose entries expire after ttl.
func NewCache(rw *circuitbreaker.RedisWrapper, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{redis: rw, ttl: ttl, logger: logger}
}

func cacheKey(target string) string {
	return cacheKeyPrefix + target
}

// Get returns the cached list for target. ok is false on a miss.
func (c *Cache) Get(ctx context.Context, target string) (rows []CompetitorMetric, ok bool, err error) {
	raw, err := c.redis.Get(ctx, cacheKey(target)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("cache get %s: %w", target, err)
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("cache decode %s: %w", target, err)
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return rows, true, nil
}

// Set stores rows for target.
func (c *Cache) Set(ctx context.Context, target string, rows []CompetitorMetric) error {
	raw, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", target, err)
	}
	if err := c.redis.Set(ctx, cacheKey(target), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", target, err)
	}
	return nil
}

// Invalidate drops the cached lists of the given targets.
func (c *Cache) Invalidate(ctx context.Context, targets ...string) error {
	if len(targets) == 0 {
		return nil
	}
	keys := make([]string, len(targets))
	for i, t := range targets {
		keys[i] = cacheKey(t)
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// InvalidateAll drops every cached competitor list.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	keys, err := c.redis.Keys(ctx, cacheKeyPrefix+"*").Result()
	if err != nil {
		return fmt.Errorf("cache scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	c.logger.Debug("Competitor cache cleared", zap.Int("keys", len(keys)))
	return nil
}
