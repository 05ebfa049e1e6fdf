package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"autovolt-cloud/internal/analytics/application"
)

const defaultTTL = 15 * time.Minute

// SummaryCache stores rendered summaries in Redis with a TTL. A miss
// is application.ErrCacheMiss; every other failure surfaces so callers
// can log and fall back to the store.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// SummaryCacheOption configures the cache.
type SummaryCacheOption func(*SummaryCache)

// WithTTL overrides the cache expiry.
func WithTTL(ttl time.Duration) SummaryCacheOption {
	return func(c *SummaryCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// NewSummaryCache wraps a Redis client.
func NewSummaryCache(client *redis.Client, opts ...SummaryCacheOption) (*SummaryCache, error) {
	if client == nil {
		return nil, errors.New("summary cache: nil redis client")
	}
	c := &SummaryCache{client: client, ttl: defaultTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func dailyCacheKey(classroom, date string) string {
	return fmt.Sprintf("summary:daily:%s:%s", classroom, date)
}

func monthlyCacheKey(classroom, month string) string {
	return fmt.Sprintf("summary:monthly:%s:%s", classroom, month)
}

func (c *SummaryCache) GetDaily(ctx context.Context, classroom, date string) ([]byte, error) {
	return c.get(ctx, dailyCacheKey(classroom, date))
}

func (c *SummaryCache) SetDaily(ctx context.Context, classroom, date string, payload []byte) error {
	return c.client.Set(ctx, dailyCacheKey(classroom, date), payload, c.ttl).Err()
}

func (c *SummaryCache) GetMonthly(ctx context.Context, classroom, month string) ([]byte, error) {
	return c.get(ctx, monthlyCacheKey(classroom, month))
}

func (c *SummaryCache) SetMonthly(ctx context.Context, classroom, month string, payload []byte) error {
	return c.client.Set(ctx, monthlyCacheKey(classroom, month), payload, c.ttl).Err()
}

func (c *SummaryCache) InvalidateDay(ctx context.Context, classroom, date string) error {
	return c.client.Del(ctx, dailyCacheKey(classroom, date)).Err()
}

func (c *SummaryCache) InvalidateMonth(ctx context.Context, classroom, month string) error {
	return c.client.Del(ctx, monthlyCacheKey(classroom, month)).Err()
}

func (c *SummaryCache) get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, application.ErrCacheMiss
		}
		return nil, err
	}
	return val, nil
}
