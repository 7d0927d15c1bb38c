package kpi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"semaphore/badging/internal/period"
)

// Cache keeps precomputed unfiltered bundles in Redis.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) Store(ctx context.Context, summary Summary) error {
	if c == nil || c.client == nil {
		return errors.New("redis_not_configured")
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(summary.Period), data, c.ttl).Err()
}

// Load returns the cached bundle for kind when it covers rng exactly.
func (c *Cache) Load(ctx context.Context, kind period.Kind, rng period.Range) (Summary, bool, error) {
	if c == nil || c.client == nil {
		return Summary{}, false, nil
	}
	value, err := c.client.Get(ctx, cacheKey(kind)).Result()
	if err == redis.Nil {
		return Summary{}, false, nil
	}
	if err != nil {
		return Summary{}, false, err
	}
	var summary Summary
	if err := json.Unmarshal([]byte(value), &summary); err != nil {
		return Summary{}, false, err
	}
	if !summary.Range.Start.Equal(rng.Start) || !summary.Range.End.Equal(rng.End) {
		return Summary{}, false, nil
	}
	return summary, true, nil
}

func cacheKey(kind period.Kind) string {
	return fmt.Sprintf("kpi:%s", kind)
}
