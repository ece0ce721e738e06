package provenance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pharmatrace/pkg/platform/sentinel"
)

const (
	defaultCacheTTL    = 30 * time.Second
	defaultCachePrefix = "provenance:"
)

// RedisCache stores reconstructed provenance as JSON under a TTL. Entries
// are never invalidated on writes; readers may see a result up to one TTL old.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

type RedisCacheOption func(*RedisCache)

func WithTTL(ttl time.Duration) RedisCacheOption {
	return func(c *RedisCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithKeyPrefix(prefix string) RedisCacheOption {
	return func(c *RedisCache) { c.prefix = prefix }
}

func NewRedisCache(client *redis.Client, opts ...RedisCacheOption) *RedisCache {
	c := &RedisCache{client: client, ttl: defaultCacheTTL, prefix: defaultCachePrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) Get(ctx context.Context, identifier string) (*Provenance, error) {
	raw, err := c.client.Get(ctx, c.prefix+identifier).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read provenance cache: %w", err)
	}
	var p Provenance
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode cached provenance: %w", err)
	}
	return &p, nil
}

func (c *RedisCache) Set(ctx context.Context, identifier string, p *Provenance) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode provenance: %w", err)
	}
	return c.client.Set(ctx, c.prefix+identifier, raw, c.ttl).Err()
}
