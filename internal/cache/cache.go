package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResolvedMapping is the cached answer of the resolve path: everything the
// remote gateway needs to forward a request upstream.
type ResolvedMapping struct {
	Provider string `json:"provider"`
	Secret   string `json:"secret"`
	Model    string `json:"model"`
}

// Cache is what the lifecycle service and the rate limiter need from the
// cache layer. Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	SetResolved(ctx context.Context, gatewayKey string, m ResolvedMapping, ttl time.Duration) error
	GetResolved(ctx context.Context, gatewayKey string) (ResolvedMapping, bool, error)
	InvalidateResolved(ctx context.Context, gatewayKey string) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) SetResolved(ctx context.Context, gatewayKey string, m ResolvedMapping, ttl time.Duration) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, ResolveKey(gatewayKey), b, ttl).Err()
}

func (c *RedisCache) GetResolved(ctx context.Context, gatewayKey string) (ResolvedMapping, bool, error) {
	val, err := c.client.Get(ctx, ResolveKey(gatewayKey)).Bytes()
	if err == redis.Nil {
		return ResolvedMapping{}, false, nil
	}
	if err != nil {
		return ResolvedMapping{}, false, err
	}
	var m ResolvedMapping
	if err := json.Unmarshal(val, &m); err != nil {
		return ResolvedMapping{}, false, err
	}
	return m, true, nil
}

// InvalidateResolved drops the cached resolution for a gateway key. The
// lifecycle orchestrator calls this after every local mutation so the resolve
// path never serves a mapping that was just updated or deleted.
func (c *RedisCache) InvalidateResolved(ctx context.Context, gatewayKey string) error {
	return c.client.Del(ctx, ResolveKey(gatewayKey)).Err()
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
