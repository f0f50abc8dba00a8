package readpath

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackendName is the name of the Redis cache backend.
const RedisBackendName = "redis"

// DefaultCacheTTL is how long a cached document is served.
const DefaultCacheTTL = 24 * time.Hour

// RedisCache caches documents as JSON strings in Redis. It is both a
// Backend and a Recorder.
type RedisCache[T any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// OpenRedisCache connects to redisURL and checks the connection.
func OpenRedisCache[T any](redisURL string, ttl time.Duration) (*RedisCache[T], error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisCache[T](client, ttl), nil
}

// NewRedisCache wraps an existing client. A non-positive ttl means
// DefaultCacheTTL.
func NewRedisCache[T any](client *redis.Client, ttl time.Duration) *RedisCache[T] {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache[T]{client: client, prefix: "pdca:doc:", ttl: ttl}
}

func (c *RedisCache[T]) key(k Key) string {
	return c.prefix + k.ClientID + ":" + k.Document
}

func (c *RedisCache[T]) Name() string { return RedisBackendName }

// Fetch returns the cached document. An expired or absent entry is a Miss.
func (c *RedisCache[T]) Fetch(ctx context.Context, key Key) Result[T] {
	raw, err := c.client.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return Missing[T]()
	}
	if err != nil {
		return Failed[T](fmt.Errorf("lookup %s: %w", key, err))
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Failed[T](fmt.Errorf("unmarshal %s: %w", key, err))
	}
	return Found(v)
}

// Record stores value with the cache TTL.
func (c *RedisCache[T]) Record(ctx context.Context, key Key, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := c.client.Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Invalidate drops the cached entry for key.
func (c *RedisCache[T]) Invalidate(ctx context.Context, key Key) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisCache[T]) Close() error {
	return c.client.Close()
}
