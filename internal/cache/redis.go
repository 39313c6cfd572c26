package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"example.com/afms/config"
)

// Client defines the cache operations used by the query side
type Client interface {
	GetSummary(ctx context.Context, modelID string) ([]byte, error)
	SetSummary(ctx context.Context, modelID string, data []byte) error
	DeleteSummary(ctx context.Context, modelID string) error
	FlushAll(ctx context.Context) error
}

// RedisClient implements Client using Redis. When disabled it degrades to a
// cache-miss for every read.
type RedisClient struct {
	client  *redis.Client
	enabled bool
	ttl     time.Duration
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg config.RedisConfig) (Client, error) {
	if !cfg.Enabled {
		return &RedisClient{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{
		client:  client,
		enabled: true,
		ttl:     time.Hour,
	}, nil
}

func summaryKey(modelID string) string {
	return fmt.Sprintf("attendance_summary:%s", modelID)
}

// GetSummary retrieves a cached attendance summary
func (c *RedisClient) GetSummary(ctx context.Context, modelID string) ([]byte, error) {
	if !c.enabled {
		return nil, redis.Nil
	}
	return c.client.Get(ctx, summaryKey(modelID)).Bytes()
}

// SetSummary caches an attendance summary
func (c *RedisClient) SetSummary(ctx context.Context, modelID string, data []byte) error {
	if !c.enabled {
		return nil
	}
	return c.client.Set(ctx, summaryKey(modelID), data, c.ttl).Err()
}

// DeleteSummary removes a cached attendance summary
func (c *RedisClient) DeleteSummary(ctx context.Context, modelID string) error {
	if !c.enabled {
		return nil
	}
	return c.client.Del(ctx, summaryKey(modelID)).Err()
}

// FlushAll clears all cache
func (c *RedisClient) FlushAll(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	return c.client.FlushAll(ctx).Err()
}

// IsMiss reports whether an error is a cache miss
func IsMiss(err error) bool {
	return err == redis.Nil
}
