package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "provisioned:users"

// RedisCache shares the provisioned set across API replicas.
type RedisCache struct {
	client *redis.Client
	key    string
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string) (*RedisCache, error) {
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

	return NewRedisCacheWithClient(client), nil
}

func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, key: defaultRedisKey}
}

func (c *RedisCache) Contains(ctx context.Context, userID uuid.UUID) (bool, error) {
	ok, err := c.client.SIsMember(ctx, c.key, userID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("check provisioned user: %w", err)
	}
	return ok, nil
}

func (c *RedisCache) Add(ctx context.Context, userID uuid.UUID) error {
	if err := c.client.SAdd(ctx, c.key, userID.String()).Err(); err != nil {
		return fmt.Errorf("mark provisioned user: %w", err)
	}
	return nil
}

func (c *RedisCache) Clear(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("clear provisioned users: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
