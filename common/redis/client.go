package redis

import (
	"context"

	"github.com/caat-at/sistema-sensores-humedad-agricola/common/config"

	"github.com/go-redis/redis/v8"
)

// Client Redis client alias so callers only import this package
type Client = redis.Client

// NewRedisClient creates a Redis client
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping checks the Redis connection
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

// Close closes the Redis connection
func Close(client *redis.Client) error {
	return client.Close()
}
