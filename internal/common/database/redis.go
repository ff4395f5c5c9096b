package database

import (
	"context"
	"fmt"

	"forum-comms/internal/common/config"

	"github.com/redis/go-redis/v9"
)

// RedisClient backs the hub relay, the dispatch dedupe keys and the user cache.
type RedisClient struct {
	Client *redis.Client
}

// NewRedis builds a lazily connecting client; call Ping to verify reachability.
// Zero pool or timeout values keep the go-redis defaults.
func NewRedis(cfg config.RedisConfig) (*RedisClient, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.MinIdleConns > cfg.PoolSize && cfg.PoolSize > 0 {
		return nil, fmt.Errorf("redis min_idle_conns %d exceeds pool_size %d", cfg.MinIdleConns, cfg.PoolSize)
	}
	rdb := redis.NewClient(redisOptions(cfg))
	return &RedisClient{Client: rdb}, nil
}

func redisOptions(cfg config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  config.GetDuration(cfg.DialTimeout),
		ReadTimeout:  config.GetDuration(cfg.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.WriteTimeout),
	}
}

func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	if c.Client != nil {
		return c.Client.Close()
	}
	return nil
}
