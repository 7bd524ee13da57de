package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Redis is a Guard shared across processes through Redis.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects and pings Redis.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("dedupe: redis ping %s: %w", cfg.Addr, err)
	}
	return &Redis{client: client, prefix: "directline:"}, nil
}

func (r *Redis) Claim(ctx context.Context, key, value string, ttl time.Duration) (string, error) {
	k := r.prefix + key
	ok, err := r.client.SetNX(ctx, k, value, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("dedupe: setnx: %w", err)
	}
	if ok {
		return "", nil
	}
	existing, err := r.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET.
		return r.Claim(ctx, key, value, ttl)
	}
	if err != nil {
		return "", fmt.Errorf("dedupe: get: %w", err)
	}
	return existing, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
