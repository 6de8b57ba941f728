package database

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/portal/internal/config"
)

// NewRedis creates the Redis client shared by the session and OTP stores.
// The client is pinged before it is handed out so a bad REDIS_URL fails
// at startup rather than on the first login.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return client, nil
}

// AsynqRedisOpt derives the job queue connection from the same REDIS_URL
// so the API and the worker always agree on where tasks live.
func AsynqRedisOpt(cfg config.RedisConfig) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL for job queue: %w", err)
	}
	return opt, nil
}
