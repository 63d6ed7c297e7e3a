// Package cache holds the redis connection and the small caching and locking helpers built on it.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/billsync/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrInvalidRedisURL = errors.New("invalid_redis_url")
	ErrRedisNotReady   = errors.New("redis_not_ready")
)

const (
	connectTimeout = 10 * time.Second
	retryAttempts  = 3
	retryInterval  = time.Second
)

var Module = fx.Module("cache",
	fx.Provide(NewRedis),
	fx.Provide(NewLockerFromClient),
)

// NewRedis connects when redis is enabled and returns a nil client otherwise.
func NewRedis(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*redis.Client, error) {
	if !cfg.Redis.Enabled || strings.TrimSpace(cfg.Redis.URL) == "" {
		log.Info("redis disabled, using in-memory fallbacks")
		return nil, nil
	}

	client, err := Connect(context.Background(), cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	log.Info("redis connected")

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

// NewLockerFromClient returns nil when client is nil.
func NewLockerFromClient(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return NewLocker(client)
}

// Connect parses url and pings until the server answers or attempts run out.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	opts, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, errors.Join(ErrInvalidRedisURL, err)
	}

	for range retryAttempts {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(retryInterval):
		}
	}
	return nil, ErrRedisNotReady
}
