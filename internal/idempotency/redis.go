package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/billsync/internal/cache"
	"go.uber.org/zap"
)

type RedisStore struct {
	client  redis.UniversalClient
	locker  *cache.Locker
	ttl     time.Duration
	lockTTL time.Duration
	log     *zap.Logger
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration, log *zap.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{
		client:  client,
		locker:  cache.NewLocker(client),
		ttl:     ttl,
		lockTTL: DefaultLockTTL,
		log:     log.Named("idempotency.redis"),
	}
}

func (s *RedisStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, processedKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

func (s *RedisStore) MarkProcessed(ctx context.Context, key string) error {
	if err := s.client.Set(ctx, processedKey(key), time.Now().UTC().Format(time.RFC3339), s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Acquire(ctx context.Context, key string) (func(), bool, error) {
	token, ok, err := s.locker.TryLock(ctx, lockKey(key), s.lockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrLockNotConfigured) {
			return nil, false, ErrStoreUnavailable
		}
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		return func() {}, false, nil
	}
	release := func() {
		// Release runs after the request context may be done.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := s.locker.Release(ctx, lockKey(key), token); err != nil {
			s.log.Warn("failed to release webhook lock", zap.String("idempotency_key", key), zap.Error(err))
		}
	}
	return release, true, nil
}
