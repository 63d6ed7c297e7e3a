package idempotency

import (
	"context"
	"time"

	"github.com/smallbiznis/billsync/internal/cache"
)

// MemoryStore keeps marks in process memory. Suitable for a single replica and tests.
type MemoryStore struct {
	processed cache.Cache[string, struct{}]
	inflight  cache.Cache[string, struct{}]
	ttl       time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		processed: cache.NewTTLCache[string, struct{}](),
		inflight:  cache.NewTTLCache[string, struct{}](),
		ttl:       ttl,
	}
}

func (s *MemoryStore) IsProcessed(_ context.Context, key string) (bool, error) {
	_, ok := s.processed.Get(processedKey(key))
	return ok, nil
}

func (s *MemoryStore) MarkProcessed(_ context.Context, key string) error {
	s.processed.Set(processedKey(key), struct{}{}, s.ttl)
	return nil
}

func (s *MemoryStore) Acquire(_ context.Context, key string) (func(), bool, error) {
	k := lockKey(key)
	if !s.inflight.SetNX(k, struct{}{}, DefaultLockTTL) {
		return func() {}, false, nil
	}
	return func() { s.inflight.Delete(k) }, true, nil
}
