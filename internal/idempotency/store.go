// Package idempotency remembers which webhook payloads were already applied.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

const (
	DefaultTTL     = time.Hour
	DefaultLockTTL = 30 * time.Second

	processedKeyPrefix = "billsync:webhook:processed:"
	lockKeyPrefix      = "billsync:webhook:lock:"
)

var ErrStoreUnavailable = errors.New("idempotency_store_unavailable")

// Store is keyed by Key(payload). Marks expire after the configured TTL.
type Store interface {
	IsProcessed(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, key string) error
	// Acquire takes the in-flight lock for key. When acquired is false another
	// delivery of the same payload is being applied right now.
	Acquire(ctx context.Context, key string) (release func(), acquired bool, err error)
}

// Key is the hex sha256 of the raw payload bytes.
func Key(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func processedKey(key string) string { return processedKeyPrefix + key }

func lockKey(key string) string { return lockKeyPrefix + key }
