package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIsStableHash(t *testing.T) {
	a := Key([]byte(`{"event":"subscription.charged"}`))
	assert.Len(t, a, 64)
	assert.Equal(t, a, Key([]byte(`{"event":"subscription.charged"}`)))
	assert.NotEqual(t, a, Key([]byte(`{"event":"subscription.charged"} `)))
}

func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()
	key := Key([]byte("payload"))

	processed, err := store.IsProcessed(ctx, key)
	require.NoError(t, err)
	assert.False(t, processed)

	release, ok, err := store.Acquire(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = store.Acquire(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must see the in-flight lock")

	require.NoError(t, store.MarkProcessed(ctx, key))
	release()

	processed, err = store.IsProcessed(ctx, key)
	require.NoError(t, err)
	assert.True(t, processed)

	release, ok, err = store.Acquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	release()
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(time.Hour))
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, time.Hour, nil)
	exerciseStore(t, store)

	key := Key([]byte("payload"))
	assert.True(t, mr.Exists("billsync:webhook:processed:"+key))
	assert.False(t, mr.Exists("billsync:webhook:lock:"+key))

	mr.FastForward(time.Hour + time.Second)
	processed, err := store.IsProcessed(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	_, err := NewRedisStore(client, time.Hour, nil).IsProcessed(context.Background(), "k")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
