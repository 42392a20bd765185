package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	store, err := NewRedisStore(RedisConfig{Address: srv.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store, srv
}

func TestRedisStoreRequiresAddress(t *testing.T) {
	_, err := NewRedisStore(RedisConfig{})
	require.Error(t, err)
}

func TestRedisStoreSetGetDelete(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "effective:u1", []byte(`["docs.read"]`), time.Minute))

	value, ok, err := store.Get(ctx, "effective:u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `["docs.read"]`, string(value))

	require.NoError(t, store.Delete(ctx, "effective:u1"))

	_, ok, err = store.Get(ctx, "effective:u1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStoreKeysArePrefixed(t *testing.T) {
	store, srv := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	require.True(t, srv.Exists("gatekeeper:k"))
}

func TestRedisStoreIncrementWithTTL(t *testing.T) {
	store, srv := newTestRedisStore(t)
	ctx := context.Background()

	count, _, err := store.IncrementWithTTL(ctx, "gen:u1", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	count, remaining, err := store.IncrementWithTTL(ctx, "gen:u1", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
	require.Greater(t, remaining, time.Duration(0))

	value, ok, err := store.Get(ctx, "gen:u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), value)

	srv.FastForward(2 * time.Minute)

	count, _, err = store.IncrementWithTTL(ctx, "gen:u1", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}
