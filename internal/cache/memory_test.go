package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSetGetDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))

	value, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), value)

	require.NoError(t, store.Delete(ctx, "k", "missing"))

	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreExpiry(t *testing.T) {
	current := time.Now()
	store := NewMemoryStore(WithClock(func() time.Time { return current }))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Second))

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)

	current = current.Add(2 * time.Second)

	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreIncrementWindows(t *testing.T) {
	current := time.Now()
	store := NewMemoryStore(WithClock(func() time.Time { return current }))
	ctx := context.Background()

	count, _, err := store.IncrementWithTTL(ctx, "counter", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	count, remaining, err := store.IncrementWithTTL(ctx, "counter", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
	require.LessOrEqual(t, remaining, time.Minute)

	// a fresh window starts once the previous one lapses
	current = current.Add(2 * time.Minute)
	count, _, err = store.IncrementWithTTL(ctx, "counter", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestMemoryStoreCounterReadableViaGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, _, err := store.IncrementWithTTL(ctx, "counter", time.Minute)
	require.NoError(t, err)
	_, _, err = store.IncrementWithTTL(ctx, "counter", time.Minute)
	require.NoError(t, err)

	value, ok, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), value)
}

func TestMemoryStoreHonoursCancellation(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	_, _, err := store.Get(ctx, "k")
	require.Error(t, err)
}
