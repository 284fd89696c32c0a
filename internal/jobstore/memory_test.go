package jobstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMemoryStoreSetGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var got record
	assert.ErrorIs(t, s.Get(ctx, "missing", &got), ErrNotFound)

	require.NoError(t, s.Set(ctx, "k", record{Name: "a", Count: 1}, time.Minute))
	require.NoError(t, s.Get(ctx, "k", &got))
	assert.Equal(t, record{Name: "a", Count: 1}, got)

	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"))
	assert.ErrorIs(t, s.Get(ctx, "k", &got), ErrNotFound)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore().WithClock(func() time.Time { return now })

	require.NoError(t, s.Set(ctx, "k", record{Name: "a"}, time.Hour))
	assert.Equal(t, 1, s.Len())

	now = now.Add(59 * time.Minute)
	var got record
	require.NoError(t, s.Get(ctx, "k", &got))

	now = now.Add(time.Minute)
	assert.ErrorIs(t, s.Get(ctx, "k", &got), ErrNotFound)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStoreSetNX(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore().WithClock(func() time.Time { return now })

	ok, err := s.SetNX(ctx, "lock", "first", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetNX(ctx, "lock", "second", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(31 * time.Second)
	ok, err = s.SetNX(ctx, "lock", "third", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	var holder string
	require.NoError(t, s.Get(ctx, "lock", &holder))
	assert.Equal(t, "third", holder)
}
