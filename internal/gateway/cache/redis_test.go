package cache

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisAdapter(t *testing.T) *RedisAdapter {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisAdapterFromClient(client, "test:cache:")
}

func TestRedisAdapterSetGetDelete(t *testing.T) {
	a := newTestRedisAdapter(t)
	e := Entry{QueryHash: "abc123", QueryText: "hi", Response: "hello"}

	require.NoError(t, a.Set(e.QueryHash, e))

	got, ok, err := a.Get("abc123")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", got.Response)

	size, err := a.Size()
	require.NoError(t, err)
	require.Equal(t, 1, size)

	require.NoError(t, a.Delete("abc123"))
	_, ok, err = a.Get("abc123")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisAdapterClearAndEntries(t *testing.T) {
	a := newTestRedisAdapter(t)
	require.NoError(t, a.Set("h1", Entry{QueryHash: "h1", QueryText: "one"}))
	require.NoError(t, a.Set("h2", Entry{QueryHash: "h2", QueryText: "two"}))

	entries, err := a.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NoError(t, a.Clear())
	size, err := a.Size()
	require.NoError(t, err)
	require.Equal(t, 0, size)
}

func TestCacheOverRedisAdapter(t *testing.T) {
	adapter := newTestRedisAdapter(t)
	c := New(adapter, Config{})

	require.NoError(t, c.Store("hello world", "resp", "openai", "gpt-4o-mini", 0.001, 10, 0))
	res, ok := c.Lookup("hello world")
	require.True(t, ok)
	require.Equal(t, 1.0, res.Similarity)
}
