package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheGetMiss(t *testing.T) {
	c := New[string](4)
	_, ok := c.Get("missing")
	require.False(t, ok)
}

func TestCachePutGet(t *testing.T) {
	c := New[string](4)
	c.Put("a", "alpha")
	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, "alpha", v)
}

func TestCacheNeverExceedsCapacity(t *testing.T) {
	c := New[int](3)
	for i := 0; i < 10; i++ {
		c.Put(string(rune('a'+i)), i)
		require.LessOrEqual(t, c.Len(), 3)
	}
	require.Equal(t, 3, c.Len())
}

func TestCacheEvictsOldestFirst(t *testing.T) {
	c := New[int](3)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	c.Put("d", 4) // evicts "a"

	_, ok := c.Get("a")
	require.False(t, ok, "oldest entry should have been evicted")

	for _, k := range []string{"b", "c", "d"} {
		_, ok := c.Get(k)
		require.True(t, ok, "key %q should remain", k)
	}
}

func TestCacheGetDoesNotPromote(t *testing.T) {
	c := New[int](2)
	c.Put("a", 1)
	c.Put("b", 2)

	// Repeated reads of "a" must not protect it from FIFO eviction.
	for i := 0; i < 5; i++ {
		_, _ = c.Get("a")
	}

	c.Put("c", 3) // should evict "a", the oldest insertion, despite the reads

	_, ok := c.Get("a")
	require.False(t, ok, "reads must not reorder entries")
	_, ok = c.Get("b")
	require.True(t, ok)
	_, ok = c.Get("c")
	require.True(t, ok)
}

func TestCacheOverwriteDoesNotChangeInsertionOrder(t *testing.T) {
	c := New[int](2)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("a", 100) // overwrite, not a new insertion

	c.Put("c", 3) // should still evict "a" (oldest insertion), not "b"

	_, ok := c.Get("a")
	require.False(t, ok)
	v, ok := c.Get("b")
	require.True(t, ok)
	require.Equal(t, 2, v)
}
