package lru

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddGet(t *testing.T) {
	c := New[string, []byte](2)
	c.Add("a", []byte("1"))
	c.Add("b", []byte("2"))

	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
	c.Release("a")
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c := New[string, int](2)
	c.SetOnEvicted(func(k string, _ int) { evicted = append(evicted, k) })

	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3) // evicts "a" (least recently touched)

	require.Equal(t, []string{"a"}, evicted)
	_, ok := c.Get("a")
	require.False(t, ok)
	require.Equal(t, 2, c.Len())
}

func TestGetRefreshesRecency(t *testing.T) {
	var evicted []string
	c := New[string, int](2)
	c.SetOnEvicted(func(k string, _ int) { evicted = append(evicted, k) })

	c.Add("a", 1)
	c.Add("b", 2)
	c.Get("a")
	c.Release("a")
	c.Add("c", 3) // "b" is now least recently used

	require.Equal(t, []string{"b"}, evicted)
}

func TestRemoveAndClear(t *testing.T) {
	c := New[string, int](0)
	c.Add("a", 1)
	c.Add("b", 2)
	c.Remove("a")
	require.Equal(t, 1, c.Len())
	c.Clear()
	require.Equal(t, 0, c.Len())
}

func TestStats(t *testing.T) {
	c := New[string, int](10)
	c.Add("a", 1)
	c.Get("a")
	c.Get("missing")
	hits, misses, items, cap := c.Stats()
	require.Equal(t, 1, hits)
	require.Equal(t, 1, misses)
	require.Equal(t, 1, items)
	require.Equal(t, 10, cap)
}
