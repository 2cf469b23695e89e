package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hookrelay/pkg/cache"
)

func TestLRU_GetPut(t *testing.T) {
	t.Parallel()

	c := cache.NewLRU[string, int](2)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Put("a", 1)
	c.Put("b", 2)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 2, c.Len())
}

func TestLRU_EvictsOldest(t *testing.T) {
	t.Parallel()

	c := cache.NewLRU[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)

	// Touch "a" so "b" becomes the eviction candidate.
	_, _ = c.Get("a")
	c.Put("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestLRU_UpdateExisting(t *testing.T) {
	t.Parallel()

	c := cache.NewLRU[string, int](2)
	c.Put("a", 1)
	c.Put("a", 10)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)
	assert.Equal(t, 1, c.Len())
}

func TestLRU_PanicsOnZeroCapacity(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { cache.NewLRU[string, int](0) })
}
