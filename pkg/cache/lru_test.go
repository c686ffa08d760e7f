package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUSetGet(t *testing.T) {
	c := NewLRU(4, time.Minute)

	c.Set("k1", []byte("v1"))
	got, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), got)

	_, ok = c.Get("absent")
	assert.False(t, ok)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0.5, stats.HitRate)
}

func TestLRUTTLExpiry(t *testing.T) {
	c := NewLRU(4, time.Minute)
	current := time.Unix(1000, 0)
	c.now = func() time.Time { return current }

	c.SetWithTTL("k1", []byte("v1"), 10*time.Second)

	_, ok := c.Get("k1")
	assert.True(t, ok)

	// Still valid at exactly the TTL boundary.
	current = current.Add(10 * time.Second)
	_, ok = c.Get("k1")
	assert.True(t, ok)

	// Past the boundary the entry is a miss exactly once, then stays gone.
	current = current.Add(time.Second)
	_, ok = c.Get("k1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestLRUCapacityEviction(t *testing.T) {
	c := NewLRU(3, time.Minute)

	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))
	c.Set("c", []byte("3"))

	// Touch "a" so "b" becomes the LRU entry.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("d", []byte("4"))

	_, ok = c.Get("b")
	assert.False(t, ok, "LRU entry should have been evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 3, c.Len())
}

func TestLRUSweepsExpiredBeforeEvicting(t *testing.T) {
	c := NewLRU(2, time.Minute)
	current := time.Unix(1000, 0)
	c.now = func() time.Time { return current }

	c.SetWithTTL("short", []byte("1"), time.Second)
	c.SetWithTTL("long", []byte("2"), time.Hour)

	current = current.Add(5 * time.Second)
	c.SetWithTTL("new", []byte("3"), time.Hour)

	// The expired entry was swept; the live LRU entry survives.
	_, ok := c.Get("long")
	assert.True(t, ok)
	_, ok = c.Get("new")
	assert.True(t, ok)
	_, ok = c.Get("short")
	assert.False(t, ok)
}

func TestLRUCapacityInvariantUnderLoad(t *testing.T) {
	c := NewLRU(8, time.Minute)
	for i := 0; i < 100; i++ {
		c.Set(fmt.Sprintf("k%d", i), []byte("v"))
		assert.LessOrEqual(t, c.Len(), 8)
	}
}

func TestLRUHitCountPerEntry(t *testing.T) {
	c := NewLRU(4, time.Minute)
	c.Set("k", []byte("v"))

	for i := 0; i < 3; i++ {
		_, ok := c.Get("k")
		require.True(t, ok)
	}

	elem := c.entries["k"]
	require.NotNil(t, elem)
	assert.Equal(t, 3, elem.Value.(*Entry).HitCount)
}
