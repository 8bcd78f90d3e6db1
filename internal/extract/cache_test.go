package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseCacheRoundTrip(t *testing.T) {
	c := NewResponseCache(4, 0)

	_, ok := c.Get("https://hctax.net/a")
	assert.False(t, ok)
	assert.False(t, c.Contains("https://hctax.net/a"))

	c.Set("https://hctax.net/a", []byte("<html>bill</html>"))

	body, ok := c.Get("https://hctax.net/a")
	require.True(t, ok)
	assert.Equal(t, []byte("<html>bill</html>"), body)
	assert.True(t, c.Contains("https://hctax.net/a"))
	assert.Equal(t, 1, c.Len())
}

func TestResponseCacheEvictsAtCapacity(t *testing.T) {
	c := NewResponseCache(2, 0)
	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))
	c.Set("c", []byte("3"))

	assert.Equal(t, 2, c.Len())
	assert.False(t, c.Contains("a"), "oldest entry should be evicted")
	assert.True(t, c.Contains("c"))
}

func TestResponseCacheTTLExpiry(t *testing.T) {
	c := NewResponseCache(4, 20*time.Millisecond)
	c.Set("a", []byte("1"))

	_, ok := c.Get("a")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry should expire after the TTL")
}

func TestResponseCachePurge(t *testing.T) {
	c := NewResponseCache(4, 0)
	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))
	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestResponseCacheDefaultSize(t *testing.T) {
	c := NewResponseCache(0, 0)
	c.Set("a", []byte("1"))
	assert.Equal(t, 1, c.Len())
}
