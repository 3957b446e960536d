package interval

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheLoadDiscardsOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aster_intervals.json")
	content := `{"BTCUSDT": 8, "ETHUSDT": 4, "BAD": 12, "ZERO": 0, "TXT": "8", "ONE": 1}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c := NewCache(path, time.Hour)
	discarded, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, discarded)
	assert.Equal(t, 3, c.Len())

	h, ok := c.Get("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, 8.0, h)
	_, ok = c.Get("BAD")
	assert.False(t, ok)
}

func TestCacheLoadMissingFile(t *testing.T) {
	c := NewCache(filepath.Join(t.TempDir(), "missing.json"), time.Hour)
	discarded, err := c.Load()
	require.NoError(t, err)
	assert.Zero(t, discarded)
	assert.Zero(t, c.Len())
}

func TestCacheLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	c := NewCache(path, time.Hour)
	_, err := c.Load()
	require.Error(t, err)
	assert.Zero(t, c.Len())
}

func TestCacheFlushRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "binance_intervals.json")
	c := NewCache(path, time.Hour)

	assert.True(t, c.Put("BTCUSDT", 8))
	assert.True(t, c.Put("SOLUSDT", 4))
	assert.False(t, c.Put("ODDUSDT", 12))
	require.NoError(t, c.Flush())

	reloaded := NewCache(path, time.Hour)
	_, err := reloaded.Load()
	require.NoError(t, err)
	h, ok := reloaded.Get("SOLUSDT")
	require.True(t, ok)
	assert.Equal(t, 4.0, h)
	_, ok = reloaded.Get("ODDUSDT")
	assert.False(t, ok)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestCacheFlushSkipsWhenClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.json")
	c := NewCache(path, time.Hour)
	require.NoError(t, c.Flush())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "clean cache must not create a file")
}

func TestCacheFreshness(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCache("", time.Hour)
	c.now = func() time.Time { return now }

	c.Put("BTCUSDT", 8)
	h, ok := c.Fresh("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 8.0, h)

	now = now.Add(2 * time.Hour)
	_, ok = c.Fresh("BTCUSDT")
	assert.False(t, ok)
	_, ok = c.Get("BTCUSDT")
	assert.True(t, ok, "stale entries stay available as fallback")
}

func TestCacheLoadedEntriesExpireStaggered(t *testing.T) {
	const ttl = 6 * time.Hour
	path := filepath.Join(t.TempDir(), "binance_intervals.json")
	seed := NewCache(path, ttl)
	for i := 0; i < 200; i++ {
		require.True(t, seed.Put(fmt.Sprintf("COIN%dUSDT", i), 8))
	}
	require.NoError(t, seed.Flush())

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	c := NewCache(path, ttl)
	c.now = func() time.Time { return now }
	_, err := c.Load()
	require.NoError(t, err)

	freshCount := func() int {
		n := 0
		for i := 0; i < 200; i++ {
			if _, ok := c.Fresh(fmt.Sprintf("COIN%dUSDT", i)); ok {
				n++
			}
		}
		return n
	}

	now = start.Add(ttl/2 - time.Second)
	assert.Equal(t, 200, freshCount(), "nothing expires before half a ttl")

	now = start.Add(ttl * 3 / 4)
	fresh := freshCount()
	assert.Greater(t, fresh, 0)
	assert.Less(t, fresh, 200)

	now = start.Add(ttl)
	assert.Zero(t, freshCount())
}

func TestCacheZeroTTLNeverFresh(t *testing.T) {
	c := NewCache("", 0)
	c.Put("BTCUSDT", 8)
	_, ok := c.Fresh("BTCUSDT")
	assert.False(t, ok)
}

func TestCacheInMemoryFlushIsNoop(t *testing.T) {
	c := NewCache("", time.Hour)
	c.Put("BTCUSDT", 8)
	require.NoError(t, c.Flush())
	discarded, err := c.Load()
	require.NoError(t, err)
	assert.Zero(t, discarded)
	assert.Equal(t, 1, c.Len())
}
