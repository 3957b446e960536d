package interval

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// MinCachedHours and MaxCachedHours bound the values a cache accepts.
	// Anything outside is treated as corrupt.
	MinCachedHours = 1.0
	MaxCachedHours = 8.0
)

type cacheEntry struct {
	hours   float64
	updated time.Time
}

// Cache maps venue symbols to settlement intervals and persists them as a
// flat JSON object ({"BTCUSDT": 8}). A Cache belongs to one adapter.
type Cache struct {
	path string
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
	dirty   bool
}

// NewCache returns an empty cache backed by path. An empty path keeps the
// cache in memory only. Entries younger than ttl count as fresh; a zero ttl
// means nothing is ever fresh and every lookup goes back to the venue.
func NewCache(path string, ttl time.Duration) *Cache {
	return &Cache{
		path:    path,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Path returns the backing file.
func (c *Cache) Path() string { return c.path }

// Load replaces the in-memory entries with the file contents and reports how
// many entries were discarded as corrupt. A missing file is not an error.
// Loaded entries are stamped with the load time, backdated by stagger.
func (c *Cache) Load() (discarded int, err error) {
	if c.path == "" {
		return 0, nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read interval cache: %w", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, fmt.Errorf("parse interval cache %s: %w", c.path, err)
	}

	now := c.now()
	entries := make(map[string]cacheEntry, len(raw))
	for symbol, v := range raw {
		hours, ok := v.(float64)
		if !ok || symbol == "" || !inRange(hours) {
			discarded++
			continue
		}
		entries[symbol] = cacheEntry{hours: hours, updated: now.Add(-c.stagger(symbol))}
	}

	c.mu.Lock()
	c.entries = entries
	c.dirty = false
	c.mu.Unlock()
	return discarded, nil
}

// Get returns the cached interval regardless of age.
func (c *Cache) Get(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[symbol]
	return e.hours, ok
}

// Fresh returns the cached interval only when it is younger than the ttl.
func (c *Cache) Fresh(symbol string) (float64, bool) {
	if c.ttl <= 0 {
		return 0, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[symbol]
	if !ok || c.now().Sub(e.updated) >= c.ttl {
		return 0, false
	}
	return e.hours, true
}

// Put records hours for symbol and reports whether it was accepted. Values
// outside [MinCachedHours, MaxCachedHours] are rejected.
func (c *Cache) Put(symbol string, hours float64) bool {
	if symbol == "" || !inRange(hours) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.entries[symbol]
	c.entries[symbol] = cacheEntry{hours: hours, updated: c.now().Add(-c.stagger(symbol))}
	if !ok || prev.hours != hours {
		c.dirty = true
	}
	return true
}

// Len returns the number of cached symbols.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Flush writes the entries to disk when anything changed since the last
// load or flush. The file is replaced atomically.
func (c *Cache) Flush() error {
	if c.path == "" {
		return nil
	}

	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]float64, len(c.entries))
	for symbol, e := range c.entries {
		snapshot[symbol] = e.hours
	}
	c.dirty = false
	c.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		c.markDirty()
		return fmt.Errorf("encode interval cache: %w", err)
	}

	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			c.markDirty()
			return fmt.Errorf("create interval cache dir: %w", err)
		}
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		c.markDirty()
		return fmt.Errorf("write interval cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		c.markDirty()
		return fmt.Errorf("replace interval cache: %w", err)
	}
	return nil
}

func (c *Cache) markDirty() {
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
}

// stagger returns a per-symbol age offset in [0, ttl/2). Entries stamped at
// the same moment then expire spread over half a ttl instead of all at once,
// so history refreshes are spread across cycles.
func (c *Cache) stagger(symbol string) time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	frac := float64(h.Sum32()) / (1 << 32)
	return time.Duration(frac * float64(c.ttl/2))
}

func inRange(hours float64) bool {
	return hours >= MinCachedHours && hours <= MaxCachedHours
}
