// Package cache implements selective table memoization: read-only,
// time-invariant tables (the meter's identity tables by default) are
// fetched once per session and served from memory afterward.
package cache

import "sync"

const (
	defaultTableID0 = 0
	defaultTableID1 = 1
)

// Cache memoizes the last-read payload of whitelisted table ids. It is
// safe for concurrent use, though the session itself is not expected to be
// driven concurrently.
type Cache struct {
	mu        sync.Mutex
	enabled   bool
	whitelist map[uint16]struct{}
	entries   map[uint16][]byte
}

// New returns a cache with the given whitelist. If whitelist is nil, the
// default {0, 1} (the meter's identity tables) is used.
func New(enabled bool, whitelist []uint16) *Cache {
	if whitelist == nil {
		whitelist = []uint16{defaultTableID0, defaultTableID1}
	}
	c := &Cache{
		enabled:   enabled,
		whitelist: make(map[uint16]struct{}, len(whitelist)),
		entries:   make(map[uint16][]byte),
	}
	for _, id := range whitelist {
		c.whitelist[id] = struct{}{}
	}
	return c
}

// Eligible reports whether tableID is in the whitelist, independent of
// whether caching is currently enabled.
func (c *Cache) Eligible(tableID uint16) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.whitelist[tableID]
	return ok
}

// Get returns a previously cached payload for tableID, if caching is
// enabled, the id is whitelisted, and an entry exists.
func (c *Cache) Get(tableID uint16) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return nil, false
	}
	if _, ok := c.whitelist[tableID]; !ok {
		return nil, false
	}
	data, ok := c.entries[tableID]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Put memoizes data for tableID if caching is enabled and the id is
// whitelisted; otherwise it is a no-op. Writes never call Put, they
// bypass the cache entirely.
func (c *Cache) Put(tableID uint16, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	if _, ok := c.whitelist[tableID]; !ok {
		return
	}
	c.entries[tableID] = append([]byte(nil), data...)
}

// Flush empties every cached entry.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint16][]byte)
}

// SetPolicy toggles caching. Disabling flushes all entries.
func (c *Cache) SetPolicy(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	if !enabled {
		c.entries = make(map[uint16][]byte)
	}
}

// Enabled reports the current policy.
func (c *Cache) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}
