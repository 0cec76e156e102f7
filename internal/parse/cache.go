package parse

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	tgerrors "tangle/internal/errors"
	"tangle/internal/source"
)

// ParseFunc parses one file; *Parser.Parse satisfies it.
type ParseFunc func(ctx context.Context, file *source.File) (*Unit, error)

type cacheKey struct {
	hash string
	lang Language
}

type cacheEntry struct {
	unit *Unit
	// failure holds the parse error message for negative entries.
	failure string
}

// Cache stores parsed units keyed by content hash and language. Files with
// identical content are parsed once. Parse failures are cached too so a
// broken file copied across the tree is rejected once. A cache may outlive a
// run; Retain bounds it to the content still present.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]cacheEntry)}
}

// Get returns the unit for file, parsing it with parse on a miss. The
// returned unit always carries file.Path.
func (c *Cache) Get(ctx context.Context, file *source.File, parse ParseFunc) (*Unit, error) {
	key := cacheKey{hash: file.Hash, lang: Language(file.Language)}

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
		if entry.unit == nil {
			return nil, tgerrors.NewParseError(file.Path, entry.failure, nil)
		}
		return entry.unit.Clone(file.Path), nil
	}

	c.misses.Add(1)
	unit, err := parse(ctx, file)
	if err != nil {
		var te *tgerrors.Error
		if errors.As(err, &te) && te.Code == tgerrors.ParseError {
			c.store(key, cacheEntry{failure: te.Message})
		}
		return nil, err
	}
	c.store(key, cacheEntry{unit: unit})
	return unit.Clone(file.Path), nil
}

func (c *Cache) store(key cacheKey, entry cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		c.entries[key] = entry
	}
}

// Retain drops every entry whose content hash keep rejects and returns how
// many were removed.
func (c *Cache) Retain(keep func(hash string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k := range c.entries {
		if !keep(k.hash) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached entries, failures included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
