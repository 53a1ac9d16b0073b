package fs

import (
	"sync"
	"time"

	"github.com/lignum/dpp/pkg/core"
)

// cacheEntry is a parsed file together with the stat data it was parsed from.
type cacheEntry struct {
	doc     core.Document
	modTime time.Time
	size    int64
}

// cache keeps parsed documents between scans so that reloads triggered by
// the watcher only re-parse the files that changed.
type cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry // key is the slash-separated relative path
}

func newCache() *cache {
	return &cache{entries: make(map[string]*cacheEntry)}
}

// Get returns a copy of the cached document when the file is unchanged.
func (c *cache) Get(relPath string, modTime time.Time, size int64) (core.Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[relPath]
	if !ok || !entry.modTime.Equal(modTime) || entry.size != size {
		return nil, false
	}
	return entry.doc.Clone(), true
}

// Set stores a parsed document.
func (c *cache) Set(relPath string, doc core.Document, modTime time.Time, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[relPath] = &cacheEntry{doc: doc.Clone(), modTime: modTime, size: size}
}

// Prune removes entries that are not in the keep set.
func (c *cache) Prune(keep map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path := range c.entries {
		if !keep[path] {
			delete(c.entries, path)
		}
	}
}

// Delete removes a single entry.
func (c *cache) Delete(relPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, relPath)
}

// Len returns the number of cached files.
func (c *cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
