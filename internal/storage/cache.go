// cache.go - In-memory cache for document index file lists

package storage

import (
	"sync"
	"time"
)

const CACHE_TTL = 5 * time.Minute // Cache expires after 5 minutes

type fileListEntry struct {
	files    []IndexedFile
	loadedAt time.Time
}

// FileListCache keeps the registered files of each document index so /ask
// does not hit MongoDB on every question
type FileListCache struct {
	mu      sync.RWMutex
	entries map[string]*fileListEntry
	ttl     time.Duration
}

// NewFileListCache creates a cache whose entries expire after ttl
func NewFileListCache(ttl time.Duration) *FileListCache {
	return &FileListCache{
		entries: make(map[string]*fileListEntry),
		ttl:     ttl,
	}
}

// GetOrLoad returns the cached list for indexName or loads it with load
func (c *FileListCache) GetOrLoad(indexName string, load func() ([]IndexedFile, error)) ([]IndexedFile, error) {
	c.mu.RLock()
	entry, exists := c.entries[indexName]
	c.mu.RUnlock()

	if exists && time.Since(entry.loadedAt) < c.ttl {
		return entry.files, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	entry, exists = c.entries[indexName]
	if exists && time.Since(entry.loadedAt) < c.ttl {
		return entry.files, nil
	}

	files, err := load()
	if err != nil {
		return nil, err
	}

	c.entries[indexName] = &fileListEntry{files: files, loadedAt: time.Now()}
	return files, nil
}

// Invalidate removes the cached list for one index
func (c *FileListCache) Invalidate(indexName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, indexName)
}
