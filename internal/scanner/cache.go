package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"
)

type cacheEntry struct {
	Size      int64              `json:"size"`
	ModTime   time.Time          `json:"mod_time"`
	Variables []VariableTimeInfo `json:"variables"`
}

// CacheStats reports cache effectiveness
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Cache skips rescanning local files whose size and modification time are
// unchanged since their last successful scan. Remote locations are never
// cached. Snapshots are persisted as snappy-compressed JSON so a restart
// does not rescan an unchanged archive.
type Cache struct {
	next MetadataScanner

	mu      sync.RWMutex
	entries map[string]cacheEntry

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache wraps next
func NewCache(next MetadataScanner) *Cache {
	return &Cache{next: next, entries: make(map[string]cacheEntry)}
}

// Scan implements MetadataScanner
func (c *Cache) Scan(ctx context.Context, location string) ([]VariableTimeInfo, error) {
	if IsRemote(location) {
		return c.next.Scan(ctx, location)
	}

	info, err := os.Stat(location)
	if err != nil {
		return nil, scanErr(location, err)
	}

	c.mu.RLock()
	entry, ok := c.entries[location]
	c.mu.RUnlock()

	if ok && entry.Size == info.Size() && entry.ModTime.Equal(info.ModTime()) {
		c.hits.Add(1)
		return cloneInfos(entry.Variables), nil
	}
	c.misses.Add(1)

	infos, err := c.next.Scan(ctx, location)
	if err != nil {
		c.mu.Lock()
		delete(c.entries, location)
		c.mu.Unlock()
		return nil, err
	}

	c.mu.Lock()
	c.entries[location] = cacheEntry{Size: info.Size(), ModTime: info.ModTime(), Variables: cloneInfos(infos)}
	c.mu.Unlock()
	return infos, nil
}

// Forget drops the entries for the given locations
func (c *Cache) Forget(locations ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, loc := range locations {
		delete(c.entries, loc)
	}
}

// Stats returns cache statistics
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return CacheStats{Entries: n, Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Save writes a snapshot of the cache to path
func (c *Cache) Save(path string) error {
	c.mu.RLock()
	data, err := json.Marshal(c.entries)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode scan cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, snappy.Encode(nil, data), 0o644); err != nil {
		return fmt.Errorf("failed to write scan cache: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load replaces the cache contents with the snapshot at path.
// A missing snapshot is not an error.
func (c *Cache) Load(path string) error {
	compressed, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read scan cache: %w", err)
	}

	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return fmt.Errorf("failed to decompress scan cache: %w", err)
	}

	entries := make(map[string]cacheEntry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to decode scan cache: %w", err)
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	return nil
}
