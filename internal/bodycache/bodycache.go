// Package bodycache spills oversized response bodies to disk so the
// fetcher can cap in-memory retention without dropping content outright.
package bodycache

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DiskCache is an LRU, size-bounded cache of byte blobs backed by files.
type DiskCache struct {
	mu sync.RWMutex

	baseDir string
	maxSize int64
	maxAge  time.Duration

	currentSize int64
	entries     map[string]*CacheEntry
	accessOrder []string
}

// CacheEntry describes one cached blob.
type CacheEntry struct {
	Key        string
	Size       int64
	CreatedAt  time.Time
	AccessedAt time.Time
	FilePath   string
	Hits       int64
}

// Config configures a DiskCache.
type Config struct {
	BaseDir string
	MaxSize int64         // default 1GB
	MaxAge  time.Duration // default 24h
}

// DefaultConfig returns sane defaults for fetcher body spill.
func DefaultConfig() *Config {
	return &Config{
		BaseDir: ".crawler_bodycache",
		MaxSize: 1 << 30,
		MaxAge:  24 * time.Hour,
	}
}

// NewDiskCache creates a disk cache, loading any existing index.
func NewDiskCache(config *Config) (*DiskCache, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	c := &DiskCache{
		baseDir:     config.BaseDir,
		maxSize:     config.MaxSize,
		maxAge:      config.MaxAge,
		entries:     make(map[string]*CacheEntry),
		accessOrder: make([]string, 0),
	}

	if err := c.loadIndex(); err != nil {
		c.entries = make(map[string]*CacheEntry)
	}

	return c, nil
}

func (c *DiskCache) keyToPath(key string) string {
	hash := sha256.Sum256([]byte(key))
	hashStr := hex.EncodeToString(hash[:])
	return filepath.Join(c.baseDir, hashStr[:2], hashStr[2:]+".blob")
}

// Set stores data under key, evicting LRU entries as needed to stay
// under MaxSize.
func (c *DiskCache) Set(key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(data))

	for c.currentSize+size > c.maxSize && len(c.accessOrder) > 0 {
		c.evictOldest()
	}

	filePath := c.keyToPath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("create cache subdirectory: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}

	now := time.Now()
	entry := &CacheEntry{Key: key, Size: size, CreatedAt: now, AccessedAt: now, FilePath: filePath}

	if old, ok := c.entries[key]; ok {
		c.currentSize -= old.Size
		c.removeFromAccessOrder(key)
	}

	c.entries[key] = entry
	c.accessOrder = append(c.accessOrder, key)
	c.currentSize += size

	return nil
}

// Get retrieves data previously stored under key.
func (c *DiskCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.CreatedAt) > c.maxAge {
		c.deleteEntry(key)
		return nil, false
	}

	data, err := os.ReadFile(entry.FilePath)
	if err != nil {
		c.deleteEntry(key)
		return nil, false
	}

	entry.AccessedAt = time.Now()
	entry.Hits++
	c.removeFromAccessOrder(key)
	c.accessOrder = append(c.accessOrder, key)

	return data, true
}

// Has reports whether key is cached and not yet expired.
func (c *DiskCache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	return time.Since(entry.CreatedAt) <= c.maxAge
}

// Delete removes key from the cache.
func (c *DiskCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteEntry(key)
}

func (c *DiskCache) deleteEntry(key string) error {
	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	os.Remove(entry.FilePath)
	c.currentSize -= entry.Size
	delete(c.entries, key)
	c.removeFromAccessOrder(key)
	return nil
}

func (c *DiskCache) evictOldest() {
	if len(c.accessOrder) == 0 {
		return
	}
	c.deleteEntry(c.accessOrder[0])
}

func (c *DiskCache) removeFromAccessOrder(key string) {
	for i, k := range c.accessOrder {
		if k == key {
			c.accessOrder = append(c.accessOrder[:i], c.accessOrder[i+1:]...)
			return
		}
	}
}

// Clear removes every entry from the cache.
func (c *DiskCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		c.deleteEntry(key)
	}
	c.entries = make(map[string]*CacheEntry)
	c.accessOrder = make([]string, 0)
	c.currentSize = 0

	return nil
}

// Stats summarizes cache occupancy.
type Stats struct {
	EntryCount  int
	TotalSize   int64
	MaxSize     int64
	HitCount    int64
	OldestEntry time.Time
	NewestEntry time.Time
}

// Stats returns current cache statistics.
func (c *DiskCache) Stats() *Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := &Stats{EntryCount: len(c.entries), TotalSize: c.currentSize, MaxSize: c.maxSize}
	for _, entry := range c.entries {
		s.HitCount += entry.Hits
		if s.OldestEntry.IsZero() || entry.CreatedAt.Before(s.OldestEntry) {
			s.OldestEntry = entry.CreatedAt
		}
		if entry.CreatedAt.After(s.NewestEntry) {
			s.NewestEntry = entry.CreatedAt
		}
	}
	return s
}

// Cleanup removes entries older than MaxAge, returning the count removed.
func (c *DiskCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := time.Now()
	for key, entry := range c.entries {
		if now.Sub(entry.CreatedAt) > c.maxAge {
			c.deleteEntry(key)
			removed++
		}
	}
	return removed
}

func (c *DiskCache) saveIndex() error {
	file, err := os.Create(filepath.Join(c.baseDir, "index.gob"))
	if err != nil {
		return err
	}
	defer file.Close()
	return gob.NewEncoder(file).Encode(c.entries)
}

func (c *DiskCache) loadIndex() error {
	file, err := os.Open(filepath.Join(c.baseDir, "index.gob"))
	if err != nil {
		return err
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(&c.entries); err != nil {
		return err
	}

	c.accessOrder = make([]string, 0, len(c.entries))
	c.currentSize = 0
	for key, entry := range c.entries {
		c.accessOrder = append(c.accessOrder, key)
		c.currentSize += entry.Size
	}
	return nil
}

// Close persists the index to disk.
func (c *DiskCache) Close() error {
	return c.saveIndex()
}

// SpillReader wraps a response body, retaining up to maxSize bytes in
// memory and reporting whether the body was truncated. The fetcher
// spills the retained prefix to a DiskCache when a caller needs the
// full body later (e.g. re-render) and the original reader is gone.
type SpillReader struct {
	reader  io.ReadCloser
	buffer  []byte
	maxSize int64
	total   int64
}

// NewSpillReader wraps reader, capping in-memory retention at maxSize
// while still passing through every byte the caller reads (so a
// caller doing io.ReadAll(spillReader) sees the complete body; Bytes
// reports only the retained prefix).
func NewSpillReader(reader io.ReadCloser, maxSize int64) *SpillReader {
	return &SpillReader{reader: reader, buffer: make([]byte, 0), maxSize: maxSize}
}

// Read implements io.Reader, mirroring up to maxSize bytes into the
// in-memory buffer regardless of how much the caller ultimately reads.
func (b *SpillReader) Read(p []byte) (n int, err error) {
	n, err = b.reader.Read(p)
	if n > 0 {
		if retained := int64(len(b.buffer)); retained < b.maxSize {
			remaining := b.maxSize - retained
			toStore := int64(n)
			if toStore > remaining {
				toStore = remaining
			}
			b.buffer = append(b.buffer, p[:toStore]...)
		}
		b.total += int64(n)
	}
	return n, err
}

// Close closes the underlying reader.
func (b *SpillReader) Close() error {
	return b.reader.Close()
}

// Bytes returns the retained prefix (at most maxSize bytes).
func (b *SpillReader) Bytes() []byte {
	return b.buffer
}

// Size returns the total number of bytes read through the wrapper,
// including bytes past maxSize that were not retained in Bytes.
func (b *SpillReader) Size() int64 {
	return b.total
}

// Truncated reports whether more bytes were read than Bytes retained.
func (b *SpillReader) Truncated() bool {
	return b.total > b.maxSize
}
