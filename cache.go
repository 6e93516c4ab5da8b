package gqlcache

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Cache is the interface for persisting normalized store snapshots.
// Users should implement this interface with their preferred storage
// (e.g., Redis, local files, browser-like key/value storage).
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL.
	// If ttl is 0, the value should not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// CacheKey identifies a persisted snapshot.
type CacheKey struct {
	Namespace string
	Session   string
}

// String returns the string representation of the cache key.
func (k CacheKey) String() string {
	return k.Namespace + ":" + k.Session
}

// MemoryCache is a process-local Cache. Values live until deleted or expired.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	value   []byte
	expires time.Time
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryItem), now: time.Now}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok {
		return nil, nil
	}
	if !item.expires.IsZero() && c.now().After(item.expires) {
		delete(c.items, key)
		return nil, nil
	}
	return append([]byte(nil), item.value...), nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expires = c.now().Add(ttl)
	}
	c.items[key] = item
	return nil
}

// Delete implements Cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

// DeletePrefix implements Cache.
func (c *MemoryCache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			delete(c.items, key)
		}
	}
	return nil
}

// FileCache is a Cache keeping each key in its own file under a directory,
// so snapshots survive the process.
type FileCache struct {
	dir string
	now func() time.Time
}

type fileEntry struct {
	Value   []byte `msgpack:"value"`
	Expires int64  `msgpack:"expires"` // unix nanoseconds; 0 never expires
}

const fileCacheExt = ".cache"

// NewFileCache returns a FileCache storing files in dir. The directory is
// created on the first Set.
func NewFileCache(dir string) *FileCache {
	return &FileCache{dir: dir, now: time.Now}
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.dir, hex.EncodeToString([]byte(key))+fileCacheExt)
}

// Get implements Cache.
func (c *FileCache) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(c.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file cache: read %q: %w", key, err)
	}
	var e fileEntry
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("file cache: decode %q: %w", key, err)
	}
	if e.Expires != 0 && c.now().UnixNano() > e.Expires {
		_ = os.Remove(c.path(key))
		return nil, nil
	}
	return e.Value, nil
}

// Set implements Cache. The file is replaced atomically.
func (c *FileCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := fileEntry{Value: value}
	if ttl > 0 {
		e.Expires = c.now().Add(ttl).UnixNano()
	}
	data, err := msgpack.Marshal(&e)
	if err != nil {
		return fmt.Errorf("file cache: encode %q: %w", key, err)
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("file cache: %w", err)
	}
	f, err := os.CreateTemp(c.dir, "tmp-*")
	if err != nil {
		return fmt.Errorf("file cache: %w", err)
	}
	_, werr := f.Write(data)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(f.Name(), c.path(key))
	}
	if werr != nil {
		_ = os.Remove(f.Name())
		return fmt.Errorf("file cache: write %q: %w", key, werr)
	}
	return nil
}

// Delete implements Cache.
func (c *FileCache) Delete(_ context.Context, key string) error {
	if err := os.Remove(c.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file cache: delete %q: %w", key, err)
	}
	return nil
}

// DeletePrefix implements Cache.
func (c *FileCache) DeletePrefix(_ context.Context, prefix string) error {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("file cache: %w", err)
	}
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), fileCacheExt)
		if !ok {
			continue
		}
		key, err := hex.DecodeString(name)
		if err != nil || !strings.HasPrefix(string(key), prefix) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("file cache: delete %q: %w", key, err)
		}
	}
	return nil
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*FileCache)(nil)
)
