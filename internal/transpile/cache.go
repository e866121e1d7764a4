package transpile

import (
	"encoding/hex"
	"sync"

	"golang.org/x/crypto/sha3"
)

// Cache stores transform outputs by content key.
type Cache interface {
	Get(key string) (*Output, bool)
	Put(key string, out *Output) error
}

// cacheVersion changes whenever the lowering rules change.
const cacheVersion = "runjs-transpile-1"

// Key returns the cache key for in: SHA3-512 over the transform options
// and the source text.
func Key(in Input) string {
	h := sha3.New512()
	h.Write([]byte(cacheVersion))
	h.Write([]byte{0, byte(in.Loader), byte(in.Format), 0})
	h.Write([]byte(in.Name))
	h.Write([]byte{0})
	h.Write([]byte(in.Source))
	return hex.EncodeToString(h.Sum(nil))
}

// MemoryCache is a process-local cache safe for concurrent use.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Output
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*Output)}
}

func (c *MemoryCache) Get(key string) (*Output, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, ok := c.entries[key]
	return out, ok
}

func (c *MemoryCache) Put(key string, out *Output) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = out
	return nil
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
