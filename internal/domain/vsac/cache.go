package vsac

import (
	"context"
	"sort"
	"sync"
)

// CacheKey keys a value set by OID and version; "" means latest.
func CacheKey(oid, version string) string {
	if version == "" {
		version = "latest"
	}
	return oid + "_" + version
}

type CacheStats struct {
	Backend string   `json:"backend"`
	Size    int      `json:"size"`
	Keys    []string `json:"keys"`
}

// Cache stores successfully fetched value sets. Implementations must be
// safe for concurrent use; concurrent writes of one key are last-write-wins.
type Cache interface {
	Get(ctx context.Context, key string) (*ValueSet, bool)
	Set(ctx context.Context, key string, vs *ValueSet)
	Clear(ctx context.Context) (int, error)
	Stats(ctx context.Context) (CacheStats, error)
}

// MemoryCache is an unbounded process-lifetime cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*ValueSet
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*ValueSet)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*ValueSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vs, ok := c.entries[key]
	return vs, ok
}

func (c *MemoryCache) Set(_ context.Context, key string, vs *ValueSet) {
	c.mu.Lock()
	c.entries[key] = vs
	c.mu.Unlock()
}

func (c *MemoryCache) Clear(_ context.Context) (int, error) {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]*ValueSet)
	c.mu.Unlock()
	return n, nil
}

func (c *MemoryCache) Stats(_ context.Context) (CacheStats, error) {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	sort.Strings(keys)
	return CacheStats{Backend: "memory", Size: len(keys), Keys: keys}, nil
}

// LayeredCache reads through a local cache to a shared one and fills the
// local tier on shared hits.
type LayeredCache struct {
	local  Cache
	shared Cache
}

func NewLayeredCache(local, shared Cache) *LayeredCache {
	return &LayeredCache{local: local, shared: shared}
}

func (c *LayeredCache) Get(ctx context.Context, key string) (*ValueSet, bool) {
	if vs, ok := c.local.Get(ctx, key); ok {
		return vs, true
	}
	vs, ok := c.shared.Get(ctx, key)
	if ok {
		c.local.Set(ctx, key, vs)
	}
	return vs, ok
}

func (c *LayeredCache) Set(ctx context.Context, key string, vs *ValueSet) {
	c.local.Set(ctx, key, vs)
	c.shared.Set(ctx, key, vs)
}

func (c *LayeredCache) Clear(ctx context.Context) (int, error) {
	n, err := c.local.Clear(ctx)
	if err != nil {
		return n, err
	}
	m, err := c.shared.Clear(ctx)
	if m > n {
		n = m
	}
	return n, err
}

func (c *LayeredCache) Stats(ctx context.Context) (CacheStats, error) {
	st, err := c.shared.Stats(ctx)
	if err != nil {
		return c.local.Stats(ctx)
	}
	st.Backend = "memory+" + st.Backend
	return st, nil
}
