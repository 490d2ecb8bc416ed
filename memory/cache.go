package memory

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto"
)

// Cache holds per-user memory snapshots (memory_id -> content).
//
// Implementations must treat stored maps as immutable: callers hand over a
// fresh map on every Set and never mutate a map returned by Get.
type Cache interface {
	Get(userID string) (map[string]string, bool)
	Set(userID string, entries map[string]string)
	Delete(userID string)
}

// MapCache is a process-local Cache without eviction.
type MapCache struct {
	mu    sync.RWMutex
	users map[string]map[string]string
}

// NewMapCache creates an empty MapCache.
func NewMapCache() *MapCache {
	return &MapCache{users: make(map[string]map[string]string)}
}

// Get implements Cache.
func (c *MapCache) Get(userID string) (map[string]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries, ok := c.users[userID]
	return entries, ok
}

// Set implements Cache.
func (c *MapCache) Set(userID string, entries map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[userID] = entries
}

// Delete implements Cache.
func (c *MapCache) Delete(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.users, userID)
}

// RistrettoOptions size a RistrettoCache.
type RistrettoOptions struct {
	// MaxEntries bounds the total number of cached memory entries across users.
	MaxEntries int64
}

// RistrettoCache is a bounded Cache backed by ristretto. An evicted or
// rejected user is simply reloaded from the store on the next read.
type RistrettoCache struct {
	cache *ristretto.Cache
}

// NewRistrettoCache creates a RistrettoCache.
func NewRistrettoCache(optFns ...func(o *RistrettoOptions)) (*RistrettoCache, error) {
	opts := RistrettoOptions{MaxEntries: 100_000}
	for _, fn := range optFns {
		fn(&opts)
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: opts.MaxEntries * 10,
		MaxCost:     opts.MaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	return &RistrettoCache{cache: c}, nil
}

// Get implements Cache.
func (c *RistrettoCache) Get(userID string) (map[string]string, bool) {
	v, ok := c.cache.Get(userID)
	if !ok {
		return nil, false
	}
	entries, ok := v.(map[string]string)
	return entries, ok
}

// Set implements Cache. Wait flushes the write buffer so the value is
// visible to the next Get.
func (c *RistrettoCache) Set(userID string, entries map[string]string) {
	c.cache.Set(userID, entries, int64(len(entries))+1)
	c.cache.Wait()
}

// Delete implements Cache.
func (c *RistrettoCache) Delete(userID string) {
	c.cache.Del(userID)
	c.cache.Wait()
}

// Close releases ristretto's background goroutines.
func (c *RistrettoCache) Close() { c.cache.Close() }
