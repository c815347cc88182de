package storage

import (
	"fmt"

	"github.com/coocood/freecache"
	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/planar/planar"
)

// ChunkCache holds raw chunk bytes keyed by store and chunk key.  A nil *ChunkCache is
// valid and caches nothing.
type ChunkCache struct {
	cache *freecache.Cache
	size  int
}

// NewChunkCache returns a cache bounded to roughly the given number of bytes, or nil
// if size is not positive.
func NewChunkCache(size int) *ChunkCache {
	if size <= 0 {
		return nil
	}
	planar.Infof("Allocating chunk cache of %s\n", humanize.Bytes(uint64(size)))
	return &ChunkCache{cache: freecache.NewCache(size), size: size}
}

// Get returns a copy of the cached bytes for the key.
func (c *ChunkCache) Get(key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.cache.Get([]byte(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores the bytes under the key.  Values too large for the cache are skipped.
func (c *ChunkCache) Set(key string, data []byte) {
	if c == nil {
		return
	}
	if err := c.cache.Set([]byte(key), data, 0); err != nil {
		planar.Debugf("Chunk %q not cached (%s): %v\n", key, humanize.Bytes(uint64(len(data))), err)
	}
}

// Clear evicts everything.
func (c *ChunkCache) Clear() {
	if c == nil {
		return
	}
	c.cache.Clear()
}

func (c *ChunkCache) String() string {
	if c == nil {
		return "chunk cache disabled"
	}
	return fmt.Sprintf("chunk cache %s: %d entries, hit rate %.2f, %d evictions",
		humanize.Bytes(uint64(c.size)), c.cache.EntryCount(), c.cache.HitRate(), c.cache.EvacuateCount())
}
