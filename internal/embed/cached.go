package embed

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the default number of vectors to cache.
// At 768 dimensions * 4 bytes * 10000 entries ≈ 30MB memory.
const DefaultEmbeddingCacheSize = 10000

// vectorCache is an LRU of real (non-fallback) vectors. A nil cache is
// valid and never hits.
type vectorCache struct {
	lru *lru.Cache[string, []float32]
}

func newVectorCache(size int) *vectorCache {
	if size <= 0 {
		return nil
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil
	}
	return &vectorCache{lru: c}
}

// cacheKey hashes text and model so keys have a fixed length.
func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + model))
	return hex.EncodeToString(sum[:])
}

func (c *vectorCache) get(model, text string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(cacheKey(model, text))
}

func (c *vectorCache) add(model, text string, v []float32) {
	if c == nil {
		return
	}
	c.lru.Add(cacheKey(model, text), v)
}

func (c *vectorCache) len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
