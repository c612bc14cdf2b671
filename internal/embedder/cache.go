package embedder

import (
	"context"
	"fmt"
	"slices"

	"github.com/dgraph-io/ristretto"
)

// CachingEmbedder memoises embeddings of repeated texts in a bounded
// in-process cache. Interview questions are frequently re-asked (the cache
// lookup and the cache store embed the same question back to back), so this
// halves provider calls on the common path. Failures are never cached.
type CachingEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCachingEmbedder wraps inner with a cache holding up to size vectors.
func NewCachingEmbedder(inner Embedder, size int) (*CachingEmbedder, error) {
	if size <= 0 {
		return nil, fmt.Errorf("embedder: cache size must be positive, got %d", size)
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(size) * 10,
		MaxCost:     int64(size),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: create cache: %w", err)
	}
	return &CachingEmbedder{inner: inner, cache: c}, nil
}

// Embed returns a copy of the cached vector when one exists, otherwise
// delegates. Callers own the returned slice.
func (c *CachingEmbedder) Embed(ctx context.Context, text string, task TaskType) ([]float32, error) {
	key := string(task) + "\x00" + text
	if v, ok := c.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			return slices.Clone(vec), nil
		}
	}

	vec, err := c.inner.Embed(ctx, text, task)
	if err != nil {
		return nil, err
	}
	if c.cache.Set(key, slices.Clone(vec), 1) {
		c.cache.Wait()
	}
	return vec, nil
}

// Close releases the cache's background goroutines.
func (c *CachingEmbedder) Close() {
	c.cache.Close()
}
