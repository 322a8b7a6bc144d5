package embedding

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
)

// Cached memoizes another embedder's vectors by exact input text. It is
// meant for question embeddings, where the same phrasing recurs.
type Cached struct {
	inner  Embedder
	cache  *lru.TwoQueueCache
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCached wraps inner with a 2Q cache holding up to size vectors.
func NewCached(inner Embedder, size int) (*Cached, error) {
	if size <= 0 {
		size = 512
	}
	cache, err := lru.New2Q(size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Name() string    { return c.inner.Name() }
func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

// Embed serves hits from the cache and sends all misses to the inner
// embedder in a single call.
func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = v.([]float32)
			c.hits.Add(1)
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return out, nil
	}
	c.misses.Add(int64(len(missing)))

	vectors, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range vectors {
		out[missingIdx[j]] = v
		c.cache.Add(missing[j], v)
	}
	return out, nil
}

// CacheStats reports hit and miss counts since creation.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// Stats returns cache counters.
func (c *Cached) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: c.cache.Len()}
}
