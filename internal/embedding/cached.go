package embedding

import (
	"context"

	"github.com/apexneural-anniesiri/doc-qa-engine/internal/cache"
)

// CachedEmbedder memoizes single-text embeddings, which are the repeated
// question lookups on the query path. Batches pass straight through.
type CachedEmbedder struct {
	Embedder
	model string
	cache *cache.LRU[string, []float32]
}

// NewCachedEmbedder wraps inner with an LRU of the given size, keyed by model and text.
func NewCachedEmbedder(inner Embedder, model string, size int) *CachedEmbedder {
	return &CachedEmbedder{Embedder: inner, model: model, cache: cache.NewLRU[string, []float32](size)}
}

// Embed returns a cached vector when available.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.model + "\x00" + text
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	v, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, v)
	return v, nil
}
