package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbedCacheSize is the default number of embeddings to keep.
// At 1024 dimensions by 4 bytes by 1000 entries, about 4MB of memory.
const DefaultEmbedCacheSize = 1000

// CachedGateway wraps a Gateway with an LRU over the embedding path.
// Repeated queries (the semantic cache probes one embedding per miss)
// skip the provider round trip. Chat is passed through untouched.
type CachedGateway struct {
	inner Gateway
	cache *lru.Cache[string, []float32]
}

var _ Gateway = (*CachedGateway)(nil)

// NewCachedGateway wraps inner with an embedding cache of the given
// capacity.
func NewCachedGateway(inner Gateway, cacheSize int) *CachedGateway {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbedCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedGateway{
		inner: inner,
		cache: cache,
	}
}

// cacheKey hashes text and model together so a model switch never
// serves stale vectors.
func (c *CachedGateway) cacheKey(text string) string {
	combined := text + "\x00" + c.inner.ModelName()
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

// Chat passes through to the inner gateway.
func (c *CachedGateway) Chat(ctx context.Context, req ChatRequest) (string, error) {
	return c.inner.Chat(ctx, req)
}

// Embed returns a cached embedding if available, otherwise computes
// and caches it.
func (c *CachedGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch checks the cache per text and embeds only the misses.
func (c *CachedGateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	uncachedIndices := make([]int, 0, len(texts))
	uncachedTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
		} else {
			uncachedIndices = append(uncachedIndices, i)
			uncachedTexts = append(uncachedTexts, text)
		}
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	newEmbeddings, err := c.inner.EmbedBatch(ctx, uncachedTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range uncachedIndices {
		results[idx] = newEmbeddings[j]
		c.cache.Add(c.cacheKey(texts[idx]), newEmbeddings[j])
	}

	return results, nil
}

// Dimensions passes through to the inner gateway.
func (c *CachedGateway) Dimensions() int {
	return c.inner.Dimensions()
}

// ModelName passes through to the inner gateway.
func (c *CachedGateway) ModelName() string {
	return c.inner.ModelName()
}

// Available passes through to the inner gateway.
func (c *CachedGateway) Available(ctx context.Context) bool {
	return c.inner.Available(ctx)
}

// Close closes the inner gateway.
func (c *CachedGateway) Close() error {
	return c.inner.Close()
}

// Inner returns the wrapped gateway for callers that need
// provider-specific features.
func (c *CachedGateway) Inner() Gateway {
	return c.inner
}
