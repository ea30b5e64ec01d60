package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultCacheSize is the default number of cached embeddings.
	DefaultCacheSize = 4096

	// DefaultCacheTTL is how long a cached vector stays valid.
	DefaultCacheTTL = time.Hour
)

// CachedProvider wraps a Provider with a TTL-bounded LRU cache. Keys are
// SHA-256 over model and text, so switching models never serves stale
// vectors. Expiry bounds staleness when the remote model is updated
// in place under the same identifier.
type CachedProvider struct {
	inner Provider
	cache *expirable.LRU[string, []float32]
}

var _ Provider = (*CachedProvider)(nil)

// NewCachedProvider creates a caching wrapper around inner.
func NewCachedProvider(inner Provider, size int, ttl time.Duration) *CachedProvider {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedProvider{
		inner: inner,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

// cacheKey hashes model and text into a fixed-length key.
func (c *CachedProvider) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(c.inner.ModelName() + "\x00" + text))
	return hex.EncodeToString(hash[:])
}

// Embed returns the cached embedding when present, otherwise computes and
// caches it.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
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

// EmbedBatch serves each text from cache when possible and batches the
// misses into one inner call, preserving input order.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	missIndices := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
			continue
		}
		missIndices = append(missIndices, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return results, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	for j, idx := range missIndices {
		results[idx] = vecs[j]
		c.cache.Add(c.cacheKey(texts[idx]), vecs[j])
	}
	return results, nil
}

// Dimensions returns the embedding width of the inner provider.
func (c *CachedProvider) Dimensions() int { return c.inner.Dimensions() }

// ModelName returns the inner provider's model identifier.
func (c *CachedProvider) ModelName() string { return c.inner.ModelName() }

// Available reports the inner provider's readiness.
func (c *CachedProvider) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

// Close closes the inner provider.
func (c *CachedProvider) Close() error { return c.inner.Close() }

// Len returns the number of live cache entries.
func (c *CachedProvider) Len() int { return c.cache.Len() }
