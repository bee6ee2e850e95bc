// Package embedding wraps the AI provider's embed call with normalization and
// a bounded TTL cache. Embeddings are an optimization: when the provider is
// down the engine keeps answering through keyword search alone.
package embedding

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/cartfox/retrieval/internal/metrics"
)

// Provider converts text to a fixed-length vector.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CachedEmbedder memoizes text→vector computations. Entries live for the TTL
// (default 24h) and the LRU cap (default 1000) bounds memory.
type CachedEmbedder struct {
	provider Provider
	cache    *expirable.LRU[string, []float32]
	logger   *zap.Logger
}

// New creates a caching embedder.
func New(provider Provider, maxEntries int, ttl time.Duration, logger *zap.Logger) *CachedEmbedder {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedEmbedder{
		provider: provider,
		cache:    expirable.NewLRU[string, []float32](maxEntries, nil, ttl),
		logger:   logger,
	}
}

// Embed returns the vector for text, or nil when the provider is unavailable.
// A nil vector is a legal degraded value: vector search simply contributes
// nothing and keyword search carries the query.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) []float32 {
	key := normalize(text)
	if key == "" {
		return nil
	}

	if vec, ok := c.cache.Get(key); ok {
		metrics.CacheTotal.WithLabelValues("embedding", "hit").Inc()
		return vec
	}
	metrics.CacheTotal.WithLabelValues("embedding", "miss").Inc()

	vec, err := c.provider.Embed(ctx, key)
	if err != nil {
		c.logger.Warn("embedding unavailable, degrading to text-only search", zap.Error(err))
		return nil
	}

	c.cache.Add(key, vec)
	return vec
}

// Len returns the current cache entry count.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}

// normalize collapses whitespace and lowercases so trivially different
// spellings share one cache entry.
func normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}
