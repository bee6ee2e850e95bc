// Package expansion rewrites vague queries into descriptive, keyword-dense
// paraphrases before search. The vagueness gate is a cost control: specific
// queries skip the AI call entirely.
package expansion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cartfox/retrieval/internal/cache"
	"github.com/cartfox/retrieval/internal/metrics"
)

// Completer runs a bounded text completion.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error)
}

// intentMarkers are generic phrasings that signal a product inquiry without
// naming a product.
var intentMarkers = []string{
	"available",
	"in stock",
	"how much",
	"price",
	"do you have",
	"do you sell",
	"any",
}

const (
	expandTemperature = 0.3
	expandMaxTokens   = 200
	longQueryWords    = 4
	shortQueryWords   = 3
)

// Service expands vague queries via an AI completion, cached per
// tenant+query.
type Service struct {
	completer   Completer
	cache       *cache.TTLCache[string]
	ttl         time.Duration
	temperature float32
	maxTokens   int
	logger      *zap.Logger
}

// New creates an expansion service. ttl bounds how long an expansion is
// reused (default 1h).
func New(completer Completer, ttl time.Duration, logger *zap.Logger) *Service {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		completer:   completer,
		cache:       cache.New[string](5000),
		ttl:         ttl,
		temperature: expandTemperature,
		maxTokens:   expandMaxTokens,
		logger:      logger,
	}
}

// WithCompletion overrides the completion parameters. Zero values keep the
// defaults.
func (s *Service) WithCompletion(temperature float32, maxTokens int) *Service {
	if temperature > 0 {
		s.temperature = temperature
	}
	if maxTokens > 0 {
		s.maxTokens = maxTokens
	}
	return s
}

// RunJanitor sweeps expired expansion-cache entries until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	s.cache.Janitor(ctx, interval)
}

// IsVagueQuery reports whether query needs expansion: short (≤3 words) or
// generically worded, without any known product/brand token, and not long
// enough (>4 words) to be specific on its own.
func IsVagueQuery(query string, brandTokens []string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	words := strings.Fields(q)
	if len(words) == 0 {
		return false
	}
	if len(words) > longQueryWords {
		return false
	}
	for _, token := range brandTokens {
		if token != "" && strings.Contains(q, strings.ToLower(token)) {
			return false
		}
	}
	if len(words) <= shortQueryWords {
		return true
	}
	for _, marker := range intentMarkers {
		if strings.Contains(q, marker) {
			return true
		}
	}
	return false
}

// MaybeExpand returns an expanded form of query when it is vague, the
// original query otherwise. Expansion is best-effort: any failure returns the
// query unchanged.
func (s *Service) MaybeExpand(ctx context.Context, tenantID, query string, brandTokens []string) string {
	if !IsVagueQuery(query, brandTokens) {
		return query
	}

	key := "expand:" + tenantID + ":" + strings.ToLower(strings.TrimSpace(query))
	if cached, ok := s.cache.Get(key); ok {
		metrics.CacheTotal.WithLabelValues("expansion", "hit").Inc()
		return cached
	}
	metrics.CacheTotal.WithLabelValues("expansion", "miss").Inc()

	expanded, err := s.completer.Complete(ctx, buildPrompt(query), s.maxTokens, s.temperature)
	if err != nil {
		s.logger.Warn("query expansion unavailable, using original query",
			zap.String("tenant", tenantID),
			zap.Error(err),
		)
		return query
	}
	expanded = strings.TrimSpace(expanded)
	if expanded == "" {
		return query
	}

	s.cache.Set(key, expanded, s.ttl)
	return expanded
}

func buildPrompt(query string) string {
	return fmt.Sprintf(
		"A customer of an online store wrote this short search query: %q.\n"+
			"Rewrite it as one descriptive, keyword-dense paragraph naming product "+
			"types, materials, colors and use cases the customer probably means. "+
			"Write the paragraph twice: once in the store's language and once in "+
			"English. Output only the two paragraphs.",
		query,
	)
}
