// Package retrieval sequences the full pipeline: rate limiting, result
// caching, context inference, expansion, hybrid search, hydration,
// re-ranking and the final tenant-isolation filter. Every failure past the
// rate check degrades to an empty list; nothing here aborts the customer's
// request.
package retrieval

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cartfox/retrieval/internal/cache"
	"github.com/cartfox/retrieval/internal/domain"
	"github.com/cartfox/retrieval/internal/index"
	"github.com/cartfox/retrieval/internal/metrics"
	"github.com/cartfox/retrieval/internal/usecase/expansion"
	"github.com/cartfox/retrieval/internal/usecase/hydrate"
	"github.com/cartfox/retrieval/internal/usecase/infer"
	"github.com/cartfox/retrieval/internal/usecase/rerank"
	"github.com/cartfox/retrieval/internal/usecase/search"
)

// Request is the inbound retrieval call from the agent layer.
type Request struct {
	Query         string
	Intent        string
	CustomerID    string
	TenantID      string
	ClientAddress string
	Memory        []domain.Turn
}

// Options tune the coordinator.
type Options struct {
	ResultTTL   time.Duration // search-result cache TTL
	ResultLimit int           // final cap returned to callers
}

// Coordinator is the retrieval entry point.
type Coordinator struct {
	limiter    *Limiter
	idx        *index.Store
	engine     *search.Engine
	hydrator   *hydrate.Hydrator
	expander   *expansion.Service
	reranker   *rerank.ReRanker
	inferencer *infer.Inferencer
	results    *cache.TTLCache[[]domain.Product]
	opts       Options
	logger     *zap.Logger
}

// NewCoordinator wires the pipeline together.
func NewCoordinator(
	limiter *Limiter,
	idx *index.Store,
	engine *search.Engine,
	hydrator *hydrate.Hydrator,
	expander *expansion.Service,
	reranker *rerank.ReRanker,
	inferencer *infer.Inferencer,
	opts Options,
	logger *zap.Logger,
) *Coordinator {
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = 5 * time.Minute
	}
	if opts.ResultLimit <= 0 {
		opts.ResultLimit = 8
	}
	return &Coordinator{
		limiter:    limiter,
		idx:        idx,
		engine:     engine,
		hydrator:   hydrator,
		expander:   expander,
		reranker:   reranker,
		inferencer: inferencer,
		results:    cache.New[[]domain.Product](10000),
		opts:       opts,
		logger:     logger,
	}
}

// Retrieve runs the pipeline and returns ranked, tenant-isolated products.
// The result is empty (never an error) when throttled, when the tenant has no
// matching catalog, or when any downstream stage fails.
func (c *Coordinator) Retrieve(ctx context.Context, req Request) []domain.Product {
	query := strings.TrimSpace(req.Query)
	if query == "" || req.TenantID == "" {
		return nil
	}

	if !c.limiter.Allow(req.TenantID + "|" + req.ClientAddress) {
		// Expected throttling, not an error.
		metrics.RateLimitRejectionsTotal.Inc()
		c.logger.Debug("retrieval throttled",
			zap.String("tenant", req.TenantID),
			zap.String("client", req.ClientAddress),
		)
		return nil
	}

	start := time.Now()
	cacheKey := "search:" + req.TenantID + ":" + strings.ToLower(query) + ":" + req.Intent

	if cached, ok := c.results.Get(cacheKey); ok {
		metrics.CacheTotal.WithLabelValues("result", "hit").Inc()
		metrics.SearchDuration.WithLabelValues(req.TenantID, "cached").Observe(time.Since(start).Seconds())
		return c.isolate(req.TenantID, cached)
	}
	metrics.CacheTotal.WithLabelValues("result", "miss").Inc()

	// One id per pipeline run, correlating every stage's log lines.
	log := c.logger.With(
		zap.String("retrieval_id", uuid.NewString()),
		zap.String("tenant", req.TenantID),
	)

	// A degraded run still answers (with whatever survived), but its result
	// must not be cached: a transient outage would otherwise serve empty
	// answers for the whole result TTL.
	degraded := false

	if err := c.idx.EnsureLoaded(ctx, req.TenantID); err != nil {
		// Search continues against whatever snapshot (possibly none) the
		// index held before the failed refresh.
		log.Warn("tenant index refresh failed, searching stale snapshot", zap.Error(err))
		degraded = true
	}

	catalog := c.idx.Products(req.TenantID)
	query = c.inferencer.Infer(query, req.Intent, req.Memory, catalog)

	searchQuery := c.expander.MaybeExpand(ctx, req.TenantID, query, brandTokens(catalog))

	candidates := c.engine.Search(ctx, req.TenantID, searchQuery)
	products, err := c.hydrator.Hydrate(ctx, candidates)
	if err != nil {
		degraded = true
	}
	products = c.reranker.MaybeRerank(ctx, query, products)
	products = c.isolate(req.TenantID, products)

	if len(products) > c.opts.ResultLimit {
		products = products[:c.opts.ResultLimit]
	}

	outcome := "ok"
	if degraded {
		outcome = "degraded"
	} else {
		c.results.Set(cacheKey, products, c.opts.ResultTTL)
	}
	metrics.SearchDuration.WithLabelValues(req.TenantID, outcome).Observe(time.Since(start).Seconds())
	log.Debug("retrieval complete",
		zap.Int("results", len(products)),
		zap.Bool("degraded", degraded),
		zap.Duration("elapsed", time.Since(start)),
	)

	return products
}

// InvalidateTenant drops a tenant's index snapshot and cached results after a
// catalog edit. Other tenants are untouched.
func (c *Coordinator) InvalidateTenant(tenantID string) {
	c.idx.Clear(tenantID)
	c.results.DeletePrefix("search:" + tenantID + ":")
}

// RunJanitor sweeps expired result-cache entries until ctx is done.
func (c *Coordinator) RunJanitor(ctx context.Context, interval time.Duration) {
	c.results.Janitor(ctx, interval)
}

// isolate is the defense-in-depth tenant filter. The index scan is already
// tenant-scoped, so a drop here means an upstream bug leaked a record; it is
// removed silently and counted.
func (c *Coordinator) isolate(tenantID string, products []domain.Product) []domain.Product {
	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if p.TenantID != tenantID {
			metrics.IsolationDropsTotal.Inc()
			c.logger.Error("tenant isolation filter dropped foreign record",
				zap.String("tenant", tenantID),
				zap.String("record_tenant", p.TenantID),
				zap.String("product", p.ID),
			)
			continue
		}
		out = append(out, p)
	}
	return out
}

// brandTokens extracts the catalog's product names for the vagueness gate: a
// query naming a known product is specific enough to skip expansion.
func brandTokens(catalog []domain.LiteProduct) []string {
	tokens := make([]string, 0, len(catalog))
	for _, p := range catalog {
		if p.Name != "" {
			tokens = append(tokens, p.Name)
		}
	}
	return tokens
}
