// Package search implements hybrid retrieval over the lite index: vector
// similarity and keyword matching run independently and are merged with
// Reciprocal Rank Fusion.
package search

import (
	"context"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cartfox/retrieval/internal/domain"
	"github.com/cartfox/retrieval/internal/index"
)

// Embedder returns a query vector, or nil when embeddings are unavailable.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

// browseMarkers short-circuit ranking: the customer wants to see the catalog,
// not a best match.
var browseMarkers = []string{
	"show me everything",
	"show everything",
	"what do you sell",
	"what do you have",
	"all products",
	"browse",
	"catalog",
	"catalogue",
}

// Options tune the engine.
type Options struct {
	Fanout    int // per-list candidate cap before fusion
	FuseLimit int // candidates surviving fusion (hydration cost control)
	RRFK      int
}

// Engine executes hybrid search against the lite index.
type Engine struct {
	idx      *index.Store
	embedder Embedder
	opts     Options
	logger   *zap.Logger
}

// NewEngine creates a hybrid search engine.
func NewEngine(idx *index.Store, embedder Embedder, opts Options, logger *zap.Logger) *Engine {
	if opts.Fanout <= 0 {
		opts.Fanout = 20
	}
	if opts.FuseLimit <= 0 {
		opts.FuseLimit = 10
	}
	if opts.RRFK <= 0 {
		opts.RRFK = defaultRRFK
	}
	return &Engine{idx: idx, embedder: embedder, opts: opts, logger: logger}
}

// Search returns the fused candidate list for query within tenantID. The
// tenant snapshot must already be loaded; an unloaded tenant simply yields no
// candidates.
func (e *Engine) Search(ctx context.Context, tenantID, query string) []Candidate {
	if isBrowseQuery(query) {
		return e.browse(tenantID)
	}

	products := e.idx.Products(tenantID)
	if len(products) == 0 {
		return nil
	}

	var vectorList, textList []Candidate
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vectorList = e.vectorScan(gctx, products, query)
		return nil
	})
	g.Go(func() error {
		textList = e.keywordScan(products, query)
		return nil
	})
	_ = g.Wait() // both branches degrade internally, never error

	return fuseRRF(vectorList, textList, e.opts.RRFK, e.opts.FuseLimit)
}

// browse returns the tenant's most recent records without ranking.
func (e *Engine) browse(tenantID string) []Candidate {
	recent := e.idx.Recent(tenantID, e.opts.FuseLimit)
	out := make([]Candidate, 0, len(recent))
	for i, p := range recent {
		out = append(out, Candidate{
			Product: p,
			Score:   1.0 / float64(i+1),
			Source:  domain.SourceText,
		})
	}
	return out
}

// vectorScan ranks products by cosine similarity to the query embedding.
// Products without embeddings and a nil query vector both drop out silently.
func (e *Engine) vectorScan(ctx context.Context, products []domain.LiteProduct, query string) []Candidate {
	queryVec := e.embedder.Embed(ctx, query)
	if queryVec == nil {
		return nil
	}

	var out []Candidate
	for _, p := range products {
		if p.Embedding == nil {
			continue
		}
		sim := cosineSimilarity(queryVec, p.Embedding)
		if sim <= 0 {
			continue
		}
		out = append(out, Candidate{Product: p, Score: sim, Source: domain.SourceVector})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > e.opts.Fanout {
		out = out[:e.opts.Fanout]
	}
	return out
}

// keywordScan ranks products by token overlap between the query and the
// searchable text, with bonuses for whole-phrase and name matches.
func (e *Engine) keywordScan(products []domain.LiteProduct, query string) []Candidate {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}
	phrase := strings.ToLower(strings.TrimSpace(query))

	var out []Candidate
	for _, p := range products {
		score := keywordScore(queryTokens, phrase, p)
		if score <= 0 {
			continue
		}
		out = append(out, Candidate{Product: p, Score: score, Source: domain.SourceText})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > e.opts.Fanout {
		out = out[:e.opts.Fanout]
	}
	return out
}

func keywordScore(queryTokens []string, phrase string, p domain.LiteProduct) float64 {
	text := strings.ToLower(p.SearchableText)
	name := strings.ToLower(p.Name)

	matched := 0
	for _, tok := range queryTokens {
		if strings.Contains(text, tok) {
			matched++
		}
	}
	if matched == 0 {
		return 0
	}

	score := float64(matched) / float64(len(queryTokens))
	if phrase != "" && strings.Contains(text, phrase) {
		score += 0.5
	}
	if phrase != "" && strings.Contains(name, phrase) {
		score += 0.5
	}
	return score
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".,!?\"'()[]")
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}

func isBrowseQuery(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	for _, marker := range browseMarkers {
		if q == marker || strings.Contains(q, marker) {
			return true
		}
	}
	return false
}

// cosineSimilarity returns the cosine of the angle between a and b, 0 when
// dimensions differ or either vector is zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
