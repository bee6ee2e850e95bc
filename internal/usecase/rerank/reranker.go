// Package rerank conditionally re-orders hydrated results with an AI
// judgment call. The gate is statistical: only rankings whose top scores are
// too close to trust get the extra provider round trip.
package rerank

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/cartfox/retrieval/internal/domain"
)

// Completer runs a bounded text completion.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error)
}

const (
	rerankTemperature = 0.0
	rerankMaxTokens   = 64
	minCandidates     = 3 // re-ranking needs more than this many results
)

// Thresholds hold the ambiguity gate constants. Both are empirical defaults,
// not correctness invariants.
type Thresholds struct {
	Variance float64 // ambiguous when score variance is below this
	Ratio    float64 // ambiguous when top/second score ratio is below this
}

// DefaultThresholds returns the production gate constants.
func DefaultThresholds() Thresholds {
	return Thresholds{Variance: 0.1, Ratio: 1.3}
}

// ReRanker re-orders ambiguous result sets via an AI permutation.
type ReRanker struct {
	completer  Completer
	thresholds Thresholds
	logger     *zap.Logger
}

// New creates a re-ranker.
func New(completer Completer, thresholds Thresholds, logger *zap.Logger) *ReRanker {
	if thresholds.Variance <= 0 {
		thresholds.Variance = DefaultThresholds().Variance
	}
	if thresholds.Ratio <= 0 {
		thresholds.Ratio = DefaultThresholds().Ratio
	}
	return &ReRanker{completer: completer, thresholds: thresholds, logger: logger}
}

// IsAmbiguousRanking reports whether the scores are too close to trust the
// default order: low variance across candidates, or a top score barely ahead
// of the runner-up.
func IsAmbiguousRanking(scores []float64, t Thresholds) bool {
	if len(scores) < 2 {
		return false
	}
	if variance(scores) < t.Variance {
		return true
	}
	if scores[1] > 0 && scores[0]/scores[1] < t.Ratio {
		return true
	}
	return false
}

// MaybeRerank returns products re-ordered by the AI judge when the ranking is
// ambiguous, the input unchanged otherwise. Re-ranking never fails the
// request: any provider or parse failure falls back to the input order.
func (r *ReRanker) MaybeRerank(ctx context.Context, query string, products []domain.Product) []domain.Product {
	if len(products) <= minCandidates {
		return products
	}
	scores := make([]float64, len(products))
	for i, p := range products {
		scores[i] = p.RRFScore
	}
	if !IsAmbiguousRanking(scores, r.thresholds) {
		return products
	}

	answer, err := r.completer.Complete(ctx, buildPrompt(query, products), rerankMaxTokens, rerankTemperature)
	if err != nil {
		r.logger.Warn("re-ranking unavailable, keeping fused order", zap.Error(err))
		return products
	}

	permutation, ok := parsePermutation(answer, len(products))
	if !ok {
		r.logger.Warn("unparseable re-rank answer, keeping fused order", zap.String("answer", answer))
		return products
	}

	out := make([]domain.Product, 0, len(products))
	for _, idx := range permutation {
		out = append(out, products[idx])
	}
	return out
}

func buildPrompt(query string, products []domain.Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A customer searched for: %q.\n", query)
	b.WriteString("Order these products from most to least relevant. ")
	b.WriteString("Answer with the zero-based indices only, comma separated (e.g. 2,0,1).\n")
	for i, p := range products {
		fmt.Fprintf(&b, "%d) %s — %.2f — %s\n", i, p.Name, p.Price, p.Category)
	}
	return b.String()
}

// parsePermutation extracts a valid index permutation from the AI answer.
// Indices out of range or repeated are dropped; indices the AI omitted are
// appended in original order.
func parsePermutation(answer string, n int) ([]int, bool) {
	fields := strings.FieldsFunc(answer, func(r rune) bool {
		return r < '0' || r > '9'
	})

	seen := make(map[int]bool, n)
	var out []int
	for _, f := range fields {
		idx, err := strconv.Atoi(f)
		if err != nil || idx < 0 || idx >= n || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	if len(out) == 0 {
		return nil, false
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			out = append(out, i)
		}
	}
	return out, true
}

// variance is the population variance of scores.
func variance(scores []float64) float64 {
	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(len(scores))

	var sq float64
	for _, s := range scores {
		sq += (s - mean) * (s - mean)
	}
	return sq / float64(len(scores))
}
