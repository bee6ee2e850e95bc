// Package hydrate expands lite candidates into full product records with one
// batched fetch from the system of record, plus the computed storefront
// fields (price range, sizes, colors, availability).
package hydrate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/cartfox/retrieval/internal/domain"
	"github.com/cartfox/retrieval/internal/usecase/search"
)

// Fetcher batch-loads full product records.
type Fetcher interface {
	FindProductsByIDs(ctx context.Context, ids []string) ([]domain.Product, error)
}

// Hydrator turns ranked lite candidates into full records.
type Hydrator struct {
	fetcher Fetcher
	logger  *zap.Logger
}

// New creates a hydrator.
func New(fetcher Fetcher, logger *zap.Logger) *Hydrator {
	return &Hydrator{fetcher: fetcher, logger: logger}
}

// Hydrate fetches full records for the candidates in one round trip,
// preserving rank order and merging the ranking fields onto each record.
// Callers get fully hydrated records or nothing: a batch failure returns an
// empty list and a non-nil error so the caller can tell a transient outage
// from a legitimate no-match. Never returns the lite shape.
func (h *Hydrator) Hydrate(ctx context.Context, candidates []search.Candidate) ([]domain.Product, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.Product.ID)
	}

	fetched, err := h.fetcher.FindProductsByIDs(ctx, ids)
	if err != nil {
		h.logger.Warn("hydration failed, dropping candidates", zap.Error(err))
		return nil, fmt.Errorf("hydrate candidates: %w", err)
	}

	byID := make(map[string]domain.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	out := make([]domain.Product, 0, len(candidates))
	for _, c := range candidates {
		p, ok := byID[c.Product.ID]
		if !ok {
			continue // deleted between index load and hydration
		}
		enrich(&p)
		p.Score = c.Score
		p.RRFScore = c.RRFScore
		out = append(out, p)
	}
	return out, nil
}

// enrich computes the derived storefront fields from the variant list.
func enrich(p *domain.Product) {
	p.PriceMin, p.PriceMax = p.Price, p.Price

	anyVariantStock := false
	for _, v := range p.Variants {
		price := p.Price + v.PriceDelta
		if price < p.PriceMin {
			p.PriceMin = price
		}
		if price > p.PriceMax {
			p.PriceMax = price
		}
		if v.StockLevel > 0 {
			anyVariantStock = true
		}

		switch classifyVariant(v) {
		case "size":
			p.Sizes = appendUnique(p.Sizes, v.Value)
		case "color":
			p.Colors = appendUnique(p.Colors, v.Value)
		}
	}

	if len(p.Variants) > 0 {
		p.Available = anyVariantStock
	} else {
		p.Available = p.StockLevel > 0
	}
}

var sizePattern = regexp.MustCompile(`^(?i)(xxs|xs|s|m|l|xl|xxl|3xl|4xl|\d{1,3}(\.\d)?)$`)

var colorNames = map[string]bool{
	"black": true, "white": true, "red": true, "blue": true, "green": true,
	"yellow": true, "orange": true, "purple": true, "pink": true, "brown": true,
	"grey": true, "gray": true, "beige": true, "navy": true, "gold": true,
	"silver": true, "cream": true, "khaki": true, "burgundy": true,
}

// classifyVariant resolves the variant dimension: the typed kind when the
// source row has one, name-pattern heuristics otherwise.
func classifyVariant(v domain.Variant) string {
	switch strings.ToLower(v.Kind) {
	case "size":
		return "size"
	case "color", "colour":
		return "color"
	}

	value := strings.ToLower(strings.TrimSpace(v.Value))
	if sizePattern.MatchString(value) {
		return "size"
	}
	if colorNames[value] {
		return "color"
	}
	return ""
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if strings.EqualFold(existing, v) {
			return list
		}
	}
	return append(list, v)
}
