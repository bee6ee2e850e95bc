package search

import (
	"sort"

	"github.com/cartfox/retrieval/internal/domain"
)

// defaultRRFK is the Reciprocal Rank Fusion constant (standard value from
// Cormack et al. 2009).
const defaultRRFK = 60

// Candidate is a lite record paired with its ranking fields. It exists only
// for the duration of one retrieval call.
type Candidate struct {
	Product  domain.LiteProduct
	Score    float64 // local score from the source list
	Source   domain.CandidateSource
	RRFScore float64
}

// fuseRRF merges the vector and text result lists via Reciprocal Rank
// Fusion: rrf(d) = sum of 1/(k + rank + 1) over the lists d appears in, with
// 0-based ranks. Rank-based fusion sidesteps the incomparable score scales of
// the two subsystems and tolerates either list being empty. Ties keep first
// appearance order (vector list first).
func fuseRRF(vector, text []Candidate, k, limit int) []Candidate {
	if k <= 0 {
		k = defaultRRFK
	}

	merged := make(map[string]*Candidate)
	var order []string

	for rank := range vector {
		c := vector[rank]
		c.RRFScore = 1.0 / float64(k+rank+1)
		merged[c.Product.ID] = &c
		order = append(order, c.Product.ID)
	}

	for rank := range text {
		c := text[rank]
		contribution := 1.0 / float64(k+rank+1)
		if existing, ok := merged[c.Product.ID]; ok {
			existing.RRFScore += contribution
			// The vector entry stays; it carries the embedding-side score.
		} else {
			c.RRFScore = contribution
			merged[c.Product.ID] = &c
			order = append(order, c.Product.ID)
		}
	}

	results := make([]Candidate, 0, len(order))
	for _, id := range order {
		results = append(results, *merged[id])
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RRFScore > results[j].RRFScore
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
