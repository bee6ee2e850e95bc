// Package infer resolves elliptical follow-up queries ("how much?") to the
// product the conversation was just about, by scanning recent assistant turns
// for product-name mentions.
package infer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/cartfox/retrieval/internal/domain"
)

// Intents that can refer back to a previously discussed product.
var productIntents = map[string]bool{
	"product_inquiry": true,
	"price_inquiry":   true,
	"stock_inquiry":   true,
}

// maxNameWords caps the n-gram window when matching product names inside a
// turn; catalog names longer than this match on their first words.
const maxNameWords = 4

// shortQueryWords is the word count at or below which a query is considered
// elliptical enough to need conversational context.
const shortQueryWords = 3

// Inferencer rewrites queries using conversation memory.
type Inferencer struct{}

// New creates a context inferencer.
func New() *Inferencer {
	return &Inferencer{}
}

// Infer prepends a recently mentioned product name to the query when the
// intent is a product/price inquiry, the query is short, and a prior
// assistant turn names a tenant product. Otherwise the query is returned
// unchanged.
func (i *Inferencer) Infer(query, intent string, memory []domain.Turn, products []domain.LiteProduct) string {
	if !productIntents[intent] || len(memory) == 0 || len(products) == 0 {
		return query
	}
	if len(strings.Fields(query)) > shortQueryWords {
		return query
	}

	// name→record map built once per call: n-gram membership tests instead of
	// per-name substring scans over every turn.
	names := make(map[string]string, len(products))
	for _, p := range products {
		key := foldName(p.Name, maxNameWords)
		if key != "" {
			names[key] = p.Name
		}
	}

	for turn := len(memory) - 1; turn >= 0; turn-- {
		if memory[turn].Role != domain.RoleAssistant {
			continue
		}
		if name := findMention(memory[turn].Content, names); name != "" {
			return name + " " + query
		}
	}
	return query
}

// findMention slides an n-gram window over the turn's words and returns the
// first product name present in names.
func findMention(content string, names map[string]string) string {
	words := strings.Fields(fold(content))
	for size := maxNameWords; size >= 1; size-- {
		for start := 0; start+size <= len(words); start++ {
			gram := strings.Join(words[start:start+size], " ")
			if name, ok := names[gram]; ok {
				return name
			}
		}
	}
	return ""
}

// foldName normalizes a product name to its first maxWords folded words.
func foldName(name string, maxWords int) string {
	words := strings.Fields(fold(name))
	if len(words) > maxWords {
		words = words[:maxWords]
	}
	return strings.Join(words, " ")
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// fold lowercases and strips diacritics so "Çanta" and "canta" compare equal.
func fold(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return b.String()
}
