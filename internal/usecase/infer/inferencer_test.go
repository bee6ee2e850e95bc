package infer

import (
	"testing"

	"github.com/cartfox/retrieval/internal/domain"
)

func catalog() []domain.LiteProduct {
	return []domain.LiteProduct{
		{ID: "p1", TenantID: "t1", Name: "Red Shoe"},
		{ID: "p2", TenantID: "t1", Name: "Çanta Deluxe"},
	}
}

func turns(contents ...string) []domain.Turn {
	out := make([]domain.Turn, len(contents))
	for i, c := range contents {
		out[i] = domain.Turn{Role: domain.RoleAssistant, Content: c}
	}
	return out
}

func TestInfer_ResolvesEllipticalQuery(t *testing.T) {
	inf := New()

	memory := turns("We have the Red Shoe in stock for 500.")
	got := inf.Infer("how much?", "price_inquiry", memory, catalog())
	if got != "Red Shoe how much?" {
		t.Errorf("expected product name prepended, got %q", got)
	}
}

func TestInfer_MostRecentAssistantTurnWins(t *testing.T) {
	inf := New()

	memory := []domain.Turn{
		{Role: domain.RoleAssistant, Content: "The Red Shoe costs 500."},
		{Role: domain.RoleUser, Content: "and bags?"},
		{Role: domain.RoleAssistant, Content: "The Çanta Deluxe is our best bag."},
	}
	got := inf.Infer("is it available?", "stock_inquiry", memory, catalog())
	if got != "Çanta Deluxe is it available?" {
		t.Errorf("expected most recent mention, got %q", got)
	}
}

func TestInfer_DiacriticFolding(t *testing.T) {
	inf := New()

	// The assistant wrote the name without diacritics.
	memory := turns("Check out the canta deluxe!")
	got := inf.Infer("how much?", "price_inquiry", memory, catalog())
	if got != "Çanta Deluxe how much?" {
		t.Errorf("expected diacritic-insensitive match, got %q", got)
	}
}

func TestInfer_SkipsLongQueries(t *testing.T) {
	inf := New()

	memory := turns("We have the Red Shoe.")
	query := "do you have red leather boots"
	if got := inf.Infer(query, "product_inquiry", memory, catalog()); got != query {
		t.Errorf("expected long query untouched, got %q", got)
	}
}

func TestInfer_SkipsOtherIntents(t *testing.T) {
	inf := New()

	memory := turns("We have the Red Shoe.")
	if got := inf.Infer("how much?", "shipping_inquiry", memory, catalog()); got != "how much?" {
		t.Errorf("expected non-product intent untouched, got %q", got)
	}
}

func TestInfer_IgnoresUserTurns(t *testing.T) {
	inf := New()

	memory := []domain.Turn{{Role: domain.RoleUser, Content: "I want a Red Shoe"}}
	if got := inf.Infer("how much?", "price_inquiry", memory, catalog()); got != "how much?" {
		t.Errorf("expected user turns ignored, got %q", got)
	}
}

func TestInfer_EmptyMemoryOrCatalog(t *testing.T) {
	inf := New()

	if got := inf.Infer("how much?", "price_inquiry", nil, catalog()); got != "how much?" {
		t.Errorf("expected empty memory untouched, got %q", got)
	}
	memory := turns("We have the Red Shoe.")
	if got := inf.Infer("how much?", "price_inquiry", memory, nil); got != "how much?" {
		t.Errorf("expected empty catalog untouched, got %q", got)
	}
}
