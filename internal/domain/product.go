package domain

// LiteProduct is the minimal in-memory projection of a product kept resident
// in the tenant index. A nil Embedding is legal: the product is still
// reachable through keyword search.
type LiteProduct struct {
	ID             string
	TenantID       string
	Name           string
	SearchableText string
	Price          float64
	CategoryID     string
	StockLevel     int
	Embedding      []float32
}

// Variant is a single purchasable variation of a product (a color, a size).
type Variant struct {
	Kind       string // "color", "size", or "" when the source row has no type
	Value      string
	StockLevel int
	PriceDelta float64
}

// Product is the hydrated form returned to callers. It carries the ranking
// fields merged back from the lite candidate that produced it.
type Product struct {
	ID          string
	TenantID    string
	Name        string
	Description string
	Price       float64
	PriceMin    float64
	PriceMax    float64
	Category    string
	StockLevel  int
	Available   bool
	Sizes       []string
	Colors      []string
	Variants    []Variant
	ImageURLs   []string

	Score    float64
	RRFScore float64
}

// CandidateSource identifies which ranked list a candidate came from.
type CandidateSource string

const (
	SourceVector CandidateSource = "vector"
	SourceText   CandidateSource = "text"
)

// FAQ is a tenant FAQ entry, served for non-product intents.
type FAQ struct {
	ID       string
	TenantID string
	Question string
	Answer   string
}

// Policy is a tenant store policy (shipping, returns, payment).
type Policy struct {
	ID       string
	TenantID string
	Kind     string
	Content  string
}
