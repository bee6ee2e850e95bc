// Package postgres implements the system-of-record client. The lite index is
// only a rebuildable cache over these tables; every durable read goes through
// this store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/cartfox/retrieval/internal/domain"
)

// Store reads the product catalog, FAQs and policies from Postgres.
type Store struct {
	db *sql.DB
}

// Config holds the connection settings.
type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// NewStore opens a Postgres connection pool.
func NewStore(cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	return &Store{db: db}, nil
}

// WaitForReady pings the database until it responds or the timeout elapses.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		err := s.db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("database not ready after %s: %w", timeout, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// HealthCheck pings the database once.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// FindActiveProducts returns the lite projection of every active product of
// a tenant, newest first. A NULL embedding column becomes a nil vector.
func (s *Store) FindActiveProducts(ctx context.Context, tenantID string) ([]domain.LiteProduct, error) {
	const query = `
		SELECT p.id, p.tenant_id, p.name,
		       coalesce(p.searchable_text, p.name), p.price,
		       coalesce(p.category_id, ''), p.stock_level, p.embedding
		FROM products p
		WHERE p.tenant_id = $1 AND p.active
		ORDER BY p.created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("find active products: %w: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var products []domain.LiteProduct
	for rows.Next() {
		var p domain.LiteProduct
		var vec sql.Null[pgvector.Vector]
		if err := rows.Scan(
			&p.ID, &p.TenantID, &p.Name, &p.SearchableText,
			&p.Price, &p.CategoryID, &p.StockLevel, &vec,
		); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		if vec.Valid {
			p.Embedding = vec.V.Slice()
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// FindProductsByIDs hydrates the given product ids in one round trip,
// including category names, variants and image URLs. Unknown ids are
// silently absent from the result.
func (s *Store) FindProductsByIDs(ctx context.Context, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	const query = `
		SELECT p.id, p.tenant_id, p.name, coalesce(p.description, ''),
		       p.price, coalesce(c.name, ''), p.stock_level
		FROM products p
		LEFT JOIN categories c ON c.id = p.category_id
		WHERE p.id = ANY($1)`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("find products by ids: %w: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	byID := make(map[string]*domain.Product, len(ids))
	order := make([]string, 0, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(
			&p.ID, &p.TenantID, &p.Name, &p.Description,
			&p.Price, &p.Category, &p.StockLevel,
		); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		byID[p.ID] = &p
		order = append(order, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	if err := s.attachVariants(ctx, byID); err != nil {
		return nil, err
	}
	if err := s.attachImages(ctx, byID); err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(order))
	for _, id := range order {
		products = append(products, *byID[id])
	}
	return products, nil
}

func (s *Store) attachVariants(ctx context.Context, byID map[string]*domain.Product) error {
	if len(byID) == 0 {
		return nil
	}
	const query = `
		SELECT product_id, coalesce(kind, ''), value, stock_level, coalesce(price_delta, 0)
		FROM product_variants
		WHERE product_id = ANY($1)
		ORDER BY product_id, position`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(keys(byID)))
	if err != nil {
		return fmt.Errorf("find variants: %w: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var productID string
		var v domain.Variant
		if err := rows.Scan(&productID, &v.Kind, &v.Value, &v.StockLevel, &v.PriceDelta); err != nil {
			return fmt.Errorf("scan variant: %w", err)
		}
		if p, ok := byID[productID]; ok {
			p.Variants = append(p.Variants, v)
		}
	}
	return rows.Err()
}

func (s *Store) attachImages(ctx context.Context, byID map[string]*domain.Product) error {
	if len(byID) == 0 {
		return nil
	}
	const query = `
		SELECT product_id, url
		FROM product_images
		WHERE product_id = ANY($1)
		ORDER BY product_id, position`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(keys(byID)))
	if err != nil {
		return fmt.Errorf("find images: %w: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var productID, url string
		if err := rows.Scan(&productID, &url); err != nil {
			return fmt.Errorf("scan image: %w", err)
		}
		if p, ok := byID[productID]; ok {
			p.ImageURLs = append(p.ImageURLs, url)
		}
	}
	return rows.Err()
}

// FindActiveFAQs returns a tenant's active FAQ entries.
func (s *Store) FindActiveFAQs(ctx context.Context, tenantID string) ([]domain.FAQ, error) {
	const query = `
		SELECT id, tenant_id, question, answer
		FROM faqs
		WHERE tenant_id = $1 AND active
		ORDER BY position`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("find active faqs: %w: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var faqs []domain.FAQ
	for rows.Next() {
		var f domain.FAQ
		if err := rows.Scan(&f.ID, &f.TenantID, &f.Question, &f.Answer); err != nil {
			return nil, fmt.Errorf("scan faq: %w", err)
		}
		faqs = append(faqs, f)
	}
	return faqs, rows.Err()
}

// FindActivePolicies returns a tenant's active store policies.
func (s *Store) FindActivePolicies(ctx context.Context, tenantID string) ([]domain.Policy, error) {
	const query = `
		SELECT id, tenant_id, kind, content
		FROM policies
		WHERE tenant_id = $1 AND active
		ORDER BY kind`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("find active policies: %w: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var policies []domain.Policy
	for rows.Next() {
		var p domain.Policy
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Kind, &p.Content); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func keys(m map[string]*domain.Product) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
