// Package index holds the per-tenant lite product index: a process-local,
// TTL-refreshed snapshot of each tenant's active catalog. It is the only
// mutable state shared across concurrent retrievals.
package index

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cartfox/retrieval/internal/domain"
	"github.com/cartfox/retrieval/internal/metrics"
)

// Loader fetches a tenant's active products from the system of record.
type Loader interface {
	FindActiveProducts(ctx context.Context, tenantID string) ([]domain.LiteProduct, error)
}

// Store is the in-memory lite index. Tenant snapshots are replaced atomically
// on refresh; concurrent EnsureLoaded calls for the same tenant share a single
// fetch via singleflight.
type Store struct {
	loader  Loader
	ttl     time.Duration
	retries int
	backoff time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.RWMutex
	products map[string][]domain.LiteProduct // newest first
	loadedAt map[string]time.Time

	group singleflight.Group
}

// Options tune the refresh behavior.
type Options struct {
	TTL     time.Duration // snapshot freshness window
	Retries int           // fetch attempts per load
	Backoff time.Duration // fixed pause between attempts
}

// NewStore creates a lite index backed by loader.
func NewStore(loader Loader, opts Options, logger *zap.Logger) *Store {
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}
	return &Store{
		loader:   loader,
		ttl:      opts.TTL,
		retries:  opts.Retries,
		backoff:  opts.Backoff,
		logger:   logger,
		now:      time.Now,
		products: make(map[string][]domain.LiteProduct),
		loadedAt: make(map[string]time.Time),
	}
}

// WithClock overrides the time source. Tests only.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// EnsureLoaded guarantees the index holds a snapshot of tenantID's catalog no
// older than the TTL. Concurrent callers for the same tenant await one shared
// load. When ctx expires the caller stops waiting but the load itself runs to
// completion so the snapshot still lands for subsequent callers.
func (s *Store) EnsureLoaded(ctx context.Context, tenantID string) error {
	if s.fresh(tenantID) {
		return nil
	}

	ch := s.group.DoChan(tenantID, func() (any, error) {
		// Re-check freshness: a load may have finished between the caller's
		// check and this slot being acquired.
		if s.fresh(tenantID) {
			return nil, nil
		}
		// Detach from the triggering caller: an abandoned load still
		// benefits everyone who retries later.
		return nil, s.load(context.WithoutCancel(ctx), tenantID)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) fresh(tenantID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.loadedAt[tenantID]
	return ok && s.now().Sub(at) < s.ttl
}

// load fetches with bounded retries and replaces the tenant snapshot
// atomically, so deleted products disappear and a failed refresh leaves the
// previous snapshot in place.
func (s *Store) load(ctx context.Context, tenantID string) error {
	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		products, err := s.loader.FindActiveProducts(ctx, tenantID)
		if err == nil {
			s.mu.Lock()
			s.products[tenantID] = products
			s.loadedAt[tenantID] = s.now()
			s.mu.Unlock()

			metrics.TenantLoadsTotal.WithLabelValues("success").Inc()
			s.logger.Info("tenant index loaded",
				zap.String("tenant", tenantID),
				zap.Int("products", len(products)),
				zap.Int("attempt", attempt),
			)
			return nil
		}

		lastErr = err
		s.logger.Warn("tenant index load failed",
			zap.String("tenant", tenantID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < s.retries {
			select {
			case <-ctx.Done():
				metrics.TenantLoadsTotal.WithLabelValues("error").Inc()
				return ctx.Err()
			case <-time.After(s.backoff):
			}
		}
	}
	metrics.TenantLoadsTotal.WithLabelValues("error").Inc()
	return fmt.Errorf("load tenant %s after %d attempts: %w", tenantID, s.retries, lastErr)
}

// Clear drops a tenant's snapshot immediately. Other tenants are untouched.
func (s *Store) Clear(tenantID string) {
	s.mu.Lock()
	delete(s.products, tenantID)
	delete(s.loadedAt, tenantID)
	s.mu.Unlock()
}

// Upsert inserts or replaces a single record without a full reload.
func (s *Store) Upsert(rec domain.LiteProduct) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.products[rec.TenantID]
	for i := range list {
		if list[i].ID == rec.ID {
			list[i] = rec
			return
		}
	}
	// New products sort first, matching the store's newest-first order.
	s.products[rec.TenantID] = append([]domain.LiteProduct{rec}, list...)
}

// Remove deletes a single record by id.
func (s *Store) Remove(tenantID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.products[tenantID]
	for i := range list {
		if list[i].ID == id {
			s.products[tenantID] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Products returns a snapshot copy of a tenant's records.
func (s *Store) Products(tenantID string) []domain.LiteProduct {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.products[tenantID]
	out := make([]domain.LiteProduct, len(list))
	copy(out, list)
	return out
}

// Recent returns up to n of a tenant's most recent records.
func (s *Store) Recent(tenantID string, n int) []domain.LiteProduct {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.products[tenantID]
	if n > len(list) {
		n = len(list)
	}
	out := make([]domain.LiteProduct, n)
	copy(out, list[:n])
	return out
}
