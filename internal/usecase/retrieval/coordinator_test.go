package retrieval

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cartfox/retrieval/internal/domain"
	"github.com/cartfox/retrieval/internal/index"
	"github.com/cartfox/retrieval/internal/metrics"
	"github.com/cartfox/retrieval/internal/usecase/expansion"
	"github.com/cartfox/retrieval/internal/usecase/hydrate"
	"github.com/cartfox/retrieval/internal/usecase/infer"
	"github.com/cartfox/retrieval/internal/usecase/rerank"
	"github.com/cartfox/retrieval/internal/usecase/search"
)

func TestMain(m *testing.M) {
	metrics.Register()
	os.Exit(m.Run())
}

// fakeStore is the system of record for coordinator tests: it backs both the
// index loader and the hydrator fetcher.
type fakeStore struct {
	lite          map[string][]domain.LiteProduct
	loadCalls     atomic.Int64
	fetchCalls    atomic.Int64
	loadFailures  atomic.Int64 // fail this many loads before recovering
	fetchFailures atomic.Int64 // fail this many batch fetches before recovering
	leakTenant    string       // when set, hydrated records claim this tenant id
}

func (f *fakeStore) FindActiveProducts(_ context.Context, tenantID string) ([]domain.LiteProduct, error) {
	f.loadCalls.Add(1)
	if f.loadFailures.Load() > 0 {
		f.loadFailures.Add(-1)
		return nil, errors.New("store unreachable")
	}
	return f.lite[tenantID], nil
}

func (f *fakeStore) FindProductsByIDs(_ context.Context, ids []string) ([]domain.Product, error) {
	f.fetchCalls.Add(1)
	if f.fetchFailures.Load() > 0 {
		f.fetchFailures.Add(-1)
		return nil, errors.New("store unreachable")
	}
	byID := map[string]domain.LiteProduct{}
	for _, list := range f.lite {
		for _, p := range list {
			byID[p.ID] = p
		}
	}
	var out []domain.Product
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			continue
		}
		tenant := p.TenantID
		if f.leakTenant != "" {
			tenant = f.leakTenant
		}
		out = append(out, domain.Product{
			ID: p.ID, TenantID: tenant, Name: p.Name,
			Price: p.Price, StockLevel: 5,
		})
	}
	return out, nil
}

type fakeEmbedder struct {
	calls   atomic.Int64
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) []float32 {
	f.calls.Add(1)
	return f.vectors[text]
}

type fakeCompleter struct {
	calls atomic.Int64
	out   string
}

func (f *fakeCompleter) Complete(context.Context, string, int, float32) (string, error) {
	f.calls.Add(1)
	return f.out, nil
}

func twoTenantStore() *fakeStore {
	return &fakeStore{lite: map[string][]domain.LiteProduct{
		"t1": {
			{ID: "p1", TenantID: "t1", Name: "Red Shoe",
				SearchableText: "red shoe leather", Price: 500, Embedding: []float32{0.1, 0.2, 0.3}},
			{ID: "p2", TenantID: "t1", Name: "Blue Shirt",
				SearchableText: "blue shirt cotton", Price: 100},
		},
		"t2": {
			{ID: "p3", TenantID: "t2", Name: "Green Hat",
				SearchableText: "green hat wool", Price: 50},
		},
	}}
}

func newTestCoordinator(store *fakeStore, embedder *fakeEmbedder, completer *fakeCompleter) *Coordinator {
	logger := zap.NewNop()
	idx := index.NewStore(store, index.Options{TTL: time.Minute, Retries: 1, Backoff: time.Millisecond}, logger)
	engine := search.NewEngine(idx, embedder, search.Options{}, logger)
	return NewCoordinator(
		NewLimiter(6000, 1000),
		idx,
		engine,
		hydrate.New(store, logger),
		expansion.New(completer, time.Hour, logger),
		rerank.New(completer, rerank.DefaultThresholds(), logger),
		infer.New(),
		Options{ResultTTL: time.Minute, ResultLimit: 8},
		logger,
	)
}

func TestRetrieve_EndToEnd(t *testing.T) {
	store := twoTenantStore()
	embedder := &fakeEmbedder{vectors: map[string][]float32{"red shoe": {0.1, 0.2, 0.3}}}
	c := newTestCoordinator(store, embedder, &fakeCompleter{})

	got := c.Retrieve(context.Background(), Request{
		Query: "Red Shoe", TenantID: "t1", Intent: "product_inquiry",
	})
	if len(got) == 0 {
		t.Fatal("expected results for t1")
	}
	if got[0].ID != "p1" {
		t.Errorf("expected Red Shoe ranked first, got %s", got[0].ID)
	}
	for _, p := range got {
		if p.TenantID != "t1" {
			t.Errorf("t1 result leaked record of tenant %s", p.TenantID)
		}
	}

	// Same query for t2 must never surface t1's Red Shoe.
	got = c.Retrieve(context.Background(), Request{
		Query: "Red Shoe", TenantID: "t2", Intent: "product_inquiry",
	})
	for _, p := range got {
		if p.ID == "p1" || p.TenantID != "t2" {
			t.Errorf("t2 result leaked foreign record %+v", p)
		}
	}
}

func TestRetrieve_CacheIdempotence(t *testing.T) {
	store := twoTenantStore()
	embedder := &fakeEmbedder{vectors: map[string][]float32{"red shoe": {0.1, 0.2, 0.3}}}
	c := newTestCoordinator(store, embedder, &fakeCompleter{})

	req := Request{Query: "Red Shoe", TenantID: "t1", Intent: "product_inquiry"}
	first := c.Retrieve(context.Background(), req)

	embedBefore := embedder.calls.Load()
	fetchBefore := store.fetchCalls.Load()
	loadBefore := store.loadCalls.Load()

	second := c.Retrieve(context.Background(), req)

	if embedder.calls.Load() != embedBefore || store.fetchCalls.Load() != fetchBefore ||
		store.loadCalls.Load() != loadBefore {
		t.Error("expected zero external calls on cached retrieval")
	}
	if len(first) != len(second) {
		t.Fatalf("expected identical results, got %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].Score != second[i].Score {
			t.Errorf("cached result differs at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestRetrieve_TransientHydrationFailureNotCached(t *testing.T) {
	store := twoTenantStore()
	store.fetchFailures.Store(1) // first batch fetch fails, then the store recovers
	c := newTestCoordinator(store, &fakeEmbedder{}, &fakeCompleter{})

	req := Request{Query: "red shoe leather", TenantID: "t1", Intent: "product_inquiry"}

	if got := c.Retrieve(context.Background(), req); len(got) != 0 {
		t.Fatalf("expected empty result while hydration is down, got %d", len(got))
	}

	// The degraded empty answer must not be served from the result cache once
	// the store is back.
	got := c.Retrieve(context.Background(), req)
	if len(got) == 0 {
		t.Fatal("expected results after the store recovered")
	}
	if got[0].ID != "p1" {
		t.Errorf("expected Red Shoe after recovery, got %s", got[0].ID)
	}
}

func TestRetrieve_ColdLoadFailureNotCached(t *testing.T) {
	store := twoTenantStore()
	store.loadFailures.Store(1) // cold tenant: the first index load fails
	c := newTestCoordinator(store, &fakeEmbedder{}, &fakeCompleter{})

	req := Request{Query: "red shoe leather", TenantID: "t1", Intent: "product_inquiry"}

	if got := c.Retrieve(context.Background(), req); len(got) != 0 {
		t.Fatalf("expected empty result with no snapshot loaded, got %d", len(got))
	}

	got := c.Retrieve(context.Background(), req)
	if len(got) == 0 || got[0].ID != "p1" {
		t.Fatalf("expected results once the load succeeded, got %+v", got)
	}
}

func TestRetrieve_GracefulDegradationWithoutEmbeddings(t *testing.T) {
	store := twoTenantStore()
	c := newTestCoordinator(store, &fakeEmbedder{}, &fakeCompleter{}) // embedder always nil

	got := c.Retrieve(context.Background(), Request{
		Query: "red shoe leather", TenantID: "t1", Intent: "product_inquiry",
	})
	if len(got) == 0 {
		t.Fatal("expected keyword-matched results with embeddings unavailable")
	}
	if got[0].ID != "p1" {
		t.Errorf("expected Red Shoe from keyword search, got %s", got[0].ID)
	}
}

func TestRetrieve_IsolationFilterCatchesLeak(t *testing.T) {
	store := twoTenantStore()
	store.leakTenant = "t2" // upstream bug: hydration returns foreign-tenant records
	c := newTestCoordinator(store, &fakeEmbedder{}, &fakeCompleter{})

	got := c.Retrieve(context.Background(), Request{
		Query: "red shoe leather", TenantID: "t1", Intent: "product_inquiry",
	})
	if len(got) != 0 {
		t.Errorf("expected isolation filter to drop every leaked record, got %d", len(got))
	}
}

func TestRetrieve_RateLimitShortCircuits(t *testing.T) {
	store := twoTenantStore()
	logger := zap.NewNop()
	idx := index.NewStore(store, index.Options{TTL: time.Minute, Retries: 1, Backoff: time.Millisecond}, logger)
	embedder := &fakeEmbedder{}
	completer := &fakeCompleter{}
	c := NewCoordinator(
		NewLimiter(1, 1), // one call only
		idx,
		search.NewEngine(idx, embedder, search.Options{}, logger),
		hydrate.New(store, logger),
		expansion.New(completer, time.Hour, logger),
		rerank.New(completer, rerank.DefaultThresholds(), logger),
		infer.New(),
		Options{},
		logger,
	)

	req := Request{Query: "red shoe leather", TenantID: "t1", ClientAddress: "10.0.0.1"}
	if got := c.Retrieve(context.Background(), req); len(got) == 0 {
		t.Fatal("expected first call to pass the limiter")
	}

	req.Query = "blue shirt cotton" // different query so the result cache cannot serve it
	if got := c.Retrieve(context.Background(), req); len(got) != 0 {
		t.Errorf("expected throttled call to return empty, got %d results", len(got))
	}
}

func TestRetrieve_ContextInferenceResolvesFollowUp(t *testing.T) {
	store := twoTenantStore()
	c := newTestCoordinator(store, &fakeEmbedder{}, &fakeCompleter{})

	memory := []domain.Turn{
		{Role: domain.RoleAssistant, Content: "The Red Shoe costs 500."},
	}
	got := c.Retrieve(context.Background(), Request{
		Query: "how much?", Intent: "price_inquiry", TenantID: "t1", Memory: memory,
	})
	if len(got) == 0 || got[0].ID != "p1" {
		t.Fatalf("expected follow-up resolved to Red Shoe, got %+v", got)
	}
}

func TestRetrieve_EmptyInputs(t *testing.T) {
	store := twoTenantStore()
	c := newTestCoordinator(store, &fakeEmbedder{}, &fakeCompleter{})

	if got := c.Retrieve(context.Background(), Request{Query: "  ", TenantID: "t1"}); got != nil {
		t.Errorf("expected nil for blank query, got %v", got)
	}
	if got := c.Retrieve(context.Background(), Request{Query: "shoes"}); got != nil {
		t.Errorf("expected nil for missing tenant, got %v", got)
	}
}

func TestInvalidateTenant(t *testing.T) {
	store := twoTenantStore()
	c := newTestCoordinator(store, &fakeEmbedder{}, &fakeCompleter{})

	req := Request{Query: "red shoe leather", TenantID: "t1", Intent: "product_inquiry"}
	_ = c.Retrieve(context.Background(), req)

	loadsBefore := store.loadCalls.Load()
	c.InvalidateTenant("t1")

	_ = c.Retrieve(context.Background(), req)
	if store.loadCalls.Load() != loadsBefore+1 {
		t.Error("expected invalidation to force a fresh index load")
	}
}
