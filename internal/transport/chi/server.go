package chi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cartfox/retrieval/internal/domain"
	"github.com/cartfox/retrieval/internal/logger"
	retrievaluc "github.com/cartfox/retrieval/internal/usecase/retrieval"
)

// Retriever runs the retrieval pipeline for a single request and handles
// tenant cache invalidation.
type Retriever interface {
	Retrieve(ctx context.Context, req retrievaluc.Request) []domain.Product
	InvalidateTenant(tenantID string)
}

// ContentStore serves the tenant content that accompanies product retrieval:
// FAQs and store policies for non-product intents.
type ContentStore interface {
	FindActiveFAQs(ctx context.Context, tenantID string) ([]domain.FAQ, error)
	FindActivePolicies(ctx context.Context, tenantID string) ([]domain.Policy, error)
}

// HealthChecker reports readiness of a backing dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server exposes the retrieval pipeline over HTTP. Handlers log through the
// request-scoped logger placed in the context by the wide-event middleware,
// so every line carries the request id.
type Server struct {
	coordinator Retriever
	content     ContentStore
	checks      map[string]HealthChecker
}

// NewServer creates an HTTP API server.
func NewServer(
	coordinator Retriever,
	content ContentStore,
	checks map[string]HealthChecker,
) *Server {
	return &Server{
		coordinator: coordinator,
		content:     content,
		checks:      checks,
	}
}

// Routes registers all handlers on the given router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/v1/retrieve", s.Retrieve)
	r.Get("/v1/tenants/{tenantID}/faqs", s.ListFAQs)
	r.Get("/v1/tenants/{tenantID}/policies", s.ListPolicies)
	r.Post("/v1/tenants/{tenantID}/invalidate", s.InvalidateTenant)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// RetrieveRequest is the inbound retrieval payload.
type RetrieveRequest struct {
	TenantID     string        `json:"tenant_id"`
	Query        string        `json:"query"`
	Intent       string        `json:"intent"`
	CustomerID   string        `json:"customer_id,omitempty"`
	Conversation []domain.Turn `json:"conversation,omitempty"`
}

// RetrieveResponse carries the ranked products back to the agent layer.
type RetrieveResponse struct {
	Products []productItem `json:"products"`
}

type productItem struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Price       float64  `json:"price"`
	PriceMin    float64  `json:"price_min,omitempty"`
	PriceMax    float64  `json:"price_max,omitempty"`
	Category    string   `json:"category,omitempty"`
	Available   bool     `json:"available"`
	Sizes       []string `json:"sizes,omitempty"`
	Colors      []string `json:"colors,omitempty"`
	ImageURLs   []string `json:"image_urls,omitempty"`
	Score       float64  `json:"score"`
}

// Retrieve handles POST /v1/retrieve.
func (s *Server) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	if strings.TrimSpace(req.TenantID) == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "tenant_id is required")
		return
	}

	products := s.coordinator.Retrieve(r.Context(), retrievaluc.Request{
		Query:         req.Query,
		Intent:        req.Intent,
		CustomerID:    req.CustomerID,
		TenantID:      req.TenantID,
		ClientAddress: clientAddress(r),
		Memory:        req.Conversation,
	})

	items := make([]productItem, len(products))
	for i, p := range products {
		items[i] = productToItem(p)
	}

	writeJSON(w, http.StatusOK, RetrieveResponse{Products: items})
}

type faqItem struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ListFAQs handles GET /v1/tenants/{tenantID}/faqs.
func (s *Server) ListFAQs(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	faqs, err := s.content.FindActiveFAQs(r.Context(), tenantID)
	if err != nil {
		logger.FromContext(r.Context()).Error("FAQ lookup failed",
			zap.String("tenant_id", tenantID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, codeStoreUnavailable, "content store unavailable")
		return
	}

	items := make([]faqItem, len(faqs))
	for i, f := range faqs {
		items[i] = faqItem{ID: f.ID, Question: f.Question, Answer: f.Answer}
	}

	writeJSON(w, http.StatusOK, map[string][]faqItem{"faqs": items})
}

type policyItem struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

// ListPolicies handles GET /v1/tenants/{tenantID}/policies.
func (s *Server) ListPolicies(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")

	policies, err := s.content.FindActivePolicies(r.Context(), tenantID)
	if err != nil {
		logger.FromContext(r.Context()).Error("policy lookup failed",
			zap.String("tenant_id", tenantID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, codeStoreUnavailable, "content store unavailable")
		return
	}

	items := make([]policyItem, len(policies))
	for i, p := range policies {
		items[i] = policyItem{ID: p.ID, Kind: p.Kind, Content: p.Content}
	}

	writeJSON(w, http.StatusOK, map[string][]policyItem{"policies": items})
}

// InvalidateTenant handles POST /v1/tenants/{tenantID}/invalidate. The next
// retrieval for the tenant reloads its catalog from the system of record.
func (s *Server) InvalidateTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "tenant id is required")
		return
	}

	s.coordinator.InvalidateTenant(tenantID)
	logger.FromContext(r.Context()).Info("tenant invalidated", zap.String("tenant_id", tenantID))

	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK
	checks := make(map[string]string, len(s.checks))

	for name, c := range s.checks {
		if err := c.HealthCheck(r.Context()); err != nil {
			checks[name] = "unhealthy"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "healthy"
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": status,
		"checks": checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func productToItem(p domain.Product) productItem {
	return productItem{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		PriceMin:    p.PriceMin,
		PriceMax:    p.PriceMax,
		Category:    p.Category,
		Available:   p.Available,
		Sizes:       p.Sizes,
		Colors:      p.Colors,
		ImageURLs:   p.ImageURLs,
		Score:       p.Score,
	}
}

// clientAddress extracts the caller address used for rate-limit bucketing.
// The first X-Forwarded-For hop wins when present.
func clientAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type errorCode string

const (
	codeBadRequest       errorCode = "bad_request"
	codeValidationFailed errorCode = "validation_failed"
	codeStoreUnavailable errorCode = "store_unavailable"
)

type errorResponse struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code errorCode, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}
