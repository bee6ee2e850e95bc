// Package client is the Go client for the retrieval API. It mirrors the
// HTTP surface one-to-one: product retrieval, tenant content, and cache
// invalidation.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const defaultTimeout = 30 * time.Second

// Client talks to a retrieval API server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithAPIKey sets the bearer token sent with each request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Turn is one conversation message passed for follow-up resolution.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RetrieveRequest is a single retrieval call.
type RetrieveRequest struct {
	TenantID     string `json:"tenant_id"`
	Query        string `json:"query"`
	Intent       string `json:"intent"`
	CustomerID   string `json:"customer_id,omitempty"`
	Conversation []Turn `json:"conversation,omitempty"`
}

// Product is a ranked catalog product.
type Product struct {
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

// FAQ is a tenant FAQ entry.
type FAQ struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Policy is a tenant store policy.
type Policy struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Content string `json:"content"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("retrieval api: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Retrieve runs a retrieval call and returns the ranked products. An empty
// slice is a valid answer: the server degrades to fewer results rather than
// erroring.
func (c *Client) Retrieve(ctx context.Context, req RetrieveRequest) ([]Product, error) {
	var resp struct {
		Products []Product `json:"products"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/retrieve", req, &resp); err != nil {
		return nil, err
	}
	return resp.Products, nil
}

// FAQs returns the tenant's active FAQ entries.
func (c *Client) FAQs(ctx context.Context, tenantID string) ([]FAQ, error) {
	var resp struct {
		FAQs []FAQ `json:"faqs"`
	}
	path := "/v1/tenants/" + url.PathEscape(tenantID) + "/faqs"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.FAQs, nil
}

// Policies returns the tenant's active store policies.
func (c *Client) Policies(ctx context.Context, tenantID string) ([]Policy, error) {
	var resp struct {
		Policies []Policy `json:"policies"`
	}
	path := "/v1/tenants/" + url.PathEscape(tenantID) + "/policies"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Policies, nil
}

// InvalidateTenant drops the tenant's cached index and results; the next
// retrieval reloads from the system of record.
func (c *Client) InvalidateTenant(ctx context.Context, tenantID string) error {
	path := "/v1/tenants/" + url.PathEscape(tenantID) + "/invalidate"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(b)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
