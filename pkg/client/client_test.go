package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrieve_SendsAuthAndDecodesProducts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/retrieve", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req RetrieveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "t1", req.TenantID)
		assert.Equal(t, "red shoes", req.Query)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"products":[{"id":"p1","name":"Red Shoe","price":49.9,"available":true,"score":0.9}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithAPIKey("secret"))
	products, err := c.Retrieve(context.Background(), RetrieveRequest{
		TenantID: "t1",
		Query:    "red shoes",
		Intent:   "product_inquiry",
	})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "p1", products[0].ID)
	assert.True(t, products[0].Available)
}

func TestRetrieve_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"bad_request","message":"invalid api key"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithAPIKey("wrong"))
	_, err := c.Retrieve(context.Background(), RetrieveRequest{TenantID: "t1", Query: "shoes"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "bad_request", apiErr.Code)
}

func TestFAQs_EscapesTenantID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tenants/acme shop/faqs", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"faqs":[{"id":"f1","question":"Shipping?","answer":"3 days"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	faqs, err := c.FAQs(context.Background(), "acme shop")
	require.NoError(t, err)
	require.Len(t, faqs, 1)
	assert.Equal(t, "Shipping?", faqs[0].Question)
}

func TestPolicies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tenants/t1/policies", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"policies":[{"id":"pl1","kind":"shipping","content":"Free over $50"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	policies, err := c.Policies(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, "shipping", policies[0].Kind)
}

func TestInvalidateTenant_NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/tenants/t1/invalidate", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL)
	require.NoError(t, c.InvalidateTenant(context.Background(), "t1"))
}
