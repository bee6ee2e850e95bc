// Package openai implements the AI provider boundary over any
// OpenAI-compatible API: text embeddings for vector search and low-temperature
// completions for query expansion and re-ranking.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/cartfox/retrieval/internal/domain"
	"github.com/cartfox/retrieval/internal/metrics"
)

// Provider calls an OpenAI-compatible API for embeddings and completions.
// Both calls are seconds-scale and may fail; callers must treat every error
// as a degradation signal, never a request failure.
type Provider struct {
	client          *openai.Client
	embeddingModel  openai.EmbeddingModel
	completionModel string
	dimensions      int
	logger          *zap.Logger
}

// Config holds the provider settings.
type Config struct {
	APIKey          string
	BaseURL         string
	EmbeddingModel  string
	CompletionModel string
	Dimensions      int
	TimeoutSec      int
	Logger          *zap.Logger
}

// New creates an OpenAI-compatible provider.
func New(cfg *Config) *Provider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &Provider{
		client:          openai.NewClientWithConfig(clientCfg),
		embeddingModel:  openai.EmbeddingModel(cfg.EmbeddingModel),
		completionModel: cfg.CompletionModel,
		dimensions:      cfg.Dimensions,
		logger:          cfg.Logger,
	}
}

// Embed converts text to a fixed-length vector.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          p.embeddingModel,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if p.dimensions > 0 {
		req.Dimensions = p.dimensions
	}

	start := time.Now()
	resp, err := p.client.CreateEmbeddings(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.ProviderRequestsTotal.WithLabelValues("embed", "error").Inc()
		return nil, parseAPIError("embedding", err)
	}
	if len(resp.Data) == 0 {
		metrics.ProviderRequestsTotal.WithLabelValues("embed", "error").Inc()
		return nil, fmt.Errorf("empty embedding response: %w", domain.ErrProviderUnavailable)
	}

	metrics.ProviderRequestsTotal.WithLabelValues("embed", "success").Inc()
	metrics.ProviderRequestDuration.WithLabelValues("embed").Observe(duration.Seconds())

	return resp.Data[0].Embedding, nil
}

// Complete runs a single-turn completion with bounded output.
func (p *Provider) Complete(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       p.completionModel,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.ProviderRequestsTotal.WithLabelValues("complete", "error").Inc()
		return "", parseAPIError("completion", err)
	}
	if len(resp.Choices) == 0 {
		metrics.ProviderRequestsTotal.WithLabelValues("complete", "error").Inc()
		return "", fmt.Errorf("empty completion response: %w", domain.ErrProviderUnavailable)
	}

	metrics.ProviderRequestsTotal.WithLabelValues("complete", "success").Inc()
	metrics.ProviderRequestDuration.WithLabelValues("complete").Observe(duration.Seconds())

	return resp.Choices[0].Message.Content, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (p *Provider) HealthCheck(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// parseAPIError extracts a human-readable error from the API response.
// All errors are wrapped with domain.ErrProviderUnavailable so callers can
// branch on the degradation path with errors.Is.
func parseAPIError(op string, err error) error {
	wrap := domain.ErrProviderUnavailable

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail != "" {
			return fmt.Errorf("%s API error %d: %s: %w", op, reqErr.HTTPStatusCode, detail, wrap)
		}
		return fmt.Errorf("%s API error %d: %s: %w", op, reqErr.HTTPStatusCode, string(reqErr.Body), wrap)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s API error %d: %s: %w", op, apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}

	return fmt.Errorf("%s request failed: %w", op, wrap)
}

// extractDetail extracts the "detail" field from a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
