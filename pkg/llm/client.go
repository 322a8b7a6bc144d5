// Package llm provides the OpenAI-compatible embedding client together with
// the resilience pieces around it: error classification, a circuit breaker
// and a bounded worker pool for batch calls.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// DefaultEmbeddingModel is used when Config.Model is empty.
const DefaultEmbeddingModel = "text-embedding-3-small"

// Client calls an OpenAI-compatible /embeddings endpoint.
type Client struct {
	client     *openai.Client
	endpoint   string
	model      string
	dimensions int
	logger     *zap.Logger
}

// Config holds configuration for creating an embedding client.
type Config struct {
	Endpoint   string // Base URL, e.g., "https://api.openai.com/v1"
	Model      string // Embedding model name
	APIKey     string // Optional for local endpoints
	Dimensions int    // Requested vector size; 0 keeps the model default
	Timeout    time.Duration
}

// NewClient creates a new OpenAI-compatible embedding client.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")
	if cfg.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		client:     openai.NewClientWithConfig(clientConfig),
		endpoint:   cfg.Endpoint,
		model:      model,
		dimensions: cfg.Dimensions,
		logger:     logger.Named("embeddings"),
	}, nil
}

// CreateEmbeddings returns one vector per input, in input order.
func (c *Client) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	start := time.Now()
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(c.model),
		Input:      inputs,
		Dimensions: c.dimensions,
	})
	if err != nil {
		c.logger.Warn("Embedding request failed",
			zap.Int("inputs", len(inputs)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		classified := ClassifyError(err)
		classified.Model = c.model
		classified.Endpoint = c.endpoint
		return nil, classified
	}

	if len(resp.Data) != len(inputs) {
		return nil, NewError(ErrorTypeResponse,
			fmt.Sprintf("expected %d embeddings, got %d", len(inputs), len(resp.Data)), false, nil)
	}

	// Servers are allowed to return data out of order; Index is authoritative.
	vectors := make([][]float32, len(inputs))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(inputs) || len(d.Embedding) == 0 {
			return nil, NewError(ErrorTypeResponse, fmt.Sprintf("malformed embedding at index %d", d.Index), false, nil)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, NewError(ErrorTypeResponse, fmt.Sprintf("missing embedding for input %d", i), false, nil)
		}
	}

	c.logger.Debug("Embedding request completed",
		zap.Int("inputs", len(inputs)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Duration("elapsed", time.Since(start)))

	return vectors, nil
}

// GetModel returns the configured model name.
func (c *Client) GetModel() string {
	return c.model
}

// GetEndpoint returns the configured endpoint.
func (c *Client) GetEndpoint() string {
	return c.endpoint
}
