package llm

import (
	"context"
)

// EmbeddingClient computes embedding vectors through a remote provider.
// Use this interface for dependency injection to enable mocking in tests.
type EmbeddingClient interface {
	// CreateEmbeddings returns one vector per input, in input order.
	CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// Ensure Client implements EmbeddingClient at compile time.
var _ EmbeddingClient = (*Client)(nil)
