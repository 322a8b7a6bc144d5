package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/llm"
	"github.com/ekaya-inc/ekaya-nlq/pkg/retry"
)

// RemoteConfig tunes the remote embedder.
type RemoteConfig struct {
	// BatchSize caps the inputs per request. Larger calls are split and sent
	// one after another.
	BatchSize int
	// Dimensions, when set, is enforced on every returned vector.
	Dimensions int
	// Retry controls backoff for transient provider errors.
	Retry *retry.Config
}

// Remote embeds through an OpenAI-compatible endpoint. Calls pass through a
// circuit breaker, and transient failures are retried with backoff.
type Remote struct {
	client  llm.EmbeddingClient
	breaker *llm.CircuitBreaker
	cfg     RemoteConfig
	logger  *zap.Logger
}

// NewRemote wraps client. A nil breaker gets the default configuration.
func NewRemote(client llm.EmbeddingClient, breaker *llm.CircuitBreaker, cfg RemoteConfig, logger *zap.Logger) *Remote {
	if breaker == nil {
		breaker = llm.NewCircuitBreaker(llm.DefaultCircuitBreakerConfig())
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultConfig()
	}
	return &Remote{
		client:  client,
		breaker: breaker,
		cfg:     cfg,
		logger:  logger.Named("remote-embedder"),
	}
}

func (r *Remote) Name() string    { return "openai:" + r.client.GetModel() }
func (r *Remote) Dimensions() int { return r.cfg.Dimensions }

// Breaker exposes the circuit breaker for health reporting.
func (r *Remote) Breaker() *llm.CircuitBreaker { return r.breaker }

// Embed returns one vector per text or an error; it never returns a partial
// result.
func (r *Remote) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(texts))
		vectors, err := r.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (r *Remote) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := retry.DoWithResult(ctx, r.cfg.Retry, func() ([][]float32, error) {
		var vectors [][]float32
		err := r.breaker.Do(func() error {
			var err error
			vectors, err = r.client.CreateEmbeddings(ctx, texts)
			return err
		})
		return vectors, err
	})
	if err != nil {
		return nil, fmt.Errorf("embed %d texts: %w", len(texts), err)
	}

	for i, v := range vectors {
		if r.cfg.Dimensions > 0 && len(v) != r.cfg.Dimensions {
			return nil, llm.NewError(llm.ErrorTypeResponse,
				fmt.Sprintf("vector %d has %d dimensions, expected %d", i, len(v), r.cfg.Dimensions), false, nil)
		}
		Normalize(v)
	}

	r.logger.Debug("Embedded batch", zap.Int("texts", len(texts)))
	return vectors, nil
}
