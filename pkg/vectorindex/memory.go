package vectorindex

import (
	"context"
	"math"

	"go.uber.org/zap"
)

func init() {
	RegisterScorer("memory", func(logger *zap.Logger) (Scorer, error) {
		return MemoryScorer{}, nil
	})
}

// MemoryScorer computes cosine similarity in process.
type MemoryScorer struct{}

func (MemoryScorer) Name() string { return "memory" }
func (MemoryScorer) Close() error { return nil }

// Score never fails except on cancellation.
func (MemoryScorer) Score(ctx context.Context, query []float32, vectors [][]float32) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scores := make([]float64, len(vectors))
	for i, v := range vectors {
		scores[i] = CosineSimilarity(query, v)
	}
	return scores, nil
}

// CosineSimilarity returns 0 for mismatched lengths or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
