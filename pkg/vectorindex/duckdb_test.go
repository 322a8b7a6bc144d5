//go:build duckdb || all_adapters

package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDuckDBScorer_MatchesMemory(t *testing.T) {
	scorer, err := NewScorer("duckdb", zap.NewNop())
	require.NoError(t, err)
	defer scorer.Close()

	query := []float32{0.6, 0.8, 0}
	vectors := [][]float32{
		{0.6, 0.8, 0},
		{0, 0, 1},
		{1, 0, 0},
		{0, 0, 0}, // zero norm
		{1, 0},    // wrong length
		{0.3, 0.4, 0},
	}

	got, err := scorer.Score(context.Background(), query, vectors)
	require.NoError(t, err)

	want, err := MemoryScorer{}.Score(context.Background(), query, vectors)
	require.NoError(t, err)

	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-5, "vector %d", i)
	}
}

func TestDuckDBScorer_Empty(t *testing.T) {
	scorer, err := NewDuckDBScorer(zap.NewNop())
	require.NoError(t, err)
	defer scorer.Close()

	got, err := scorer.Score(context.Background(), []float32{1, 0}, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
