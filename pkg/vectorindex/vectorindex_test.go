package vectorindex

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/embedding"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestNewScorer(t *testing.T) {
	s, err := NewScorer("memory", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Name())
	assert.Contains(t, RegisteredScorers(), "memory")

	_, err = NewScorer("faiss", zap.NewNop())
	assert.Error(t, err)
}

// failingEmbedder always errors, under a fixed space name.
type failingEmbedder struct{ name string }

func (f failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("provider down")
}
func (f failingEmbedder) Name() string    { return f.name }
func (f failingEmbedder) Dimensions() int { return 0 }

func TestIndex_Rank(t *testing.T) {
	lex := embedding.NewLexical(64)
	ix := New(embedding.NewSet(nil, lex), MemoryScorer{}, zap.NewNop())

	candidates := []Candidate{
		{ID: "public.orders", Space: embedding.LexicalName, Vector: lex.Vector("orders order id status order date customer id")},
		{ID: "public.inventory", Space: embedding.LexicalName, Vector: lex.Vector("inventory sku location id quantity on hand")},
		{ID: "public.legacy", Space: "openai:retired-model", Vector: []float32{1, 0}},
		{ID: "public.empty", Space: embedding.LexicalName},
	}

	scored, err := ix.Rank(context.Background(), "pending orders", candidates)
	require.NoError(t, err)
	require.Len(t, scored, 4)

	// Order follows the candidates.
	assert.Equal(t, "public.orders", scored[0].ID)
	assert.Greater(t, scored[0].Score, scored[1].Score)
	assert.Zero(t, scored[2].Score, "unknown space scores 0")
	assert.Zero(t, scored[3].Score, "missing vector scores 0")
}

func TestIndex_Rank_EmbedFailure(t *testing.T) {
	lex := embedding.NewLexical(8)
	primary := failingEmbedder{name: "openai:test"}
	ix := New(embedding.NewSet(primary, lex), MemoryScorer{}, zap.NewNop())

	_, err := ix.Rank(context.Background(), "orders", []Candidate{
		{ID: "public.orders", Space: "openai:test", Vector: []float32{1}},
	})
	assert.Error(t, err)
}

func TestIndex_Rank_NoCandidates(t *testing.T) {
	ix := New(embedding.NewSet(nil, embedding.NewLexical(8)), MemoryScorer{}, zap.NewNop())
	scored, err := ix.Rank(context.Background(), "orders", nil)
	require.NoError(t, err)
	assert.Empty(t, scored)
	assert.NoError(t, ix.Close())
}
