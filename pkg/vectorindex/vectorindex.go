// Package vectorindex scores candidate tables against a question by vector
// similarity. The scoring backend is pluggable: "memory" computes cosine
// similarity in Go, "duckdb" (built with the duckdb tag) pushes the work to
// an embedded DuckDB through list_cosine_similarity.
package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/embedding"
)

// Candidate is a stored vector to compare against.
type Candidate struct {
	ID     string
	Space  string // embedder Name the vector came from
	Vector []float32
}

// Scored is one candidate's similarity in [-1, 1].
type Scored struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// SimilarityService ranks candidates by similarity to text. Results keep
// candidate order; sorting is left to the caller.
type SimilarityService interface {
	Rank(ctx context.Context, text string, candidates []Candidate) ([]Scored, error)
}

// Scorer computes similarities between one query vector and candidate
// vectors of the same space.
type Scorer interface {
	Score(ctx context.Context, query []float32, vectors [][]float32) ([]float64, error)
	Name() string
	Close() error
}

// ScorerFactory builds a scorer.
type ScorerFactory func(logger *zap.Logger) (Scorer, error)

var (
	scorersMu sync.RWMutex
	scorers   = make(map[string]ScorerFactory)
)

// RegisterScorer is called by each backend's init() function.
func RegisterScorer(kind string, factory ScorerFactory) {
	scorersMu.Lock()
	defer scorersMu.Unlock()
	scorers[kind] = factory
}

// NewScorer creates a scorer of the given kind.
func NewScorer(kind string, logger *zap.Logger) (Scorer, error) {
	scorersMu.RLock()
	factory, ok := scorers[kind]
	scorersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported vector index: %s (not compiled in)", kind)
	}
	return factory(logger)
}

// RegisteredScorers lists the compiled-in backends.
func RegisteredScorers() []string {
	scorersMu.RLock()
	defer scorersMu.RUnlock()
	kinds := make([]string, 0, len(scorers))
	for k := range scorers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Index embeds the question once per vector space present among the
// candidates and scores each group with the scorer.
type Index struct {
	embedders *embedding.Set
	scorer    Scorer
	logger    *zap.Logger
}

// New creates an index.
func New(embedders *embedding.Set, scorer Scorer, logger *zap.Logger) *Index {
	return &Index{
		embedders: embedders,
		scorer:    scorer,
		logger:    logger.Named("vectorindex"),
	}
}

// Rank implements SimilarityService. Candidates whose space is not
// configured, or whose vector is empty, score 0.
func (ix *Index) Rank(ctx context.Context, text string, candidates []Candidate) ([]Scored, error) {
	out := make([]Scored, len(candidates))
	groups := make(map[string][]int)
	var spaces []string

	for i, c := range candidates {
		out[i] = Scored{ID: c.ID}
		if len(c.Vector) == 0 {
			continue
		}
		if _, ok := groups[c.Space]; !ok {
			spaces = append(spaces, c.Space)
		}
		groups[c.Space] = append(groups[c.Space], i)
	}

	for _, space := range spaces {
		embedder, ok := ix.embedders.Lookup(space)
		if !ok {
			ix.logger.Debug("Skipping candidates from unconfigured embedding space",
				zap.String("space", space),
				zap.Int("candidates", len(groups[space])))
			continue
		}

		vectors, err := embedder.Embed(ctx, []string{text})
		if err != nil {
			return nil, fmt.Errorf("embed question in %s: %w", space, err)
		}

		idx := groups[space]
		batch := make([][]float32, len(idx))
		for j, i := range idx {
			batch[j] = candidates[i].Vector
		}

		scores, err := ix.scorer.Score(ctx, vectors[0], batch)
		if err != nil {
			return nil, fmt.Errorf("%s scorer: %w", ix.scorer.Name(), err)
		}
		for j, i := range idx {
			out[i].Score = scores[j]
		}
	}

	return out, nil
}

// Close releases the scorer.
func (ix *Index) Close() error {
	return ix.scorer.Close()
}

// Ensure Index implements SimilarityService at compile time.
var _ SimilarityService = (*Index)(nil)
