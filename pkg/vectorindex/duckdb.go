//go:build duckdb || all_adapters

package vectorindex

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
	"go.uber.org/zap"
)

func init() {
	RegisterScorer("duckdb", func(logger *zap.Logger) (Scorer, error) {
		return NewDuckDBScorer(logger)
	})
}

// DuckDBScorer scores vectors with DuckDB's list_cosine_similarity on an
// in-memory database. No table is kept: each call scores a VALUES list.
type DuckDBScorer struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDuckDBScorer opens an in-memory DuckDB.
func NewDuckDBScorer(logger *zap.Logger) (*DuckDBScorer, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}
	return &DuckDBScorer{db: db, logger: logger.Named("duckdb-scorer")}, nil
}

func (s *DuckDBScorer) Name() string { return "duckdb" }
func (s *DuckDBScorer) Close() error { return s.db.Close() }

// Score returns one similarity per vector. Vectors DuckDB would reject
// (length mismatch, zero norm, non-finite values) score 0 without a round trip.
func (s *DuckDBScorer) Score(ctx context.Context, query []float32, vectors [][]float32) ([]float64, error) {
	scores := make([]float64, len(vectors))
	if !scorable(query, len(query)) {
		return scores, nil
	}

	var rows []string
	for i, v := range vectors {
		if !scorable(v, len(query)) {
			continue
		}
		rows = append(rows, fmt.Sprintf("(%d, %s)", i, floatList(v)))
	}
	if len(rows) == 0 {
		return scores, nil
	}

	// Every interpolated value is an integer or a formatted float.
	q := fmt.Sprintf(
		"SELECT i, list_cosine_similarity(v, %s) FROM (VALUES %s) AS c(i, v)",
		floatList(query), strings.Join(rows, ", "),
	)

	result, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("score vectors: %w", err)
	}
	defer result.Close()

	for result.Next() {
		var i int
		var score sql.NullFloat64
		if err := result.Scan(&i, &score); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		if score.Valid && i >= 0 && i < len(scores) {
			scores[i] = score.Float64
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read scores: %w", err)
	}

	return scores, nil
}

func scorable(v []float32, dims int) bool {
	if len(v) == 0 || len(v) != dims {
		return false
	}
	nonZero := false
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		if x != 0 {
			nonZero = true
		}
	}
	return nonZero
}

func floatList(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	sb.WriteString("]::FLOAT[]")
	return sb.String()
}
