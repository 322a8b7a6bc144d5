package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlq/pkg/embedding"
	"github.com/ekaya-inc/ekaya-nlq/pkg/models"
	"github.com/ekaya-inc/ekaya-nlq/pkg/vectorindex"
)

// RankerConfig tunes relevance ranking.
type RankerConfig struct {
	TopK int
	// SynonymWeight is added once per question term that resolves through
	// the synonym map to a column of the table.
	SynonymWeight float64
	// MentionWeight is scaled by the share of the table name's words that
	// appear in the question.
	MentionWeight float64
	// MinScore drops tables that are not plausibly related at all.
	MinScore float64
}

// DefaultRankerConfig returns the weights used in production.
func DefaultRankerConfig() RankerConfig {
	return RankerConfig{
		TopK:          5,
		SynonymWeight: 0.15,
		MentionWeight: 0.3,
		MinScore:      0.1,
	}
}

// RankedTable is one ranked candidate.
type RankedTable struct {
	Table        *models.TableSchema `json:"-"`
	Name         string              `json:"table"`
	Category     models.Category     `json:"category"`
	Similarity   float64             `json:"similarity"`
	Bias         float64             `json:"bias"`
	Score        float64             `json:"score"`
	MatchedTerms []string            `json:"matched_terms,omitempty"`
}

// Ranker orders catalog tables by relevance to a question.
type Ranker struct {
	index    vectorindex.SimilarityService
	synonyms *models.ColumnSynonymMap
	cfg      RankerConfig
	logger   *zap.Logger
}

// NewRanker creates a ranker.
func NewRanker(index vectorindex.SimilarityService, synonyms *models.ColumnSynonymMap, cfg RankerConfig, logger *zap.Logger) *Ranker {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultRankerConfig().TopK
	}
	return &Ranker{
		index:    index,
		synonyms: synonyms,
		cfg:      cfg,
		logger:   logger.Named("ranker"),
	}
}

// Rank scores every table of the snapshot.
func (r *Ranker) Rank(ctx context.Context, query string, hint models.Category, snapshot *models.CatalogSnapshot) ([]RankedTable, error) {
	return r.RankTables(ctx, query, hint, snapshot.Tables())
}

// RankTables scores only the given tables. The orchestrator uses it to rank
// within one category.
func (r *Ranker) RankTables(ctx context.Context, query string, hint models.Category, tables []*models.TableSchema) ([]RankedTable, error) {
	if len(tables) == 0 {
		return nil, nil
	}

	candidates := make([]vectorindex.Candidate, len(tables))
	for i, t := range tables {
		candidates[i] = vectorindex.Candidate{ID: t.QualifiedName(), Space: t.EmbeddingSpace, Vector: t.Embedding}
	}

	scored, err := r.index.Rank(ctx, query, candidates)
	if err != nil {
		return nil, fmt.Errorf("similarity lookup failed: %w", err)
	}

	// Scores are matched by ID; the index may reorder or omit candidates.
	similarity := make(map[string]float64, len(scored))
	for _, sc := range scored {
		similarity[sc.ID] = sc.Score
	}

	phrases := questionPhrases(query)
	terms := embedding.Terms(query)
	matchedSynonyms := r.matchSynonymTerms(phrases)

	ranked := make([]RankedTable, 0, len(tables))
	for _, t := range tables {
		rt := RankedTable{
			Table:      t,
			Name:       t.QualifiedName(),
			Category:   t.Category,
			Similarity: similarity[t.QualifiedName()],
		}

		for _, term := range matchedSynonyms {
			if _, ok := r.synonyms.Resolve(term, t); ok {
				rt.Bias += r.cfg.SynonymWeight
				rt.MatchedTerms = append(rt.MatchedTerms, term)
			}
		}
		rt.Bias += r.cfg.MentionWeight * mentionShare(t.Name, terms)

		rt.Score = rt.Similarity + rt.Bias
		if rt.Score < r.cfg.MinScore {
			continue
		}
		ranked = append(ranked, rt)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if am, bm := a.Category == hint, b.Category == hint; am != bm {
			return am
		}
		return a.Name < b.Name
	})

	if len(ranked) > r.cfg.TopK {
		ranked = ranked[:r.cfg.TopK]
	}

	if ce := r.logger.Check(zap.DebugLevel, "Ranked tables"); ce != nil {
		names := make([]string, len(ranked))
		for i, rt := range ranked {
			names[i] = fmt.Sprintf("%s=%.3f", rt.Name, rt.Score)
		}
		ce.Write(zap.Strings("ranked", names), zap.String("hint", string(hint)))
	}

	return ranked, nil
}

// matchSynonymTerms returns the synonym terms that occur as whole words in
// the question, longest first. A word claimed by a longer term is not
// matched again by a shorter one.
func (r *Ranker) matchSynonymTerms(phrases []string) []string {
	var matched []string
	claimed := make([]string, len(phrases))
	copy(claimed, phrases)

	for _, term := range r.synonyms.Terms() {
		needle := " " + term + " "
		for i, p := range claimed {
			if strings.Contains(p, needle) {
				matched = append(matched, term)
				claimed[i] = strings.Replace(p, needle, " ", 1)
				break
			}
		}
	}
	return matched
}

// questionPhrases returns the question as space-padded lower-case word
// sequences, once verbatim and once with every word singularized.
func questionPhrases(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	singular := make([]string, len(words))
	for i, w := range words {
		singular[i] = embedding.NormalizeTerm(w)
	}
	return []string{
		" " + strings.Join(words, " ") + " ",
		" " + strings.Join(singular, " ") + " ",
	}
}

// mentionShare is the fraction of the table name's words that occur among
// the question terms.
func mentionShare(tableName string, terms []string) float64 {
	parts := splitIdentifier(tableName)
	if len(parts) == 0 {
		return 0
	}
	have := make(map[string]bool, len(terms))
	for _, t := range terms {
		have[t] = true
	}
	hits := 0
	for _, p := range parts {
		if have[embedding.NormalizeTerm(p)] {
			hits++
		}
	}
	return float64(hits) / float64(len(parts))
}
