package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// LexicalName is the space name of the lexical embedder.
const LexicalName = "lexical"

// DefaultLexicalDimensions is used when no dimension is configured.
const DefaultLexicalDimensions = 256

// Weight of character trigrams relative to whole terms. Trigrams let
// abbreviations such as "qty" land near "quantity".
const trigramWeight = 0.35

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "me": true, "show": true, "list": true,
	"give": true, "get": true, "all": true, "of": true, "for": true, "in": true,
	"on": true, "with": true, "and": true, "or": true, "to": true, "from": true,
	"what": true, "which": true, "how": true, "is": true, "are": true,
	"please": true, "find": true, "any": true, "our": true, "my": true,
	"there": true, "that": true, "this": true, "do": true, "we": true,
	"have": true, "by": true, "per": true,
}

// Lexical is a deterministic feature-hashing embedder. Terms are lower-cased,
// singularized and hashed with FNV-1a into a fixed number of buckets, with a
// sign bit to reduce collision bias.
type Lexical struct {
	dims int
}

// NewLexical returns a lexical embedder producing dims-length vectors.
func NewLexical(dims int) *Lexical {
	if dims <= 0 {
		dims = DefaultLexicalDimensions
	}
	return &Lexical{dims: dims}
}

func (l *Lexical) Name() string    { return LexicalName }
func (l *Lexical) Dimensions() int { return l.dims }

// Embed never fails; ctx is only checked before starting.
func (l *Lexical) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = l.Vector(t)
	}
	return out, nil
}

// Vector embeds a single text.
func (l *Lexical) Vector(text string) []float32 {
	v := make([]float32, l.dims)
	for _, term := range Terms(text) {
		l.add(v, term, 1)
		if len(term) < 3 {
			continue
		}
		padded := "#" + term + "#"
		for i := 0; i+3 <= len(padded); i++ {
			l.add(v, "3:"+padded[i:i+3], trigramWeight)
		}
	}
	Normalize(v)
	return v
}

func (l *Lexical) add(v []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := sum % uint64(l.dims)
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}

// Terms splits text into normalized content terms: lower-cased, split on
// anything that is not a letter or digit (underscores included), stopwords
// removed and plurals singularized.
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if stopwords[f] {
			continue
		}
		terms = append(terms, NormalizeTerm(f))
	}
	return terms
}

// NormalizeTerm lower-cases and singularizes a single word.
func NormalizeTerm(word string) string {
	word = strings.ToLower(word)
	if len(word) <= 3 {
		// Short tokens are mostly abbreviations (qty, sku, po); leave them.
		return word
	}
	return strings.ToLower(inflection.Singular(word))
}

// IsStopword reports whether the lower-cased word carries no meaning for
// ranking.
func IsStopword(word string) bool {
	return stopwords[strings.ToLower(word)]
}
