// Package embedding turns table descriptions and questions into vectors.
//
// Two providers exist: Lexical, an in-process feature-hashing embedder that
// needs no network, and Remote, which calls an OpenAI-compatible endpoint.
// Every stored vector is stamped with the Name of the embedder that produced
// it, so vectors from different providers are never compared.
package embedding

import (
	"context"
	"errors"
	"math"
)

// ErrUnknownSpace reports a stored vector whose embedder is not configured.
var ErrUnknownSpace = errors.New("unknown embedding space")

// Embedder computes one vector per input text.
type Embedder interface {
	// Embed returns one vector per text, in input order. Returned vectors
	// are shared and must not be modified.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Name identifies the vector space, e.g. "lexical" or
	// "openai:text-embedding-3-small".
	Name() string

	// Dimensions is the vector length, or 0 when the provider decides.
	Dimensions() int
}

// Set holds the configured primary embedder and the lexical fallback.
type Set struct {
	primary Embedder
	lexical Embedder
}

// NewSet builds a set. primary may be the lexical embedder itself.
func NewSet(primary, lexical Embedder) *Set {
	if primary == nil {
		primary = lexical
	}
	return &Set{primary: primary, lexical: lexical}
}

// Primary returns the configured embedder.
func (s *Set) Primary() Embedder { return s.primary }

// Lexical returns the in-process fallback embedder.
func (s *Set) Lexical() Embedder { return s.lexical }

// Lookup returns the embedder whose Name is space.
func (s *Set) Lookup(space string) (Embedder, bool) {
	switch space {
	case s.primary.Name():
		return s.primary, true
	case s.lexical.Name():
		return s.lexical, true
	}
	return nil, false
}

// Normalize scales v to unit length in place. Zero vectors are left alone.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}
