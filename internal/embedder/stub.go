package embedder

import (
	"context"
	"math/rand"
)

// DefaultStubDimensions is the vector size produced by the stub when none is
// configured, matching the OpenAI default so stub-built corpora can be
// searched with the same index configuration.
const DefaultStubDimensions = 1536

// Stub is a deterministic knowledge.Embedder for tests and offline
// development. The vector for a text is a pseudo-random sequence seeded by
// the text length, so identical inputs always embed identically and the
// embedding distances are stable across runs.
type Stub struct {
	// dimensions is the output vector size.
	dimensions int
}

// NewStub constructs a Stub producing vectors of the given dimension.
// A non-positive dimension falls back to DefaultStubDimensions.
func NewStub(dimensions int) *Stub {
	if dimensions <= 0 {
		dimensions = DefaultStubDimensions
	}
	return &Stub{dimensions: dimensions}
}

// Embed converts a batch of texts into deterministic embeddings.
func (s *Stub) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := s.EmbedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

// EmbedOne converts a single text into its deterministic embedding.
func (s *Stub) EmbedOne(_ context.Context, text string) ([]float32, error) {
	rng := rand.New(rand.NewSource(int64(len(text)))) //nolint:gosec // determinism is the point
	v := make([]float32, s.dimensions)
	for i := range v {
		v[i] = rng.Float32()
	}
	return v, nil
}
