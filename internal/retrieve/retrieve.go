// Package retrieve implements scoped similarity search over the knowledge
// index. Every query carries a visibility filter derived from the caller's
// tenant, customer, and subscribed packs; the filter travels with the query
// down to the index, so retrieval can never widen a caller's visibility.
package retrieve

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerpeak/advisorkb/internal/knowledge"
	"github.com/ledgerpeak/advisorkb/internal/logging"
	"github.com/ledgerpeak/advisorkb/internal/store"
)

// DefaultLimit is the number of hits returned when the caller does not ask
// for a specific count.
const DefaultLimit = 5

// Query describes one retrieval request.
type Query struct {
	// Text is the natural-language query to embed and search with.
	Text string

	// Filter is the caller's visibility. An empty filter matches nothing.
	Filter knowledge.SearchFilter

	// Limit caps the number of hits; DefaultLimit when zero or negative.
	Limit int
}

// Retriever embeds queries and searches the vector index within the caller's
// visibility.
type Retriever struct {
	embedder knowledge.Embedder
	index    store.VectorIndex

	// observe is an optional latency hook; nil disables reporting.
	observe func(elapsed time.Duration)
}

// New constructs a Retriever from the provided dependencies.
func New(embedder knowledge.Embedder, index store.VectorIndex) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("retrieve: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("retrieve: vector index must not be nil")
	}
	return &Retriever{embedder: embedder, index: index}, nil
}

// SetObserver installs a latency observer. Must be called before Search.
func (r *Retriever) SetObserver(fn func(elapsed time.Duration)) { r.observe = fn }

// Search embeds the query text and returns the closest in-scope chunks,
// ordered by ascending distance. An empty filter returns no hits without
// calling the embedder. An embedding failure is returned to the caller so
// the chat layer can degrade explicitly instead of answering from nothing.
func (r *Retriever) Search(ctx context.Context, q Query) ([]knowledge.Hit, error) {
	if q.Filter.Empty() {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	started := time.Now()
	vector, err := r.embedder.EmbedOne(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("retrieve: embed query: %w", err)
	}

	hits, err := r.index.Search(ctx, vector, q.Filter, limit)
	if err != nil {
		return nil, fmt.Errorf("retrieve: search: %w", err)
	}

	elapsed := time.Since(started)
	if r.observe != nil {
		r.observe(elapsed)
	}
	logging.FromContext(ctx).Debug("retrieval complete",
		"hits", len(hits), "limit", limit, "elapsed", elapsed)
	return hits, nil
}
