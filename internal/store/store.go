// Package store provides the durable knowledge store for the advisory
// pipeline: document rows with their visibility scope and lifecycle status,
// and the vector index over their embedded chunks. The SQLite implementation
// is the document of record and doubles as an exact nearest-neighbor index;
// a Qdrant-backed index can replace the search side for large corpora.
package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/ledgerpeak/advisorkb/internal/knowledge"
)

// ErrNotFound is returned when a referenced document does not exist.
var ErrNotFound = errors.New("store: document not found")

// ErrTerminalStatus is returned by SetStatus when the document is already in
// a terminal state (READY or FAILED). Terminal states are never left without
// a new upload creating a new document.
var ErrTerminalStatus = errors.New("store: document status is terminal")

// DocumentStore persists and retrieves document rows. Implementations must
// be safe to call from multiple goroutines and must reject documents whose
// scope/ID combination violates the visibility invariant.
type DocumentStore interface {
	// CreateDocument validates and persists a new document row.
	CreateDocument(ctx context.Context, doc *knowledge.Document) error

	// GetDocument returns the document with the given ID, or ErrNotFound.
	GetDocument(ctx context.Context, id string) (*knowledge.Document, error)

	// ListDocuments returns documents matching the query, newest first.
	ListDocuments(ctx context.Context, q ListQuery) ([]knowledge.Document, error)

	// SetStatus updates the lifecycle status of a document. It returns
	// ErrTerminalStatus when the document is already READY or FAILED, and
	// ErrNotFound when it does not exist.
	SetStatus(ctx context.Context, id string, status knowledge.Status) error

	// DeleteDocument removes the document and, transitively, its chunks.
	DeleteDocument(ctx context.Context, id string) error
}

// ListQuery filters a document listing. Zero-valued fields are ignored.
type ListQuery struct {
	// TenantID restricts to one tenant's documents.
	TenantID string
	// Scope restricts to one visibility tier.
	Scope knowledge.Scope
	// Status restricts to one lifecycle state.
	Status knowledge.Status
	// Limit caps the result count; 0 means the default of 100.
	Limit int
}

// VectorIndex stores embedded chunks and answers filtered nearest-neighbor
// queries over them. Implementations must be safe to call from multiple
// goroutines and must apply the visibility filter inside the query itself,
// never by post-filtering results.
type VectorIndex interface {
	// Upsert persists the chunks of one document together with the document
	// metadata the search side needs (scope, owner IDs, title).
	Upsert(ctx context.Context, doc *knowledge.Document, chunks []knowledge.Chunk) error

	// Search returns up to limit hits for the query vector among chunks whose
	// document satisfies the filter, ordered by ascending L2 distance with
	// ties broken by chunk insertion order. An empty filter yields no hits.
	Search(ctx context.Context, queryVector []float32, filter knowledge.SearchFilter, limit int) ([]knowledge.Hit, error)

	// DeleteByDocument removes all chunks belonging to the given document.
	DeleteByDocument(ctx context.Context, documentID string) error

	// Close releases any resources held by the index.
	Close() error
}

// encodeVector serializes a float32 vector as a little-endian byte blob.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// decodeVector deserializes a little-endian byte blob into a float32 vector.
func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("store: vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// l2Distance returns the Euclidean distance between two vectors of equal
// dimension.
func l2Distance(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("store: vector dimension mismatch: %d vs %d", len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum)), nil
}
