// Package knowledge defines the core domain model of the advisory knowledge
// pipeline: documents with a three-tier visibility scope, their embedded
// chunks, retrieval hits, and the visibility filter that bounds every search.
// Concrete stores and collaborators (SQLite, Qdrant, embedding backends)
// depend on this package, never the other way around.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Scope is the visibility tier of a document.
type Scope string

const (
	// ScopeOrgPack is specialist knowledge shared across all tenants under a
	// named topic pack.
	ScopeOrgPack Scope = "ORG_PACK"
	// ScopeTenant is knowledge private to a single tenant.
	ScopeTenant Scope = "TENANT"
	// ScopeCustomer is knowledge private to one customer of one tenant.
	ScopeCustomer Scope = "CUSTOMER"
)

// Valid reports whether s is one of the three known scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeOrgPack, ScopeTenant, ScopeCustomer:
		return true
	}
	return false
}

// Status is the ingestion lifecycle state of a document.
type Status string

const (
	// StatusUploaded means the document row exists but ingestion has not started.
	StatusUploaded Status = "UPLOADED"
	// StatusProcessing means ingestion is in flight.
	StatusProcessing Status = "PROCESSING"
	// StatusReady means chunks and vectors are persisted and searchable.
	StatusReady Status = "READY"
	// StatusFailed means ingestion ended without usable chunks.
	StatusFailed Status = "FAILED"
)

// Terminal reports whether st is a terminal lifecycle state. A document never
// leaves a terminal state; re-ingestion requires a new upload.
func (st Status) Terminal() bool {
	return st == StatusReady || st == StatusFailed
}

// ErrInvalidScope is returned when a document's scope/ID combination violates
// the visibility invariant (exactly one of pack_id, customer_id set,
// consistent with the scope).
var ErrInvalidScope = errors.New("knowledge: scope and owner IDs are inconsistent")

// Document is the durable record of an uploaded file. Its Scope, TenantID,
// CustomerID, and PackID together form the visibility invariant enforced by
// Validate before any row is created.
type Document struct {
	// ID is the unique document identifier (UUID).
	ID string

	// Title is the caller-declared display title.
	Title string

	// Scope is the visibility tier of this document.
	Scope Scope

	// TenantID is the owning tenant. Empty only for ORG_PACK content that no
	// tenant contributed.
	TenantID string

	// CustomerID is set iff Scope is CUSTOMER.
	CustomerID string

	// PackID is set iff Scope is ORG_PACK.
	PackID string

	// Status is the ingestion lifecycle state.
	Status Status

	// SourceLocator is the opaque pointer to the raw bytes in blob storage.
	SourceLocator string

	// MIMEHint is the declared content type of the uploaded file, passed to
	// the text extractor.
	MIMEHint string

	// CreatedAt is when the document row was created.
	CreatedAt time.Time
}

// Validate checks the visibility invariant:
//
//	ORG_PACK  => pack_id set, customer_id empty
//	TENANT    => tenant_id set, pack_id and customer_id empty
//	CUSTOMER  => tenant_id and customer_id set, pack_id empty
//
// A violation must never reach ingestion or retrieval.
func (d *Document) Validate() error {
	if !d.Scope.Valid() {
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidScope, d.Scope)
	}
	switch d.Scope {
	case ScopeOrgPack:
		if d.PackID == "" {
			return fmt.Errorf("%w: ORG_PACK requires pack_id", ErrInvalidScope)
		}
		if d.CustomerID != "" {
			return fmt.Errorf("%w: ORG_PACK forbids customer_id", ErrInvalidScope)
		}
	case ScopeTenant:
		if d.TenantID == "" {
			return fmt.Errorf("%w: TENANT requires tenant_id", ErrInvalidScope)
		}
		if d.PackID != "" || d.CustomerID != "" {
			return fmt.Errorf("%w: TENANT forbids pack_id and customer_id", ErrInvalidScope)
		}
	case ScopeCustomer:
		if d.TenantID == "" || d.CustomerID == "" {
			return fmt.Errorf("%w: CUSTOMER requires tenant_id and customer_id", ErrInvalidScope)
		}
		if d.PackID != "" {
			return fmt.Errorf("%w: CUSTOMER forbids pack_id", ErrInvalidScope)
		}
	}
	return nil
}

// Chunk is a bounded substring of a parsed document together with its
// embedding. Chunks are immutable after creation and deleted with their
// owning document.
type Chunk struct {
	// ID is the unique chunk identifier (UUID).
	ID string

	// DocumentID is the owning document.
	DocumentID string

	// Text is a verbatim substring of the extracted document text.
	Text string

	// Index is the zero-based position of this chunk within its document.
	Index int

	// Vector is the fixed-dimension embedding of Text.
	Vector []float32
}

// Hit is a transient pairing of a chunk with its owning document's scope and
// title, produced by a retrieval query. Hits are ordered by ascending
// Distance; smaller is more relevant.
type Hit struct {
	// ChunkID identifies the matched chunk.
	ChunkID string

	// DocumentID is the owning document.
	DocumentID string

	// Scope is the owning document's visibility tier.
	Scope Scope

	// Title is the owning document's title.
	Title string

	// Text is the chunk text.
	Text string

	// Index is the chunk's position within its document.
	Index int

	// Distance is the L2 distance between the query vector and the chunk
	// vector under the active filter.
	Distance float32
}

// previewLen bounds the citation text preview.
const previewLen = 200

// Citation is the caller-facing reference for one retrieval hit, exposed so
// the caller can render citations without re-querying the store.
type Citation struct {
	// DocumentID is the cited document.
	DocumentID string `json:"document_id"`
	// Scope is the cited document's visibility tier.
	Scope Scope `json:"scope"`
	// Title is the cited document's title.
	Title string `json:"title"`
	// TextPreview is the leading part of the chunk text.
	TextPreview string `json:"text_preview"`
	// ChunkIndex is the chunk's position within its document.
	ChunkIndex int `json:"chunk_index"`
}

// Cite derives the citation for h, truncating the chunk text to a preview.
func (h Hit) Cite() Citation {
	preview := h.Text
	if len(preview) > previewLen {
		preview = preview[:previewLen] + "..."
	}
	return Citation{
		DocumentID:  h.DocumentID,
		Scope:       h.Scope,
		Title:       h.Title,
		TextPreview: preview,
		ChunkIndex:  h.Index,
	}
}

// SearchFilter bounds a retrieval query to the documents the caller may see.
// The clauses are independently sufficient and combined by OR:
//
//	CUSTOMER documents whose customer_id is CustomerID,
//	TENANT documents whose tenant_id is TenantID,
//	ORG_PACK documents whose pack_id is in PackIDs.
//
// An empty field omits its clause entirely. A filter with no clauses matches
// nothing — searches return empty results, not an error.
type SearchFilter struct {
	// TenantID enables the TENANT clause.
	TenantID string
	// CustomerID enables the CUSTOMER clause.
	CustomerID string
	// PackIDs enables the ORG_PACK clause when non-empty.
	PackIDs []string
}

// Empty reports whether the filter has no clauses at all.
func (f SearchFilter) Empty() bool {
	return f.TenantID == "" && f.CustomerID == "" && len(f.PackIDs) == 0
}

// Embedder converts text into fixed-dimension dense vectors. The same
// embedder instance (same model) must be used at ingestion and query time for
// a given corpus — mixing models corrupts ranking silently.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedOne converts a single text into its embedding.
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}
