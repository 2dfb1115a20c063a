// Package ingest implements the asynchronous document ingestion pipeline.
// Accepted uploads move through the lifecycle UPLOADED → PROCESSING →
// READY/FAILED; the pipeline resolves the raw payload, extracts its text,
// chunks it, embeds the chunks, and upserts the results into the vector
// index. Every processing error is absorbed into the FAILED state rather
// than surfaced to the uploader, who has long since received their 202.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerpeak/advisorkb/internal/chunker"
	"github.com/ledgerpeak/advisorkb/internal/extract"
	"github.com/ledgerpeak/advisorkb/internal/knowledge"
	"github.com/ledgerpeak/advisorkb/internal/logging"
	"github.com/ledgerpeak/advisorkb/internal/storage"
	"github.com/ledgerpeak/advisorkb/internal/store"
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per document chunk.
	// Defaults to chunker.DefaultChunkSize if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters to overlap between
	// consecutive chunks. Defaults to chunker.DefaultOverlap if zero.
	ChunkOverlap int
}

// Pipeline orchestrates the resolve → extract → chunk → embed → upsert flow
// for a single document.
type Pipeline struct {
	docs      store.DocumentStore
	index     store.VectorIndex
	blobs     storage.BlobStore
	extractor extract.Extractor
	embedder  knowledge.Embedder
	cfg       *Config

	// metrics are optional outcome hooks; nil disables reporting.
	metrics Metrics
}

// Metrics receives ingestion outcomes for observability. Implementations
// must be safe for concurrent use.
type Metrics interface {
	ObserveIngest(outcome string, chunks int, elapsed time.Duration)
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(docs store.DocumentStore, index store.VectorIndex, blobs storage.BlobStore,
	extractor extract.Extractor, embedder knowledge.Embedder, cfg *Config) (*Pipeline, error) {
	if docs == nil {
		return nil, fmt.Errorf("ingest: document store must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("ingest: vector index must not be nil")
	}
	if blobs == nil {
		return nil, fmt.Errorf("ingest: blob store must not be nil")
	}
	if extractor == nil {
		extractor = extract.NewTextExtractor()
	}
	if embedder == nil {
		return nil, fmt.Errorf("ingest: embedder must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunker.DefaultChunkSize
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = chunker.DefaultOverlap
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}

	return &Pipeline{
		docs:      docs,
		index:     index,
		blobs:     blobs,
		extractor: extractor,
		embedder:  embedder,
		cfg:       cfg,
	}, nil
}

// SetMetrics installs an outcome observer. Must be called before Process.
func (p *Pipeline) SetMetrics(m Metrics) { p.metrics = m }

// Process runs the full ingestion flow for one document. It never returns a
// processing error to the caller: failures mark the document FAILED and are
// logged. The returned error is reserved for infrastructure faults where even
// the FAILED transition could not be recorded.
func (p *Pipeline) Process(ctx context.Context, documentID string) error {
	log := logging.FromContext(ctx).With("document_id", documentID)
	started := time.Now()

	doc, err := p.docs.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		// Deleted between accept and pickup. Nothing to do.
		log.Debug("document gone before processing")
		return nil
	}
	if err != nil {
		return fmt.Errorf("ingest: load document: %w", err)
	}
	if doc.Status.Terminal() {
		log.Debug("document already terminal", "status", doc.Status)
		return nil
	}

	if err := p.docs.SetStatus(ctx, documentID, knowledge.StatusProcessing); err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrTerminalStatus) {
			return nil
		}
		return fmt.Errorf("ingest: mark processing: %w", err)
	}

	chunks, err := p.run(ctx, doc)
	if err != nil {
		log.Error("ingestion failed", "error", err)
		p.fail(ctx, documentID, log)
		p.observe("failed", 0, started)
		return nil
	}

	if err := p.docs.SetStatus(ctx, documentID, knowledge.StatusReady); err != nil {
		log.Error("could not mark document ready", "error", err)
		p.observe("failed", len(chunks), started)
		return nil
	}

	log.Info("document ingested", "chunks", len(chunks), "elapsed", time.Since(started))
	p.observe("ready", len(chunks), started)
	return nil
}

// run performs the fallible middle of the pipeline and returns the upserted
// chunks.
func (p *Pipeline) run(ctx context.Context, doc *knowledge.Document) ([]knowledge.Chunk, error) {
	payload, err := p.blobs.Open(ctx, doc.SourceLocator)
	if err != nil {
		return nil, fmt.Errorf("resolve payload: %w", err)
	}
	defer payload.Close()

	text, err := p.extractor.Extract(payload, doc.MIMEHint)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	if text == "" {
		return nil, fmt.Errorf("no extractable text")
	}

	pieces, err := chunker.Split(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("chunk text: %w", err)
	}
	if len(pieces) == 0 {
		return nil, fmt.Errorf("no extractable text")
	}

	vectors, err := p.embedder.Embed(ctx, pieces)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(pieces) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(pieces))
	}

	chunks := make([]knowledge.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, knowledge.Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Text:       piece,
			Index:      i,
			Vector:     vectors[i],
		})
	}

	if err := p.index.Upsert(ctx, doc, chunks); err != nil {
		return nil, fmt.Errorf("upsert chunks: %w", err)
	}
	return chunks, nil
}

// fail transitions the document to FAILED, best effort. Once the document is
// terminal or gone there is nothing left to record.
func (p *Pipeline) fail(ctx context.Context, documentID string, log *slog.Logger) {
	err := p.docs.SetStatus(ctx, documentID, knowledge.StatusFailed)
	if err != nil && !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrTerminalStatus) {
		log.Error("could not mark document failed", "error", err)
	}
}

func (p *Pipeline) observe(outcome string, chunks int, started time.Time) {
	if p.metrics != nil {
		p.metrics.ObserveIngest(outcome, chunks, time.Since(started))
	}
}
