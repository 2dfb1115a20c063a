package commands

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ledgerpeak/advisorkb/internal/embedder"
	"github.com/ledgerpeak/advisorkb/internal/ingest"
	"github.com/ledgerpeak/advisorkb/internal/knowledge"
	"github.com/ledgerpeak/advisorkb/internal/logging"
	"github.com/ledgerpeak/advisorkb/internal/storage"
	"github.com/ledgerpeak/advisorkb/internal/store"
)

// NewIngestCmd constructs the `advisorkb ingest` command, which ingests
// local files into the knowledge base without going through the HTTP API.
func NewIngestCmd() *cobra.Command {
	var scope string
	var tenantID string
	var customerID string
	var packID string
	var title string

	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Ingest local files into the knowledge base",
		Long: `Chunk, embed, and index local files into the scoped knowledge base.

Each file becomes one document. The visibility scope decides who can
retrieve its chunks later:

  ORG_PACK   specialist pack content, requires --pack
  TENANT     tenant-private knowledge, requires --tenant
  CUSTOMER   customer-private context, requires --tenant and --customer

Ingestion runs synchronously; the command exits non-zero if any file
fails to reach READY.

Examples:
  advisorkb ingest --scope TENANT --tenant acme notes/onboarding.md
  advisorkb ingest --scope ORG_PACK --pack uk-payroll-2026 packs/*.txt
  advisorkb ingest --scope CUSTOMER --tenant acme --customer cust-17 letters/q2.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
			}
			log.Info("embedder initialised",
				slog.String("provider", getEnvOrDefault("EMBEDDING_PROVIDER", "stub")))

			docs, err := openDocumentStore(log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = docs.Close() }()

			index, closeIndex, err := openVectorIndex(ctx, log, docs)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer closeIndex()

			dir, err := storageDir()
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			blobs, err := storage.NewLocalStore(dir)
			if err != nil {
				return fmt.Errorf("ingest: failed to open blob store: %w", err)
			}

			pipeline, err := ingest.NewPipeline(docs, index, blobs, nil, emb, ingestConfigFromEnv())
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			failed := 0
			for _, path := range args {
				doc, err := ingestFile(ctx, pipeline, blobs, docs, path, scope, tenantID, customerID, packID, title)
				if err != nil {
					log.Error("ingestion failed", slog.String("file", path), slog.Any("error", err))
					failed++
					continue
				}
				log.Info("document ready",
					slog.String("file", path),
					slog.String("id", doc.ID),
					slog.String("status", string(doc.Status)),
				)
			}

			if failed > 0 {
				return fmt.Errorf("ingest: %d of %d file(s) failed", failed, len(args))
			}
			log.Info("ingestion complete", slog.Int("files", len(args)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&scope, "scope", "s", string(knowledge.ScopeTenant), "Visibility scope (ORG_PACK, TENANT, CUSTOMER)")
	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Owning tenant identifier")
	cmd.Flags().StringVarP(&customerID, "customer", "c", "", "Customer identifier (CUSTOMER scope only)")
	cmd.Flags().StringVar(&packID, "pack", "", "Specialist pack identifier (ORG_PACK scope only)")
	cmd.Flags().StringVar(&title, "title", "", "Document title (defaults to the file name)")

	return cmd
}

// ingestFile stores one local file as a document and runs the pipeline on it
// synchronously, returning the document in its terminal state.
func ingestFile(ctx context.Context, pipeline *ingest.Pipeline, blobs storage.BlobStore,
	docs store.DocumentStore, path, scope, tenantID, customerID, packID, title string) (*knowledge.Document, error) {

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	docTitle := title
	if docTitle == "" {
		docTitle = filepath.Base(path)
	}

	doc := &knowledge.Document{
		ID:         uuid.NewString(),
		Title:      docTitle,
		Scope:      knowledge.Scope(strings.ToUpper(scope)),
		TenantID:   tenantID,
		CustomerID: customerID,
		PackID:     packID,
		MIMEHint:   mime.TypeByExtension(filepath.Ext(path)),
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	locator, err := blobs.Store(ctx, doc.ID+"-"+filepath.Base(path), f)
	if err != nil {
		return nil, fmt.Errorf("store payload: %w", err)
	}
	doc.SourceLocator = locator

	if err := docs.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	if err := pipeline.Process(ctx, doc.ID); err != nil {
		return nil, err
	}

	final, err := docs.GetDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if final.Status != knowledge.StatusReady {
		return nil, fmt.Errorf("document %s ended in status %s", doc.ID, final.Status)
	}
	return final, nil
}
