package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/ledgerpeak/advisorkb/internal/answer"
	"github.com/ledgerpeak/advisorkb/internal/embedder"
	"github.com/ledgerpeak/advisorkb/internal/ingest"
	"github.com/ledgerpeak/advisorkb/internal/logging"
	"github.com/ledgerpeak/advisorkb/internal/provider"
	"github.com/ledgerpeak/advisorkb/internal/retrieve"
	"github.com/ledgerpeak/advisorkb/internal/server"
	"github.com/ledgerpeak/advisorkb/internal/storage"
	"github.com/ledgerpeak/advisorkb/internal/store"
	"github.com/ledgerpeak/advisorkb/internal/tracing"
)

// NewServeCmd constructs the `advisorkb serve` command, which starts the
// HTTP server exposing the document and chat API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the AdvisorKB HTTP server",
		Long: `Start the AdvisorKB HTTP server.

The server exposes a REST API for document upload, ingestion status,
and scoped chat with citations. Uploaded documents are processed
asynchronously by a background worker pool.

Examples:
  advisorkb serve
  advisorkb serve --port 9090
  MODEL_PROVIDER=azure advisorkb serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("serve: failed to initialise embedder: %w", err)
			}

			docs, err := openDocumentStore(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = docs.Close() }()

			index, closeIndex, err := openVectorIndex(ctx, log, docs)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closeIndex()

			dir, err := storageDir()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			blobs, err := storage.NewLocalStore(dir)
			if err != nil {
				return fmt.Errorf("serve: failed to open blob store: %w", err)
			}
			log.Info("blob store ready", slog.String("dir", dir))

			pipeline, err := ingest.NewPipeline(docs, index, blobs, nil, emb, ingestConfigFromEnv())
			if err != nil {
				return fmt.Errorf("serve: failed to create pipeline: %w", err)
			}
			runner, err := ingest.NewRunner(pipeline, getEnvInt("INGEST_WORKERS", 0), ingest.DefaultTaskTimeout, log)
			if err != nil {
				return fmt.Errorf("serve: failed to create ingest runner: %w", err)
			}
			defer runner.Close()

			retriever, err := retrieve.New(emb, index)
			if err != nil {
				return fmt.Errorf("serve: failed to create retriever: %w", err)
			}

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", string(providerCfg.Backend)))

			generator, err := answer.NewGenerator(chatModel, docs, getEnvInt("CHAT_HISTORY_DEPTH", 0))
			if err != nil {
				return fmt.Errorf("serve: failed to create answer generator: %w", err)
			}

			pingers := []server.Pinger{docs}
			if qi, okQ := index.(*store.QdrantIndex); okQ {
				pingers = append(pingers, qi)
			}
			var hc provider.HealthCheckConfig
			if providerCfg.Backend == provider.BackendOllama {
				hc = providerCfg.Ollama
			}
			pingers = append(pingers, server.NewLLMPinger(chatModel, hc, string(providerCfg.Backend)))

			srv, err := server.New(server.Deps{
				Docs:      docs,
				Index:     index,
				Blobs:     blobs,
				Runner:    runner,
				Retriever: retriever,
				Generator: generator,
			}, &server.Config{
				Host:           host,
				Port:           port,
				MaxUploadBytes: int64(getEnvInt("SERVER_MAX_UPLOAD_BYTES", 0)),
				Logger:         log,
				Pingers:        pingers,
				RateLimit:      getEnvFloat("SERVER_RATE_LIMIT", 0),
				RateBurst:      getEnvInt("SERVER_RATE_BURST", 0),
				APIKey:         os.Getenv("ADVISORKB_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			// Ingest and retrieval report into the server's metrics registry.
			pipeline.SetMetrics(srv.IngestMetrics())
			retriever.SetObserver(srv.RetrievalObserver())

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
