package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ledgerpeak/advisorkb/internal/embedder"
	"github.com/ledgerpeak/advisorkb/internal/ingest"
	"github.com/ledgerpeak/advisorkb/internal/store"
)

// openDocumentStore opens the SQLite knowledge database. ADVISORKB_DB
// overrides the default path (~/.advisorkb/knowledge.db).
func openDocumentStore(log *slog.Logger) (*store.SQLiteStore, error) {
	dbPath := os.Getenv("ADVISORKB_DB")
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	log.Info("knowledge database opened", slog.String("path", dbPath))
	return s, nil
}

// openVectorIndex selects the chunk vector index. When QDRANT_HOST is set the
// chunks live in a Qdrant collection; otherwise they stay in the SQLite store
// alongside the documents. The returned closer is a no-op in the SQLite case
// (the caller owns the store's lifecycle).
func openVectorIndex(ctx context.Context, log *slog.Logger, docs *store.SQLiteStore) (store.VectorIndex, func(), error) {
	qdrantHost := os.Getenv("QDRANT_HOST")
	if qdrantHost == "" {
		log.Info("vector index: sqlite (set QDRANT_HOST to use Qdrant)")
		return docs, func() {}, nil
	}

	// Must match the backend resolution in embedder.NewFromEnv so the
	// collection's vector size agrees with what the embedder produces.
	embBackend := getEnvOrDefault("EMBEDDING_PROVIDER", "stub")
	vectorSize := uint64(embedder.DefaultDimensions(embBackend)) //nolint:gosec // dimensions are bounded

	idx, err := store.NewQdrantIndex(ctx, &store.QdrantConfig{
		Host:       qdrantHost,
		Port:       getEnvInt("QDRANT_PORT", 6334),
		Collection: getEnvOrDefault("QDRANT_COLLECTION", "advisorkb-chunks"),
		VectorSize: vectorSize,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Qdrant at %s: %w", qdrantHost, err)
	}
	log.Info("vector index: qdrant",
		slog.String("host", qdrantHost),
		slog.String("collection", getEnvOrDefault("QDRANT_COLLECTION", "advisorkb-chunks")),
	)
	return idx, func() { _ = idx.Close() }, nil
}

// storageDir resolves the blob store root. ADVISORKB_STORAGE_DIR overrides
// the default (~/.advisorkb/uploads).
func storageDir() (string, error) {
	if dir := os.Getenv("ADVISORKB_STORAGE_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".advisorkb", "uploads"), nil
}

// ingestConfigFromEnv reads chunking overrides for the ingestion pipeline.
func ingestConfigFromEnv() *ingest.Config {
	return &ingest.Config{
		ChunkSize:    getEnvInt("INGEST_CHUNK_SIZE", 0),
		ChunkOverlap: getEnvInt("INGEST_CHUNK_OVERLAP", 0),
	}
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat returns the float64 value of the named environment variable,
// or fallback if the variable is unset, empty, or not parseable.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
