package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/ledgerpeak/advisorkb/internal/logging"
)

// DefaultTaskTimeout bounds the wall-clock time one document may spend in
// the pipeline before its context is cancelled.
const DefaultTaskTimeout = 5 * time.Minute

// Runner executes ingestion tasks asynchronously on a bounded worker pool.
// Enqueue returns as soon as the task is accepted; outcomes land in the
// document's status and the logs, never back at the caller.
type Runner struct {
	pipeline *Pipeline
	pool     *ants.Pool
	timeout  time.Duration
	logger   *slog.Logger
}

// NewRunner builds a Runner with the given pool size. A size below one falls
// back to half the CPUs, minimum one.
func NewRunner(pipeline *Pipeline, size int, timeout time.Duration, logger *slog.Logger) (*Runner, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("ingest: pipeline must not be nil")
	}
	if size < 1 {
		size = runtime.NumCPU() / 2
		if size < 1 {
			size = 1
		}
	}
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("ingest: create worker pool: %w", err)
	}

	return &Runner{pipeline: pipeline, pool: pool, timeout: timeout, logger: logger}, nil
}

// Enqueue schedules a document for ingestion. The task runs on a fresh
// context detached from the caller's request, so an uploader disconnecting
// does not abort processing.
func (r *Runner) Enqueue(documentID string) error {
	err := r.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		ctx = logging.WithLogger(ctx, r.logger)

		if err := r.pipeline.Process(ctx, documentID); err != nil {
			r.logger.Error("ingestion task error", "document_id", documentID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("ingest: enqueue %s: %w", documentID, err)
	}
	return nil
}

// Close releases the worker pool. Queued tasks that have not started are
// dropped; running tasks finish.
func (r *Runner) Close() {
	r.pool.Release()
}
