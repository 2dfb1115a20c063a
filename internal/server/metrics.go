// Package server — metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ledgerpeak/advisorkb/internal/ingest"
)

// labelHandler partitions HTTP metrics by the logical endpoint name rather
// than the raw URL path.
const labelHandler = "handler"

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// ingestTotal counts completed ingestion tasks, partitioned by outcome:
	// "ready" or "failed".
	ingestTotal *prometheus.CounterVec

	// ingestDurationSeconds records the wall-clock duration of ingestion
	// tasks from pickup to terminal status.
	ingestDurationSeconds *prometheus.HistogramVec

	// ingestChunks records the number of chunks produced per ingested document.
	ingestChunks prometheus.Histogram

	// retrievalDurationSeconds records the latency of scoped retrievals
	// (embedding plus index search).
	retrievalDurationSeconds prometheus.Histogram

	// chatRequestsTotal counts completed /api/chat requests, partitioned by
	// outcome: "ok", "degraded", or "error".
	chatRequestsTotal *prometheus.CounterVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default —
// this keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		ingestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "advisorkb",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Total number of ingestion tasks completed, partitioned by outcome.",
		}, []string{"outcome"}),

		ingestDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "advisorkb",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of ingestion tasks from pickup to terminal status.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),

		ingestChunks: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "advisorkb",
			Subsystem: "ingest",
			Name:      "chunks_per_document",
			Help:      "Number of chunks produced per successfully ingested document.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),

		retrievalDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "advisorkb",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Latency of scoped retrievals, embedding call included.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		chatRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "advisorkb",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of /api/chat requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "advisorkb",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "advisorkb",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// ObserveIngest satisfies ingest.Metrics so the pipeline can report outcomes
// into the server's registry.
func (m *serverMetrics) ObserveIngest(outcome string, chunks int, elapsed time.Duration) {
	m.ingestTotal.WithLabelValues(outcome).Inc()
	m.ingestDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if outcome == "ready" {
		m.ingestChunks.Observe(float64(chunks))
	}
}

// ObserveRetrieval records one retrieval's latency.
func (m *serverMetrics) ObserveRetrieval(elapsed time.Duration) {
	m.retrievalDurationSeconds.Observe(elapsed.Seconds())
}

// IngestMetrics exposes the ingestion observer for wiring into the pipeline.
func (s *Server) IngestMetrics() ingest.Metrics {
	return s.metrics
}

// RetrievalObserver exposes the retrieval latency hook for the retriever.
func (s *Server) RetrievalObserver() func(elapsed time.Duration) {
	return s.metrics.ObserveRetrieval
}

// instrument wraps h to record request counts and latency under the given
// handler name.
func (s *Server) instrument(name string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		h.ServeHTTP(rw, r)
		elapsed := time.Since(start)

		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(elapsed.Seconds())
	})
}
