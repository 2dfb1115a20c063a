package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ledgerpeak/advisorkb/internal/answer"
	"github.com/ledgerpeak/advisorkb/internal/ingest"
	"github.com/ledgerpeak/advisorkb/internal/knowledge"
	"github.com/ledgerpeak/advisorkb/internal/retrieve"
	"github.com/ledgerpeak/advisorkb/internal/storage"
	"github.com/ledgerpeak/advisorkb/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// MaxUploadBytes caps the size of one document upload. Defaults to 32 MiB.
	MaxUploadBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
}

// Deps are the domain collaborators the server exposes over HTTP.
type Deps struct {
	// Docs is the document metadata store.
	Docs store.DocumentStore
	// Index is the vector index holding embedded chunks.
	Index store.VectorIndex
	// Blobs holds raw uploaded payloads.
	Blobs storage.BlobStore
	// Runner schedules asynchronous ingestion after an accepted upload.
	Runner *ingest.Runner
	// Retriever performs scoped similarity search for chat turns.
	Retriever *retrieve.Retriever
	// Generator produces chat answers. Nil disables /api/chat generation;
	// the endpoint then returns retrieval results only.
	Generator *answer.Generator
}

// Server is the HTTP server exposing the knowledge API.
type Server struct {
	// deps holds the domain collaborators behind the handlers.
	deps Deps
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments for this server instance.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// documentResponse is the JSON shape of one document in API responses.
type documentResponse struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Scope      string `json:"scope"`
	TenantID   string `json:"tenant_id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	PackID     string `json:"pack_id,omitempty"`
	Status     string `json:"status"`
	MIMEHint   string `json:"mime_hint,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// ConversationID keys multi-turn history. Optional.
	ConversationID string `json:"conversation_id,omitempty"`
	// Message is the user's natural language query.
	Message string `json:"message"`
	// TenantID scopes retrieval to this tenant's knowledge.
	TenantID string `json:"tenant_id"`
	// CustomerID optionally widens retrieval to one customer's documents.
	CustomerID string `json:"customer_id,omitempty"`
	// PackIDs are the attached specialist-pack identifiers.
	PackIDs []string `json:"pack_ids,omitempty"`
	// PackNames are display names for the system instruction. Optional.
	PackNames []string `json:"pack_names,omitempty"`
	// Limit caps the number of retrieved chunks. Optional.
	Limit int `json:"limit,omitempty"`
}

// chatResponse is the JSON body returned by POST /api/chat.
type chatResponse struct {
	// Answer is the generated reply.
	Answer string `json:"answer"`
	// Citations reference the chunks supporting the answer.
	Citations []knowledge.Citation `json:"citations"`
	// Degraded is true when retrieval failed and the answer was generated
	// without knowledge context.
	Degraded bool `json:"degraded,omitempty"`
}
