package ingest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ledgerpeak/advisorkb/internal/embedder"
	"github.com/ledgerpeak/advisorkb/internal/knowledge"
	"github.com/ledgerpeak/advisorkb/internal/storage"
	"github.com/ledgerpeak/advisorkb/internal/store"
)

// testEnv wires a pipeline against an in-memory store and a temp-dir blob
// store, the same shape the serve command assembles in production.
type testEnv struct {
	store    *store.SQLiteStore
	blobs    *storage.LocalStore
	pipeline *Pipeline
}

func newTestEnv(t *testing.T, emb knowledge.Embedder) *testEnv {
	t.Helper()

	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	blobs, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}

	if emb == nil {
		emb = embedder.NewStub(8)
	}
	p, err := NewPipeline(s, s, blobs, nil, emb, nil)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	return &testEnv{store: s, blobs: blobs, pipeline: p}
}

// upload stores a payload and creates the matching UPLOADED document row.
func (e *testEnv) upload(t *testing.T, id, body string) *knowledge.Document {
	t.Helper()
	ctx := context.Background()

	locator, err := e.blobs.Store(ctx, id+".txt", strings.NewReader(body))
	if err != nil {
		t.Fatalf("store payload: %v", err)
	}
	doc := &knowledge.Document{
		ID:            id,
		Title:         "doc " + id,
		Scope:         knowledge.ScopeTenant,
		TenantID:      "acme",
		SourceLocator: locator,
		MIMEHint:      "text/plain",
	}
	if err := e.store.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc
}

func (e *testEnv) status(t *testing.T, id string) knowledge.Status {
	t.Helper()
	doc, err := e.store.GetDocument(context.Background(), id)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	return doc.Status
}

// failingEmbedder always errors, standing in for an unreachable backend.
type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("embedding backend unreachable")
}

func (f failingEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	_, err := f.Embed(ctx, []string{text})
	return nil, err
}

func Test_Pipeline_HappyPath(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.upload(t, "d1", "Estimated tax payments are due quarterly for most self-employed filers.")
	if err := env.pipeline.Process(ctx, "d1"); err != nil {
		t.Fatalf("process: %v", err)
	}

	if got := env.status(t, "d1"); got != knowledge.StatusReady {
		t.Fatalf("want READY, got %s", got)
	}

	query, err := embedder.NewStub(8).EmbedOne(ctx, "anything")
	if err != nil {
		t.Fatalf("query embed: %v", err)
	}
	hits, err := env.store.Search(ctx, query, knowledge.SearchFilter{TenantID: "acme"}, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 {
		t.Error("want chunks searchable after ingest")
	}
}

func Test_Pipeline_ChunkCountForDefaultConfig(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	ctx := context.Background()

	// 2400 chars with no spaces: hard breaks at the 1000/200 defaults give
	// windows starting at 0, 800, and 1600.
	env.upload(t, "d1", strings.Repeat("x", 2400))
	if err := env.pipeline.Process(ctx, "d1"); err != nil {
		t.Fatalf("process: %v", err)
	}

	query, err := embedder.NewStub(8).EmbedOne(ctx, "q")
	if err != nil {
		t.Fatalf("query embed: %v", err)
	}
	hits, err := env.store.Search(ctx, query, knowledge.SearchFilter{TenantID: "acme"}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 3 {
		t.Errorf("want 3 chunks, got %d", len(hits))
	}
}

func Test_Pipeline_EmptyTextFails(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	env.upload(t, "d1", "")
	if err := env.pipeline.Process(context.Background(), "d1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := env.status(t, "d1"); got != knowledge.StatusFailed {
		t.Errorf("want FAILED for empty payload, got %s", got)
	}
}

func Test_Pipeline_BinaryPayloadFails(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	env.upload(t, "d1", "\xff\xfe\x00binary")
	if err := env.pipeline.Process(context.Background(), "d1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := env.status(t, "d1"); got != knowledge.StatusFailed {
		t.Errorf("want FAILED for binary payload, got %s", got)
	}
}

func Test_Pipeline_EmbedderErrorFails(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, failingEmbedder{})

	env.upload(t, "d1", "some perfectly good text")
	if err := env.pipeline.Process(context.Background(), "d1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := env.status(t, "d1"); got != knowledge.StatusFailed {
		t.Errorf("want FAILED on embed error, got %s", got)
	}
}

func Test_Pipeline_MissingPayloadFails(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	ctx := context.Background()

	doc := &knowledge.Document{
		ID:            "d1",
		Title:         "orphan",
		Scope:         knowledge.ScopeTenant,
		TenantID:      "acme",
		SourceLocator: "never-stored.txt",
	}
	if err := env.store.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.pipeline.Process(ctx, "d1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := env.status(t, "d1"); got != knowledge.StatusFailed {
		t.Errorf("want FAILED for missing payload, got %s", got)
	}
}

func Test_Pipeline_MissingDocumentIsNoop(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	if err := env.pipeline.Process(context.Background(), "ghost"); err != nil {
		t.Fatalf("want silent no-op for missing document, got %v", err)
	}
}

func Test_Pipeline_TerminalDocumentUntouched(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)
	ctx := context.Background()

	env.upload(t, "d1", "text")
	if err := env.store.SetStatus(ctx, "d1", knowledge.StatusFailed); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	if err := env.pipeline.Process(ctx, "d1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := env.status(t, "d1"); got != knowledge.StatusFailed {
		t.Errorf("terminal status changed to %s", got)
	}
}

func Test_Runner_ProcessesAsync(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil)

	r, err := NewRunner(env.pipeline, 2, time.Minute, nil)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	t.Cleanup(r.Close)

	env.upload(t, "d1", "Quarterly estimates avoid underpayment penalties.")
	if err := r.Enqueue("d1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if st := env.status(t, "d1"); st.Terminal() {
			if st != knowledge.StatusReady {
				t.Fatalf("want READY, got %s", st)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("document never reached a terminal status")
}
