package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ledgerpeak/advisorkb/internal/embedder"
	"github.com/ledgerpeak/advisorkb/internal/ingest"
	"github.com/ledgerpeak/advisorkb/internal/knowledge"
	"github.com/ledgerpeak/advisorkb/internal/retrieve"
	"github.com/ledgerpeak/advisorkb/internal/storage"
	"github.com/ledgerpeak/advisorkb/internal/store"
)

// testServer wires a full Server against in-memory dependencies and exposes
// the store for assertions.
type testServer struct {
	srv   *Server
	store *store.SQLiteStore
	ts    *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
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

	emb := embedder.NewStub(8)
	pipeline, err := ingest.NewPipeline(s, s, blobs, nil, emb, nil)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	runner, err := ingest.NewRunner(pipeline, 2, time.Minute, nil)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	t.Cleanup(runner.Close)

	retriever, err := retrieve.New(emb, s)
	if err != nil {
		t.Fatalf("retriever: %v", err)
	}

	srv, err := New(Deps{
		Docs:      s,
		Index:     s,
		Blobs:     blobs,
		Runner:    runner,
		Retriever: retriever,
	}, &Config{})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	t.Cleanup(srv.stopRL)

	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)

	return &testServer{srv: srv, store: s, ts: ts}
}

// uploadDocument posts a multipart upload and returns the decoded response.
func (e *testServer) uploadDocument(t *testing.T, fields map[string]string, body string) (*http.Response, documentResponse) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	fw, err := mw.CreateFormFile("file", "notes.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(body)); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	resp, err := http.Post(e.ts.URL+"/api/documents", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /api/documents: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	var doc documentResponse
	if resp.StatusCode == http.StatusAccepted {
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, doc
}

// waitTerminal polls until the document reaches a terminal status.
func (e *testServer) waitTerminal(t *testing.T, id string) knowledge.Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		doc, err := e.store.GetDocument(context.Background(), id)
		if err != nil {
			t.Fatalf("get document: %v", err)
		}
		if doc.Status.Terminal() {
			return doc.Status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("document never reached a terminal status")
	return ""
}

func Test_Server_UploadToReady(t *testing.T) {
	t.Parallel()
	e := newTestServer(t)

	resp, doc := e.uploadDocument(t, map[string]string{
		"title":     "Firm playbook",
		"scope":     "TENANT",
		"tenant_id": "acme",
	}, "Our firm recommends quarterly estimated payments for all self-employed clients.")

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("want 202, got %d", resp.StatusCode)
	}
	if doc.Status != string(knowledge.StatusUploaded) {
		t.Errorf("want UPLOADED in accept response, got %s", doc.Status)
	}

	if st := e.waitTerminal(t, doc.ID); st != knowledge.StatusReady {
		t.Errorf("want READY after ingestion, got %s", st)
	}
}

func Test_Server_UploadRejectsScopeViolation(t *testing.T) {
	t.Parallel()
	e := newTestServer(t)

	// CUSTOMER scope without a customer_id violates the mutual-exclusivity rule.
	resp, _ := e.uploadDocument(t, map[string]string{
		"title":     "bad",
		"scope":     "CUSTOMER",
		"tenant_id": "acme",
	}, "text")

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("want 400 for invalid scope combination, got %d", resp.StatusCode)
	}
}

func Test_Server_UploadRequiresFile(t *testing.T) {
	t.Parallel()
	e := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("scope", "TENANT")
	_ = mw.Close()

	resp, err := http.Post(e.ts.URL+"/api/documents", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("want 400 without file part, got %d", resp.StatusCode)
	}
}

func Test_Server_GetAndListDocuments(t *testing.T) {
	t.Parallel()
	e := newTestServer(t)

	_, doc := e.uploadDocument(t, map[string]string{
		"title": "Memo", "scope": "TENANT", "tenant_id": "acme",
	}, "tenant text")
	e.waitTerminal(t, doc.ID)

	resp, err := http.Get(e.ts.URL + "/api/documents/" + doc.ID)
	if err != nil {
		t.Fatalf("GET document: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
	var got documentResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Title != "Memo" || got.Status != string(knowledge.StatusReady) {
		t.Errorf("unexpected document: %+v", got)
	}

	listResp, err := http.Get(e.ts.URL + "/api/documents?tenant_id=acme")
	if err != nil {
		t.Fatalf("GET list: %v", err)
	}
	defer listResp.Body.Close()
	var list struct {
		Documents []documentResponse `json:"documents"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Documents) != 1 {
		t.Errorf("want 1 document, got %d", len(list.Documents))
	}
}

func Test_Server_GetMissingDocument(t *testing.T) {
	t.Parallel()
	e := newTestServer(t)

	resp, err := http.Get(e.ts.URL + "/api/documents/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("want 404, got %d", resp.StatusCode)
	}
}

func Test_Server_DeleteDocumentRemovesChunks(t *testing.T) {
	t.Parallel()
	e := newTestServer(t)
	ctx := context.Background()

	_, doc := e.uploadDocument(t, map[string]string{
		"title": "Memo", "scope": "TENANT", "tenant_id": "acme",
	}, "deletable tenant text")
	e.waitTerminal(t, doc.ID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, e.ts.URL+"/api/documents/"+doc.ID, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("want 204, got %d", resp.StatusCode)
	}

	query, _ := embedder.NewStub(8).EmbedOne(ctx, "q")
	hits, err := e.store.Search(ctx, query, knowledge.SearchFilter{TenantID: "acme"}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("chunks survived delete: %d", len(hits))
	}
}

func Test_Server_ChatRetrievalOnly(t *testing.T) {
	t.Parallel()
	e := newTestServer(t)

	_, doc := e.uploadDocument(t, map[string]string{
		"title": "Playbook", "scope": "TENANT", "tenant_id": "acme",
	}, "Quarterly estimates avoid underpayment penalties for most filers.")
	e.waitTerminal(t, doc.ID)

	body, _ := json.Marshal(chatRequest{
		Message:  "when are estimates due?",
		TenantID: "acme",
	})
	resp, err := http.Post(e.ts.URL+"/api/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/chat: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if chat.Degraded {
		t.Error("retrieval-only chat should not be degraded")
	}
	if len(chat.Citations) == 0 {
		t.Error("want citations from retrieval")
	}
	if chat.Citations[0].DocumentID != doc.ID {
		t.Errorf("citation points at wrong document: %+v", chat.Citations[0])
	}
}

func Test_Server_ChatValidation(t *testing.T) {
	t.Parallel()
	e := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"empty message", `{"tenant_id":"acme"}`},
		{"missing tenant", `{"message":"hi"}`},
		{"bad json", `{`},
	}
	for _, tc := range cases {
		resp, err := http.Post(e.ts.URL+"/api/chat", "application/json", strings.NewReader(tc.body))
		if err != nil {
			t.Fatalf("%s: POST: %v", tc.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: want 400, got %d", tc.name, resp.StatusCode)
		}
	}
}

func Test_Server_HealthAndMetrics(t *testing.T) {
	t.Parallel()
	e := newTestServer(t)

	for _, path := range []string{"/api/health", "/api/ready", "/metrics"} {
		resp, err := http.Get(e.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: want 200, got %d", path, resp.StatusCode)
		}
	}
}

// failingPinger always reports its dependency down.
type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return fmt.Errorf("unreachable") }
func (failingPinger) Name() string               { return "broken" }

func Test_Server_ReadyReportsFailedDependency(t *testing.T) {
	t.Parallel()

	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	blobs, _ := storage.NewLocalStore(t.TempDir())
	emb := embedder.NewStub(4)
	pipeline, _ := ingest.NewPipeline(s, s, blobs, nil, emb, nil)
	runner, _ := ingest.NewRunner(pipeline, 1, time.Minute, nil)
	t.Cleanup(runner.Close)
	retriever, _ := retrieve.New(emb, s)

	srv, err := New(Deps{Docs: s, Index: s, Blobs: blobs, Runner: runner, Retriever: retriever},
		&Config{Pingers: []Pinger{failingPinger{}}})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	t.Cleanup(srv.stopRL)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/ready")
	if err != nil {
		t.Fatalf("GET /api/ready: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("want 503, got %d", resp.StatusCode)
	}

	var ready struct {
		Ready  bool `json:"ready"`
		Checks []struct {
			Name string `json:"name"`
			OK   bool   `json:"ok"`
		} `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ready); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ready.Ready || len(ready.Checks) != 1 || ready.Checks[0].OK {
		t.Errorf("unexpected readiness body: %+v", ready)
	}
}

func Test_Server_AuthProtectsDocuments(t *testing.T) {
	t.Parallel()

	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	blobs, _ := storage.NewLocalStore(t.TempDir())
	emb := embedder.NewStub(4)
	pipeline, _ := ingest.NewPipeline(s, s, blobs, nil, emb, nil)
	runner, _ := ingest.NewRunner(pipeline, 1, time.Minute, nil)
	t.Cleanup(runner.Close)
	retriever, _ := retrieve.New(emb, s)

	srv, err := New(Deps{Docs: s, Index: s, Blobs: blobs, Runner: runner, Retriever: retriever},
		&Config{APIKey: "secret"})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	t.Cleanup(srv.stopRL)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/documents")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("want 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, ts.URL+"/api/documents", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with token: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("want 200 with token, got %d", resp2.StatusCode)
	}

	// health stays open for probes
	resp3, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		t.Errorf("want 200 on unauthenticated health, got %d", resp3.StatusCode)
	}
}
