package retrieve

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ledgerpeak/advisorkb/internal/knowledge"
)

// fakeEmbedder returns a fixed vector and records whether it was called.
type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := f.EmbedOne(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedOne(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

// fakeIndex returns canned hits and records the search it received.
type fakeIndex struct {
	hits       []knowledge.Hit
	err        error
	gotVector  []float32
	gotFilter  knowledge.SearchFilter
	gotLimit   int
	searchable bool
}

func (f *fakeIndex) Upsert(context.Context, *knowledge.Document, []knowledge.Chunk) error {
	return nil
}

func (f *fakeIndex) Search(_ context.Context, vector []float32, filter knowledge.SearchFilter, limit int) ([]knowledge.Hit, error) {
	f.searchable = true
	f.gotVector = vector
	f.gotFilter = filter
	f.gotLimit = limit
	return f.hits, f.err
}

func (f *fakeIndex) DeleteByDocument(context.Context, string) error { return nil }
func (f *fakeIndex) Close() error                                   { return nil }

func Test_Retriever_PassesFilterAndLimit(t *testing.T) {
	t.Parallel()
	emb := &fakeEmbedder{vector: []float32{1, 2}}
	idx := &fakeIndex{hits: []knowledge.Hit{{ChunkID: "c1"}}}
	r, err := New(emb, idx)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	filter := knowledge.SearchFilter{TenantID: "acme", PackIDs: []string{"scorp"}}
	hits, err := r.Search(context.Background(), Query{Text: "s-corp election", Filter: filter, Limit: 3})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkID != "c1" {
		t.Errorf("hits not passed through: %v", hits)
	}
	if idx.gotLimit != 3 {
		t.Errorf("want limit 3, got %d", idx.gotLimit)
	}
	if idx.gotFilter.TenantID != "acme" || len(idx.gotFilter.PackIDs) != 1 {
		t.Errorf("filter not passed through: %+v", idx.gotFilter)
	}
	if len(idx.gotVector) != 2 {
		t.Errorf("query vector not passed through: %v", idx.gotVector)
	}
}

func Test_Retriever_DefaultLimit(t *testing.T) {
	t.Parallel()
	emb := &fakeEmbedder{vector: []float32{1}}
	idx := &fakeIndex{}
	r, _ := New(emb, idx)

	if _, err := r.Search(context.Background(), Query{Text: "q", Filter: knowledge.SearchFilter{TenantID: "t"}}); err != nil {
		t.Fatalf("search: %v", err)
	}
	if idx.gotLimit != DefaultLimit {
		t.Errorf("want default limit %d, got %d", DefaultLimit, idx.gotLimit)
	}
}

func Test_Retriever_EmptyFilterSkipsEmbedding(t *testing.T) {
	t.Parallel()
	emb := &fakeEmbedder{vector: []float32{1}}
	idx := &fakeIndex{}
	r, _ := New(emb, idx)

	hits, err := r.Search(context.Background(), Query{Text: "q"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("want no hits for empty filter, got %d", len(hits))
	}
	if emb.calls != 0 {
		t.Error("embedder called for empty filter")
	}
	if idx.searchable {
		t.Error("index searched for empty filter")
	}
}

func Test_Retriever_EmbedErrorPropagates(t *testing.T) {
	t.Parallel()
	wantErr := errors.New("backend down")
	emb := &fakeEmbedder{err: wantErr}
	idx := &fakeIndex{}
	r, _ := New(emb, idx)

	_, err := r.Search(context.Background(), Query{Text: "q", Filter: knowledge.SearchFilter{TenantID: "t"}})
	if !errors.Is(err, wantErr) {
		t.Fatalf("want embed error propagated, got %v", err)
	}
	if idx.searchable {
		t.Error("index searched despite embed failure")
	}
}

func Test_Retriever_IndexErrorPropagates(t *testing.T) {
	t.Parallel()
	emb := &fakeEmbedder{vector: []float32{1}}
	idx := &fakeIndex{err: fmt.Errorf("index offline")}
	r, _ := New(emb, idx)

	if _, err := r.Search(context.Background(), Query{Text: "q", Filter: knowledge.SearchFilter{TenantID: "t"}}); err == nil {
		t.Fatal("want index error propagated, got nil")
	}
}
