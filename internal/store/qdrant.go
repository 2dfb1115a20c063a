package store

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/ledgerpeak/advisorkb/internal/knowledge"
)

// QdrantConfig holds connection parameters for a Qdrant vector index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex implements VectorIndex backed by a Qdrant collection. Document
// scope, owner IDs, and title travel in the point payload so the visibility
// filter can be pushed into the Qdrant query itself. The collection uses
// Euclid distance to match the SQLite index's reference L2 metric.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig
}

var _ VectorIndex = (*QdrantIndex)(nil)

// NewQdrantIndex creates a new QdrantIndex, ensuring the target collection
// exists (creating it if necessary), and returns a ready-to-use VectorIndex.
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	clientCfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	}

	client, err := qdrant.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	idx := &QdrantIndex{client: client, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return idx, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (x *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := x.client.CollectionExists(ctx, x.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = x.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: x.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     x.cfg.VectorSize,
			Distance: qdrant.Distance_Euclid,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", x.cfg.Collection, err)
	}

	return nil
}

// Upsert stores one document's chunks with their embeddings and the payload
// the search side needs to evaluate the visibility filter.
func (x *QdrantIndex) Upsert(ctx context.Context, doc *knowledge.Document, chunks []knowledge.Chunk) error {
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		payload := map[string]any{
			"document_id": doc.ID,
			"scope":       string(doc.Scope),
			"tenant_id":   doc.TenantID,
			"customer_id": doc.CustomerID,
			"pack_id":     doc.PackID,
			"title":       doc.Title,
			"body":        c.Text,
			"chunk_index": int64(c.Index),
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(c.ID),
			Vectors: qdrant.NewVectors(c.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: x.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	return nil
}

// visibilityFilter translates the search filter into a Qdrant should-filter:
// each visibility clause is a must-group, and a point matches when any group
// does. Returns nil when the filter has no clauses.
func visibilityFilter(f knowledge.SearchFilter) *qdrant.Filter {
	var should []*qdrant.Condition
	if f.CustomerID != "" {
		should = append(should, qdrant.NewFilterAsCondition(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("scope", string(knowledge.ScopeCustomer)),
				qdrant.NewMatch("customer_id", f.CustomerID),
			},
		}))
	}
	if f.TenantID != "" {
		should = append(should, qdrant.NewFilterAsCondition(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("scope", string(knowledge.ScopeTenant)),
				qdrant.NewMatch("tenant_id", f.TenantID),
			},
		}))
	}
	if len(f.PackIDs) > 0 {
		should = append(should, qdrant.NewFilterAsCondition(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("scope", string(knowledge.ScopeOrgPack)),
				qdrant.NewMatchKeywords("pack_id", f.PackIDs...),
			},
		}))
	}
	if len(should) == 0 {
		return nil
	}
	return &qdrant.Filter{Should: should}
}

// Search performs a filtered L2 similarity search and returns the top-limit
// hits. An empty filter short-circuits to no hits without touching Qdrant.
func (x *QdrantIndex) Search(ctx context.Context, queryVector []float32, filter knowledge.SearchFilter, limit int) ([]knowledge.Hit, error) {
	qf := visibilityFilter(filter)
	if qf == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	lim := uint64(limit) //nolint:gosec // limit is validated positive
	results, err := x.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: x.cfg.Collection,
		Query:          qdrant.NewQuery(queryVector...),
		Filter:         qf,
		Limit:          &lim,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	hits := make([]knowledge.Hit, 0, len(results))
	for _, r := range results {
		h := knowledge.Hit{
			ChunkID: r.Id.GetUuid(),
			// For Euclid collections the Qdrant score is the L2 distance,
			// already ordered ascending.
			Distance: r.Score,
		}
		if p := r.Payload; p != nil {
			if v, ok := p["document_id"]; ok {
				h.DocumentID = v.GetStringValue()
			}
			if v, ok := p["scope"]; ok {
				h.Scope = knowledge.Scope(v.GetStringValue())
			}
			if v, ok := p["title"]; ok {
				h.Title = v.GetStringValue()
			}
			if v, ok := p["body"]; ok {
				h.Text = v.GetStringValue()
			}
			if v, ok := p["chunk_index"]; ok {
				h.Index = int(v.GetIntegerValue())
			}
		}
		hits = append(hits, h)
	}

	return hits, nil
}

// DeleteByDocument removes all points belonging to the given document.
func (x *QdrantIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: x.cfg.Collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("document_id", documentID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete failed: %w", err)
	}

	return nil
}

// Ping reports Qdrant reachability for the readiness probe.
func (x *QdrantIndex) Ping(ctx context.Context) error {
	if _, err := x.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check: %w", err)
	}
	return nil
}

// Name identifies this dependency in readiness responses.
func (x *QdrantIndex) Name() string { return "qdrant" }

// Close closes the underlying Qdrant gRPC connection.
func (x *QdrantIndex) Close() error {
	return x.client.Close()
}
