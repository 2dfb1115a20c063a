package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/ledgerpeak/advisorkb/internal/knowledge"
)

// SQLiteStore is a DocumentStore and VectorIndex backed by a local SQLite
// database. Chunk vectors are stored as little-endian float32 blobs and
// ranked by exact L2 distance in process; the visibility filter is applied in
// SQL so no out-of-scope chunk ever reaches the ranking step.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// Interface conformance.
var (
	_ DocumentStore = (*SQLiteStore)(nil)
	_ VectorIndex   = (*SQLiteStore)(nil)
)

// DefaultDBPath returns the default path for the knowledge database.
// It resolves to ~/.advisorkb/knowledge.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".advisorkb")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "knowledge.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	// The CHECK constraint mirrors knowledge.Document.Validate so a buggy
	// caller can never slip an inconsistent scope/ID combination into the
	// table behind the application's back.
	const ddl = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS documents (
    id             TEXT    PRIMARY KEY,
    title          TEXT    NOT NULL,
    scope          TEXT    NOT NULL CHECK(scope IN ('ORG_PACK','TENANT','CUSTOMER')),
    tenant_id      TEXT    NOT NULL DEFAULT '',
    customer_id    TEXT    NOT NULL DEFAULT '',
    pack_id        TEXT    NOT NULL DEFAULT '',
    status         TEXT    NOT NULL CHECK(status IN ('UPLOADED','PROCESSING','READY','FAILED')),
    source_locator TEXT    NOT NULL DEFAULT '',
    mime_hint      TEXT    NOT NULL DEFAULT '',
    created_at     INTEGER NOT NULL,  -- Unix timestamp (seconds)
    CHECK(
        (scope = 'ORG_PACK' AND pack_id <> '' AND customer_id = '') OR
        (scope = 'TENANT'   AND tenant_id <> '' AND pack_id = '' AND customer_id = '') OR
        (scope = 'CUSTOMER' AND tenant_id <> '' AND customer_id <> '' AND pack_id = '')
    )
);
CREATE INDEX IF NOT EXISTS idx_documents_tenant_scope
    ON documents (tenant_id, scope);

CREATE TABLE IF NOT EXISTS chunks (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,  -- insertion order for deterministic tie-breaks
    id          TEXT    NOT NULL UNIQUE,
    document_id TEXT    NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    body        TEXT    NOT NULL,
    idx         INTEGER NOT NULL,
    vector      BLOB    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_document
    ON chunks (document_id);

CREATE TABLE IF NOT EXISTS messages (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT    NOT NULL,
    role            TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content         TEXT    NOT NULL,
    created_at      INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
    ON messages (conversation_id, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// CreateDocument validates and persists a new document row in state as given
// (normally UPLOADED).
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *knowledge.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	if doc.Status == "" {
		doc.Status = knowledge.StatusUploaded
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	const q = `
INSERT INTO documents (id, title, scope, tenant_id, customer_id, pack_id, status, source_locator, mime_hint, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		doc.ID, doc.Title, string(doc.Scope), doc.TenantID, doc.CustomerID, doc.PackID,
		string(doc.Status), doc.SourceLocator, doc.MIMEHint, doc.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: create document: %w", err)
	}
	return nil
}

// GetDocument returns the document with the given ID, or ErrNotFound.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*knowledge.Document, error) {
	const q = `
SELECT id, title, scope, tenant_id, customer_id, pack_id, status, source_locator, mime_hint, created_at
FROM   documents WHERE id = ?`
	doc, err := scanDocument(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns documents matching the query, newest first.
func (s *SQLiteStore) ListDocuments(ctx context.Context, lq ListQuery) ([]knowledge.Document, error) {
	where := []string{"1=1"}
	args := []any{}
	if lq.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, lq.TenantID)
	}
	if lq.Scope != "" {
		where = append(where, "scope = ?")
		args = append(args, string(lq.Scope))
	}
	if lq.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(lq.Status))
	}
	limit := lq.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	q := `
SELECT id, title, scope, tenant_id, customer_id, pack_id, status, source_locator, mime_hint, created_at
FROM   documents
WHERE  ` + strings.Join(where, " AND ") + `
ORDER  BY created_at DESC, id DESC
LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	defer rows.Close()

	var docs []knowledge.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list rows: %w", err)
	}
	return docs, nil
}

// SetStatus updates a document's lifecycle status. Terminal states are
// protected: once READY or FAILED, the row never changes again.
func (s *SQLiteStore) SetStatus(ctx context.Context, id string, status knowledge.Status) error {
	const q = `UPDATE documents SET status = ? WHERE id = ? AND status NOT IN ('READY','FAILED')`
	res, err := s.db.ExecContext(ctx, q, string(status), id)
	if err != nil {
		return fmt.Errorf("store: set status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: set status rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish a missing row from a terminal one.
		if _, getErr := s.GetDocument(ctx, id); getErr != nil {
			return getErr
		}
		return ErrTerminalStatus
	}
	return nil
}

// DeleteDocument removes the document row; the chunks cascade.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Upsert persists one document's chunks. The document row must already exist;
// chunk metadata needed by the search side lives on the joined documents table.
func (s *SQLiteStore) Upsert(ctx context.Context, doc *knowledge.Document, chunks []knowledge.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: upsert begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	const q = `
INSERT INTO chunks (id, document_id, body, idx, vector) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET body = excluded.body, idx = excluded.idx, vector = excluded.vector`
	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx, q, c.ID, doc.ID, c.Text, c.Index, encodeVector(c.Vector)); err != nil {
			return fmt.Errorf("store: upsert chunk %d: %w", c.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: upsert commit: %w", err)
	}
	return nil
}

// Search returns up to limit hits for the query vector among chunks whose
// document satisfies the filter. The filter is translated into the SQL WHERE
// clause, so rows outside the caller's visibility never leave the database;
// ranking is exact L2 over the surviving candidates, ties broken by chunk
// insertion order.
func (s *SQLiteStore) Search(ctx context.Context, queryVector []float32, filter knowledge.SearchFilter, limit int) ([]knowledge.Hit, error) {
	if filter.Empty() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	var clauses []string
	var args []any
	if filter.CustomerID != "" {
		clauses = append(clauses, "(d.scope = ? AND d.customer_id = ?)")
		args = append(args, string(knowledge.ScopeCustomer), filter.CustomerID)
	}
	if filter.TenantID != "" {
		clauses = append(clauses, "(d.scope = ? AND d.tenant_id = ?)")
		args = append(args, string(knowledge.ScopeTenant), filter.TenantID)
	}
	if len(filter.PackIDs) > 0 {
		placeholders := strings.Repeat("?,", len(filter.PackIDs))
		clauses = append(clauses, "(d.scope = ? AND d.pack_id IN ("+placeholders[:len(placeholders)-1]+"))")
		args = append(args, string(knowledge.ScopeOrgPack))
		for _, packID := range filter.PackIDs {
			args = append(args, packID)
		}
	}

	q := `
SELECT c.id, c.document_id, d.scope, d.title, c.body, c.idx, c.vector
FROM   chunks c
JOIN   documents d ON d.id = c.document_id
WHERE  ` + strings.Join(clauses, " OR ") + `
ORDER  BY c.seq ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()

	var hits []knowledge.Hit
	for rows.Next() {
		var h knowledge.Hit
		var scope string
		var blob []byte
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &scope, &h.Title, &h.Text, &h.Index, &blob); err != nil {
			return nil, fmt.Errorf("store: search scan: %w", err)
		}
		h.Scope = knowledge.Scope(scope)

		vec, err := decodeVector(blob)
		if err != nil {
			return nil, err
		}
		h.Distance, err = l2Distance(queryVector, vec)
		if err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: search rows: %w", err)
	}

	// Candidates arrive in insertion order; a stable sort preserves that
	// order among equal distances.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// DeleteByDocument removes all chunks belonging to the given document.
func (s *SQLiteStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("store: delete chunks: %w", err)
	}
	return nil
}

// Ping reports database reachability for the readiness probe.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Name identifies this dependency in readiness responses.
func (s *SQLiteStore) Name() string { return "sqlite" }

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanDocument.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDocument reads one document row in the canonical column order.
func scanDocument(r rowScanner) (*knowledge.Document, error) {
	var doc knowledge.Document
	var scope, status string
	var ts int64
	err := r.Scan(&doc.ID, &doc.Title, &scope, &doc.TenantID, &doc.CustomerID, &doc.PackID,
		&status, &doc.SourceLocator, &doc.MIMEHint, &ts)
	if err != nil {
		return nil, err
	}
	doc.Scope = knowledge.Scope(scope)
	doc.Status = knowledge.Status(status)
	doc.CreatedAt = time.Unix(ts, 0)
	return &doc, nil
}
