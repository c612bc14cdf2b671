package vectorstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is a Store backed by a local SQLite database with brute-force
// nearest-neighbour search. It is the default backend: zero setup, durable,
// and adequate for the few thousand documents an interview profile holds.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
	// metric is the distance function applied in Query.
	metric Metric
}

// DefaultDBPath returns the default path for the vector database.
// It resolves to ~/.recall/vectors.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("vectorstore: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".recall")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("vectorstore: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "vectors.db"), nil
}

// OpenSQLite opens (or creates) a SQLiteStore at the given path and runs the
// schema migration. Use ":memory:" for an in-memory database in tests.
func OpenSQLite(path string, metric Metric) (*SQLiteStore, error) {
	if metric == "" {
		metric = MetricCosine
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open %s: %w", path, err)
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, metric: metric}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS collections (
    name        TEXT    PRIMARY KEY,
    created_at  INTEGER NOT NULL,  -- Unix timestamp (milliseconds)
    metric      TEXT    NOT NULL DEFAULT 'cosine'
);
CREATE TABLE IF NOT EXISTS documents (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    collection  TEXT    NOT NULL,
    id          TEXT    NOT NULL,
    document    TEXT    NOT NULL,
    metadata    TEXT    NOT NULL,  -- flat JSON object
    embedding   BLOB    NOT NULL,  -- little-endian float32
    created_at  INTEGER NOT NULL,
    UNIQUE (collection, id)
);
CREATE INDEX IF NOT EXISTS idx_documents_collection
    ON documents (collection, seq);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("vectorstore: migrate: %w", err)
	}

	// Databases created before the metric column existed were always cosine.
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('collections') WHERE name = 'metric'`).Scan(&n); err != nil {
		return fmt.Errorf("vectorstore: migrate: %w", err)
	}
	if n == 0 {
		if _, err := s.db.Exec(`ALTER TABLE collections ADD COLUMN metric TEXT NOT NULL DEFAULT 'cosine'`); err != nil {
			return fmt.Errorf("vectorstore: migrate: add metric column: %w", err)
		}
	}
	return nil
}

// Name returns the backend label.
func (s *SQLiteStore) Name() string { return "sqlite" }

// Metric reports the distance metric used by Query.
func (s *SQLiteStore) Metric() Metric { return s.metric }

// Ping verifies the database handle is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("sqlite ping", err)
	}
	return nil
}

// EnsureCollection creates the collection row, recording the store's
// metric, if absent. The insert is a no-op on conflict, so concurrent first
// writers all succeed. An existing collection built with another metric
// yields ErrMetricMismatch.
func (s *SQLiteStore) EnsureCollection(ctx context.Context, name string) (Collection, error) {
	const q = `INSERT INTO collections (name, created_at, metric) VALUES (?, ?, ?) ON CONFLICT(name) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, q, name, time.Now().UnixMilli(), string(s.metric)); err != nil {
		return Collection{}, unavailable("sqlite ensure collection", err)
	}
	return s.GetCollection(ctx, name)
}

// GetCollection returns the collection, ErrCollectionNotFound, or
// ErrMetricMismatch when it was built with a different metric.
func (s *SQLiteStore) GetCollection(ctx context.Context, name string) (Collection, error) {
	var got, metric string
	err := s.db.QueryRowContext(ctx, `SELECT name, metric FROM collections WHERE name = ?`, name).Scan(&got, &metric)
	if errors.Is(err, sql.ErrNoRows) {
		return Collection{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	if err != nil {
		return Collection{}, unavailable("sqlite get collection", err)
	}
	if Metric(metric) != s.metric {
		return Collection{}, fmt.Errorf("%w: %s was built with %s, store uses %s", ErrMetricMismatch, name, metric, s.metric)
	}
	return Collection{Name: got}, nil
}

// DeleteCollection drops the collection and its documents in one transaction.
func (s *SQLiteStore) DeleteCollection(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("sqlite begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, name); err != nil {
		return unavailable("sqlite delete documents", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, name); err != nil {
		return unavailable("sqlite delete collection", err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable("sqlite commit", err)
	}
	return nil
}

// Add upserts records in a single transaction.
func (s *SQLiteStore) Add(ctx context.Context, c Collection, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("sqlite begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO documents (collection, id, document, metadata, embedding, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(collection, id) DO UPDATE SET
    document = excluded.document,
    metadata = excluded.metadata,
    embedding = excluded.embedding`)
	if err != nil {
		return unavailable("sqlite prepare insert", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("vectorstore: record id must not be empty")
		}
		if len(r.Embedding) == 0 {
			return fmt.Errorf("vectorstore: record %s has no embedding", r.ID)
		}
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("vectorstore: encode metadata for %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, c.Name, r.ID, r.Document, string(meta), encodeFloat32s(r.Embedding), now); err != nil {
			return unavailable("sqlite insert "+r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("sqlite commit", err)
	}
	return nil
}

// Query scans every vector in the collection and returns the topK closest.
// Rows with a different dimensionality than the query are skipped.
func (s *SQLiteStore) Query(ctx context.Context, c Collection, vector []float32, topK int) ([]Hit, error) {
	count, err := s.Count(ctx, c)
	if err != nil {
		return nil, err
	}
	topK = clampTopK(topK, count)
	if topK == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document, metadata, embedding FROM documents WHERE collection = ? ORDER BY seq`, c.Name)
	if err != nil {
		return nil, unavailable("sqlite query", err)
	}
	defer rows.Close()

	var hits []Hit
	var buf []float32
	for rows.Next() {
		var (
			id, doc, meta string
			blob          []byte
		)
		if err := rows.Scan(&id, &doc, &meta, &blob); err != nil {
			return nil, unavailable("sqlite scan", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: decoding embedding for %s: %w", id, err)
		}
		if len(buf) != len(vector) {
			continue
		}
		d, err := Distance(s.metric, vector, buf)
		if err != nil {
			continue
		}
		md, err := decodeMetadata(meta)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: decoding metadata for %s: %w", id, err)
		}
		hits = append(hits, Hit{ID: id, Document: doc, Metadata: md, Distance: &d})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("sqlite rows", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return *hits[i].Distance < *hits[j].Distance })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// GetAll returns every document in insertion order.
func (s *SQLiteStore) GetAll(ctx context.Context, c Collection) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document, metadata FROM documents WHERE collection = ? ORDER BY seq`, c.Name)
	if err != nil {
		return Snapshot{}, unavailable("sqlite scan collection", err)
	}
	defer rows.Close()

	var snap Snapshot
	for rows.Next() {
		var id, doc, meta string
		if err := rows.Scan(&id, &doc, &meta); err != nil {
			return Snapshot{}, unavailable("sqlite scan", err)
		}
		md, err := decodeMetadata(meta)
		if err != nil {
			return Snapshot{}, fmt.Errorf("vectorstore: decoding metadata for %s: %w", id, err)
		}
		snap.IDs = append(snap.IDs, id)
		snap.Documents = append(snap.Documents, doc)
		snap.Metadatas = append(snap.Metadatas, md)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, unavailable("sqlite rows", err)
	}
	return snap, nil
}

// DeleteByIDs removes the given documents in one statement.
func (s *SQLiteStore) DeleteByIDs(ctx context.Context, c Collection, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, c.Name)
	for _, id := range ids {
		args = append(args, id)
	}
	q := `DELETE FROM documents WHERE collection = ? AND id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return unavailable("sqlite delete", err)
	}
	return nil
}

// Count returns the number of documents in the collection.
func (s *SQLiteStore) Count(ctx context.Context, c Collection) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE collection = ?`, c.Name).Scan(&n); err != nil {
		return 0, unavailable("sqlite count", err)
	}
	return n, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("vectorstore: close: %w", err)
	}
	return nil
}

// unavailable tags err as an ErrUnavailable failure of op.
func unavailable(op string, err error) error {
	return fmt.Errorf("vectorstore: %s: %w: %w", op, ErrUnavailable, err)
}

// decodeMetadata parses the stored JSON object, keeping numbers as json.Number
// so integer identifiers survive the round trip exactly.
func decodeMetadata(raw string) (Metadata, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var md Metadata
	if err := dec.Decode(&md); err != nil {
		return nil, err
	}
	return md, nil
}

// encodeFloat32s serialises a vector as little-endian float32 bytes.
func encodeFloat32s(v []float32) []byte {
	var buf bytes.Buffer
	buf.Grow(len(v) * 4)
	b := make([]byte, 4)
	for _, f := range v {
		binary.LittleEndian.PutUint32(b, math.Float32bits(f))
		buf.Write(b)
	}
	return buf.Bytes()
}

// decodeFloat32sInto decodes blob into dst, reusing its capacity.
func decodeFloat32sInto(dst []float32, blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	n := len(blob) / 4
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := 0; i < n; i++ {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return dst, nil
}
