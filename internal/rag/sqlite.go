package rag

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// indexFileName is the SQLite file inside each namespace directory.
const indexFileName = "index.db"

// SQLiteProvider keeps one SQLite index file per namespace under a root
// directory: <root>/<namespace>/index.db.
type SQLiteProvider struct {
	root string
}

// NewSQLiteProvider returns a provider rooted at dir. The directory is
// created lazily on first Open.
func NewSQLiteProvider(dir string) *SQLiteProvider {
	return &SQLiteProvider{root: dir}
}

// Root returns the directory holding every namespace.
func (p *SQLiteProvider) Root() string { return p.root }

// Dir returns the directory holding the namespace's index.
func (p *SQLiteProvider) Dir(namespace string) string {
	return filepath.Join(p.root, namespace)
}

// Open opens (or creates) the namespace's index.
func (p *SQLiteProvider) Open(ctx context.Context, namespace string) (Index, error) {
	if err := CheckNamespace(namespace); err != nil {
		return nil, err
	}
	dir := p.Dir(namespace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("rag: sqlite: create %s: %w", dir, err)
	}
	return OpenSQLiteIndex(ctx, filepath.Join(dir, indexFileName))
}

// Exists reports whether the namespace directory is present.
func (p *SQLiteProvider) Exists(_ context.Context, namespace string) (bool, error) {
	if err := CheckNamespace(namespace); err != nil {
		return false, err
	}
	_, err := os.Stat(p.Dir(namespace))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("rag: sqlite: stat: %w", err)
	}
}

// Remove deletes the namespace directory and everything in it.
func (p *SQLiteProvider) Remove(_ context.Context, namespace string) error {
	if err := CheckNamespace(namespace); err != nil {
		return err
	}
	if err := os.RemoveAll(p.Dir(namespace)); err != nil {
		return fmt.Errorf("rag: sqlite: remove %s: %w", namespace, err)
	}
	return nil
}

// RemoveAll deletes and recreates the root directory.
func (p *SQLiteProvider) RemoveAll(_ context.Context) error {
	if err := os.RemoveAll(p.root); err != nil {
		return fmt.Errorf("rag: sqlite: remove root: %w", err)
	}
	if err := os.MkdirAll(p.root, 0o755); err != nil {
		return fmt.Errorf("rag: sqlite: recreate root: %w", err)
	}
	return nil
}

// Close is a no-op; each index owns its own connection.
func (p *SQLiteProvider) Close() error { return nil }

// SQLiteIndex is an Index stored in a single SQLite file. Embeddings are kept
// as little-endian float32 blobs and searched by brute-force cosine
// similarity, which is ample for a single document.
type SQLiteIndex struct {
	db *sql.DB
}

// OpenSQLiteIndex opens (or creates) an index at path. Use ":memory:" in tests.
func OpenSQLiteIndex(ctx context.Context, path string) (*SQLiteIndex, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("rag: sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	const ddl = `
CREATE TABLE IF NOT EXISTS chunks (
    id         TEXT PRIMARY KEY,
    content    TEXT NOT NULL,
    source     TEXT NOT NULL,
    metadata   TEXT NOT NULL DEFAULT '{}',
    embedding  BLOB NOT NULL
);`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("rag: sqlite: migrate: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

// Upsert stores docs with their embeddings in a single transaction.
func (s *SQLiteIndex) Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("rag: sqlite: %d documents but %d embeddings", len(docs), len(embeddings))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rag: sqlite: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chunks (id, content, source, metadata, embedding) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("rag: sqlite: prepare: %w", err)
	}
	defer stmt.Close()

	for i, doc := range docs {
		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("rag: sqlite: marshal metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, doc.ID, doc.Content, doc.Source, string(meta), encodeVector(embeddings[i])); err != nil {
			return fmt.Errorf("rag: sqlite: insert %s: %w", doc.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rag: sqlite: commit: %w", err)
	}
	return nil
}

// Search scores every stored chunk against the query and returns the best topK.
func (s *SQLiteIndex) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content, source, metadata, embedding FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("rag: sqlite: search: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			doc  Document
			meta string
			blob []byte
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &doc.Source, &meta, &blob); err != nil {
			return nil, fmt.Errorf("rag: sqlite: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("rag: sqlite: metadata for %s: %w", doc.ID, err)
		}
		doc.Score = cosine(queryEmbedding, decodeVector(blob))
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rag: sqlite: rows: %w", err)
	}

	// Ties are broken by ID so results are deterministic.
	slices.SortFunc(docs, func(a, b Document) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return strings.Compare(a.ID, b.ID)
		}
	})
	if topK > 0 && len(docs) > topK {
		docs = docs[:topK]
	}
	return docs, nil
}

// Reset removes every chunk.
func (s *SQLiteIndex) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("rag: sqlite: reset: %w", err)
	}
	return nil
}

// Count returns the number of stored chunks.
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("rag: sqlite: count: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (s *SQLiteIndex) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("rag: sqlite: close: %w", err)
	}
	return nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

// cosine returns the cosine similarity of a and b, or 0 when the lengths
// differ or either vector is zero.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
