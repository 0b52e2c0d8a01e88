package rag

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func openTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	idx, err := OpenSQLiteIndex(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open in-memory index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestSQLiteIndex_UpsertSearch(t *testing.T) {
	t.Parallel()
	idx := openTestIndex(t)
	ctx := context.Background()

	docs := []Document{
		{ID: "a", Content: "capital", Source: "sample.pdf", Metadata: map[string]string{"page": "1"}},
		{ID: "b", Content: "weather", Source: "sample.pdf"},
		{ID: "c", Content: "population", Source: "sample.pdf"},
	}
	vecs := [][]float32{{1, 0}, {0, 1}, {0.7, 0.7}}
	if err := idx.Upsert(ctx, docs, vecs); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := idx.Search(ctx, []float32{1, 0.1}, 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 results, got %d", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
	if got[0].Metadata["page"] != "1" || got[0].Source != "sample.pdf" {
		t.Errorf("metadata not round-tripped: %+v", got[0])
	}
	if got[0].Score <= got[1].Score {
		t.Errorf("scores not descending: %v <= %v", got[0].Score, got[1].Score)
	}
}

func TestSQLiteIndex_UpsertReplaces(t *testing.T) {
	t.Parallel()
	idx := openTestIndex(t)
	ctx := context.Background()

	for _, content := range []string{"old", "new"} {
		if err := idx.Upsert(ctx, []Document{{ID: "x", Content: content}}, [][]float32{{1}}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	n, err := idx.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("want 1 chunk after replace, got %d", n)
	}
	got, _ := idx.Search(ctx, []float32{1}, 1)
	if got[0].Content != "new" {
		t.Errorf("content = %q, want new", got[0].Content)
	}
}

func TestSQLiteIndex_LengthMismatch(t *testing.T) {
	t.Parallel()
	idx := openTestIndex(t)

	err := idx.Upsert(context.Background(), []Document{{ID: "x"}}, nil)
	if err == nil {
		t.Fatal("expected error for mismatched embeddings")
	}
}

func TestSQLiteIndex_Reset(t *testing.T) {
	t.Parallel()
	idx := openTestIndex(t)
	ctx := context.Background()

	docs := []Document{{ID: "a"}, {ID: "b"}}
	if err := idx.Upsert(ctx, docs, [][]float32{{1}, {1}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if n, _ := idx.Count(ctx); n != 2 {
		t.Errorf("after upsert: want 2, got %d", n)
	}
	if err := idx.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n, _ := idx.Count(ctx); n != 0 {
		t.Errorf("after reset: want 0, got %d", n)
	}
}

func TestSQLiteProvider_Lifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := NewSQLiteProvider(filepath.Join(t.TempDir(), "indexes"))

	if ok, err := p.Exists(ctx, "abc123"); err != nil || ok {
		t.Fatalf("Exists before open = %v, %v", ok, err)
	}

	idx, err := p.Open(ctx, "abc123")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.Upsert(ctx, []Document{{ID: "a"}}, [][]float32{{1}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(p.Dir("abc123"), indexFileName)); err != nil {
		t.Fatalf("index file missing: %v", err)
	}

	if err := p.Remove(ctx, "abc123"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if ok, _ := p.Exists(ctx, "abc123"); ok {
		t.Error("namespace still exists after Remove")
	}
	if err := p.Remove(ctx, "abc123"); err != nil {
		t.Errorf("second remove should be a no-op: %v", err)
	}
}

func TestSQLiteProvider_RemoveAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := NewSQLiteProvider(filepath.Join(t.TempDir(), "indexes"))

	for _, ns := range []string{"one", "two"} {
		idx, err := p.Open(ctx, ns)
		if err != nil {
			t.Fatalf("open %s: %v", ns, err)
		}
		_ = idx.Close()
	}
	if err := p.RemoveAll(ctx); err != nil {
		t.Fatalf("remove all: %v", err)
	}
	entries, err := os.ReadDir(p.Root())
	if err != nil {
		t.Fatalf("root should be recreated: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("want empty root, got %d entries", len(entries))
	}
}

func TestSQLiteProvider_RejectsTraversal(t *testing.T) {
	t.Parallel()
	p := NewSQLiteProvider(t.TempDir())

	if _, err := p.Open(context.Background(), "../escape"); err == nil {
		t.Fatal("expected invalid namespace error")
	}
}

func TestCosine(t *testing.T) {
	t.Parallel()

	if got := cosine([]float32{1, 0}, []float32{1, 0}); got < 0.999 {
		t.Errorf("identical vectors: got %v", got)
	}
	if got := cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("orthogonal vectors: got %v", got)
	}
	if got := cosine([]float32{1}, []float32{1, 0}); got != 0 {
		t.Errorf("length mismatch: got %v", got)
	}
}

func TestVectorEncoding(t *testing.T) {
	t.Parallel()

	in := []float32{0.25, -1.5, 3}
	out := decodeVector(encodeVector(in))
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("decoded %v, want %v", out, in)
		}
	}
}
