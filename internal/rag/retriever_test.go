package rag

import (
	"context"
	"errors"
	"testing"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func TestNewRetriever_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewRetriever(nil, openTestIndex(t), 3); err == nil {
		t.Error("expected error for nil embedder")
	}
	if _, err := NewRetriever(&fakeEmbedder{}, nil, 3); err == nil {
		t.Error("expected error for nil store")
	}
}

func TestIndexRetriever_Retrieve(t *testing.T) {
	t.Parallel()
	idx := openTestIndex(t)
	ctx := context.Background()

	docs := []Document{{ID: "1", Content: "one"}, {ID: "2", Content: "two"}, {ID: "3", Content: "three"}}
	if err := idx.Upsert(ctx, docs, [][]float32{{1, 0}, {0, 1}, {1, 1}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	r, err := NewRetriever(&fakeEmbedder{vec: []float32{1, 0}}, idx, 0)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	got, err := r.Retrieve(ctx, "which is one?", 0)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want %d results (default top-k capped by corpus), got %d", 3, len(got))
	}
	if got[0].Content != "one" {
		t.Errorf("best match = %q, want one", got[0].Content)
	}

	got, _ = r.Retrieve(ctx, "which is one?", 1)
	if len(got) != 1 {
		t.Errorf("explicit topK ignored: got %d", len(got))
	}
}

func TestIndexRetriever_EmbedError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	r, _ := NewRetriever(&fakeEmbedder{err: boom}, openTestIndex(t), 2)
	if _, err := r.Retrieve(context.Background(), "q", 0); !errors.Is(err, boom) {
		t.Fatalf("want wrapped embed error, got %v", err)
	}
}

func TestIndexRetriever_EmptyQuery(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{vec: []float32{1}}
	r, _ := NewRetriever(emb, openTestIndex(t), 2)
	if _, err := r.Retrieve(context.Background(), "  \n ", 0); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("want ErrEmptyQuery, got %v", err)
	}
}

func TestIndexRetriever_CollapsesDuplicateText(t *testing.T) {
	t.Parallel()
	idx := openTestIndex(t)
	ctx := context.Background()

	docs := []Document{
		{ID: "1", Content: "ACME Corp confidential"},
		{ID: "2", Content: "ACME Corp confidential "},
		{ID: "3", Content: "revenue grew 12%"},
	}
	if err := idx.Upsert(ctx, docs, [][]float32{{1, 0}, {1, 0.01}, {0.5, 0.5}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	r, _ := NewRetriever(&fakeEmbedder{vec: []float32{1, 0}}, idx, 3)
	got, err := r.Retrieve(ctx, "who wrote this?", 0)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 distinct passages, got %d: %+v", len(got), got)
	}
	if got[1].Content != "revenue grew 12%" {
		t.Errorf("second passage = %q", got[1].Content)
	}
}

func TestCheckNamespace(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"shared", "0123456789abcdef0123456789abcdef", "ask-1"} {
		if err := CheckNamespace(ok); err != nil {
			t.Errorf("CheckNamespace(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "..", "a/b", "a b"} {
		if err := CheckNamespace(bad); err == nil {
			t.Errorf("CheckNamespace(%q) should fail", bad)
		}
	}
}
