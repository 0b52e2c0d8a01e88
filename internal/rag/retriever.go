package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultTopK is the number of chunks retrieved when none is configured.
const DefaultTopK = 4

// ErrEmptyQuery is returned for a blank question.
var ErrEmptyQuery = errors.New("rag: empty query")

// IndexRetriever answers Retrieve calls from one namespace's index,
// embedding the question with the same model that embedded the chunks.
type IndexRetriever struct {
	embedder Embedder
	store    VectorStore
	topK     int
}

// NewRetriever returns an IndexRetriever over store. topK <= 0 selects
// DefaultTopK.
func NewRetriever(embedder Embedder, store VectorStore, topK int) (*IndexRetriever, error) {
	switch {
	case embedder == nil:
		return nil, fmt.Errorf("rag: embedder must not be nil")
	case store == nil:
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &IndexRetriever{embedder: embedder, store: store, topK: topK}, nil
}

// Retrieve returns up to topK chunks, best first. topK <= 0 uses the
// retriever's own setting. Chunks with identical text (a header repeated on
// every page, say) are returned once.
func (r *IndexRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Document, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if topK <= 0 {
		topK = r.topK
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("rag: embedder returned no vector for the query")
	}

	hits, err := r.store.Search(ctx, vecs[0], topK)
	if err != nil {
		return nil, fmt.Errorf("rag: search: %w", err)
	}

	seen := make(map[string]bool, len(hits))
	out := hits[:0]
	for _, d := range hits {
		key := strings.TrimSpace(d.Content)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	return out, nil
}
