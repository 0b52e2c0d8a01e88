// Package rag defines the retrieval side of docqa: the per-session vector
// index, embedding, and similarity retrieval. Concrete indexes (embedded
// SQLite, Qdrant) satisfy these interfaces so the rest of the server never
// depends on a specific backend.
package rag

import (
	"context"
)

// Document represents a unit of stored or retrieved text.
type Document struct {
	// ID is the unique identifier for this chunk.
	ID string

	// Content is the raw text content of the chunk.
	Content string

	// Source is the file name of the document the chunk came from.
	Source string

	// Metadata holds page and chunk position information.
	Metadata map[string]string

	// Score is the cosine similarity assigned during retrieval.
	// Zero value means the score was not computed.
	Score float32
}

// VectorStore is the interface for persisting and searching document embeddings.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert stores or updates a batch of documents with their pre-computed embeddings.
	// The embeddings slice must be parallel to docs: embeddings[i] is the vector for docs[i].
	Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error

	// Search returns the top-k documents most similar to the query embedding.
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Document, error)

	// Close releases any resources held by the store.
	Close() error
}

// Index is one namespace's vector store. Reset empties it in place so a new
// document never shares an index with the previous one.
type Index interface {
	VectorStore

	// Reset removes every stored chunk.
	Reset(ctx context.Context) error

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)
}

// IndexProvider opens and disposes of per-namespace indexes.
// Implementations must be safe to call from multiple goroutines.
type IndexProvider interface {
	// Open returns the namespace's index, creating it if absent.
	Open(ctx context.Context, namespace string) (Index, error)

	// Exists reports whether persistent state exists for the namespace.
	Exists(ctx context.Context, namespace string) (bool, error)

	// Remove deletes the namespace's persistent state. Callers must close
	// any open handle first. Removing an absent namespace is not an error.
	Remove(ctx context.Context, namespace string) error

	// RemoveAll deletes the persistent state of every namespace.
	RemoveAll(ctx context.Context) error

	// Close releases resources shared by every index of this provider.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever fetches the chunks most relevant to a question.
// Implementations must be safe to call from multiple goroutines.
type Retriever interface {
	// Retrieve returns the top-k most relevant documents for the given query.
	Retrieve(ctx context.Context, query string, topK int) ([]Document, error)
}
