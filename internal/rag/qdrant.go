package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the prefix of every per-namespace collection.
	Collection string

	// VectorSize is the dimensionality of the stored embeddings.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantProvider stores each namespace in its own collection named
// "<prefix>-<namespace>" on one shared gRPC client.
type QdrantProvider struct {
	client *qdrant.Client
	cfg    *QdrantConfig
}

// NewQdrantProvider connects to Qdrant. Collections are created lazily.
func NewQdrantProvider(cfg *QdrantConfig) (*QdrantProvider, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "docqa"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}
	return &QdrantProvider{client: client, cfg: cfg}, nil
}

// Client exposes the underlying client for readiness probes.
func (p *QdrantProvider) Client() *qdrant.Client { return p.client }

// CollectionName returns the collection backing a namespace.
func (p *QdrantProvider) CollectionName(namespace string) string {
	return p.cfg.Collection + "-" + namespace
}

// Open ensures the namespace's collection exists and returns a handle to it.
func (p *QdrantProvider) Open(ctx context.Context, namespace string) (Index, error) {
	if err := CheckNamespace(namespace); err != nil {
		return nil, err
	}
	idx := &QdrantIndex{
		client:     p.client,
		collection: p.CollectionName(namespace),
		vectorSize: p.cfg.VectorSize,
	}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// Exists reports whether the namespace's collection exists.
func (p *QdrantProvider) Exists(ctx context.Context, namespace string) (bool, error) {
	if err := CheckNamespace(namespace); err != nil {
		return false, err
	}
	ok, err := p.client.CollectionExists(ctx, p.CollectionName(namespace))
	if err != nil {
		return false, fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	return ok, nil
}

// Remove drops the namespace's collection if it exists.
func (p *QdrantProvider) Remove(ctx context.Context, namespace string) error {
	ok, err := p.Exists(ctx, namespace)
	if err != nil || !ok {
		return err
	}
	if err := p.client.DeleteCollection(ctx, p.CollectionName(namespace)); err != nil {
		return fmt.Errorf("qdrant: failed to delete collection: %w", err)
	}
	return nil
}

// RemoveAll drops every collection carrying this provider's prefix.
func (p *QdrantProvider) RemoveAll(ctx context.Context) error {
	names, err := p.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("qdrant: failed to list collections: %w", err)
	}
	prefix := p.cfg.Collection + "-"
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if err := p.client.DeleteCollection(ctx, name); err != nil {
			return fmt.Errorf("qdrant: failed to delete collection %q: %w", name, err)
		}
	}
	return nil
}

// Close closes the shared gRPC connection.
func (p *QdrantProvider) Close() error {
	return p.client.Close()
}

// QdrantIndex implements Index on a single Qdrant collection.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	vectorSize uint64
}

// ensureCollection creates the collection if it does not already exist.
func (s *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.vectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.collection, err)
	}
	return nil
}

// Upsert stores docs with their embeddings. Document IDs must be UUIDs.
func (s *QdrantIndex) Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("qdrant: %d documents but %d embeddings", len(docs), len(embeddings))
	}
	points := make([]*qdrant.PointStruct, 0, len(docs))
	for i, doc := range docs {
		payload := map[string]any{
			"content": doc.Content,
			"source":  doc.Source,
		}
		for k, v := range doc.Metadata {
			payload[k] = v
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(doc.ID),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// Search performs a cosine similarity search and returns the top-k results.
func (s *QdrantIndex) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Document, error) {
	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	docs := make([]Document, 0, len(results))
	for _, r := range results {
		doc := Document{
			ID:       r.Id.GetUuid(),
			Score:    r.Score,
			Metadata: make(map[string]string),
		}
		for k, v := range r.Payload {
			switch k {
			case "content":
				doc.Content = v.GetStringValue()
			case "source":
				doc.Source = v.GetStringValue()
			default:
				doc.Metadata[k] = v.GetStringValue()
			}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Reset drops and recreates the collection.
func (s *QdrantIndex) Reset(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("qdrant: reset %q: %w", s.collection, err)
	}
	return s.ensureCollection(ctx)
}

// Count returns the exact number of points in the collection.
func (s *QdrantIndex) Count(ctx context.Context) (int, error) {
	exact := true
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w", err)
	}
	return int(n), nil
}

// Close is a no-op; the client is owned by the provider.
func (s *QdrantIndex) Close() error { return nil }
