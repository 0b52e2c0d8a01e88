// Package ingestion indexes an uploaded document: it loads page text, splits
// it into overlapping chunks, embeds the chunks in batches, and upserts them
// into the session's vector index.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// ErrIndex is returned when chunks cannot be embedded or stored.
var ErrIndex = errors.New("ingestion: indexing failed")

// DefaultBatchSize is the number of chunks sent per embedding request.
const DefaultBatchSize = 32

// DocumentLoader loads a file into page documents.
type DocumentLoader interface {
	Load(ctx context.Context, path string) ([]*schema.Document, error)
}

// Config holds the configuration for the indexer.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	ChunkSize int

	// ChunkOverlap is the number of characters shared by consecutive chunks.
	ChunkOverlap int

	// BatchSize is the number of chunks embedded per request.
	BatchSize int
}

// Stats describes a completed indexing run.
type Stats struct {
	Pages    int
	Chunks   int
	Duration time.Duration
}

// Indexer orchestrates the load → split → embed → upsert flow for one file.
type Indexer struct {
	loader   DocumentLoader
	splitter *Splitter
	embedder rag.Embedder
	batch    int
}

// NewIndexer constructs an Indexer from the provided dependencies and config.
func NewIndexer(loader DocumentLoader, embedder rag.Embedder, cfg *Config) (*Indexer, error) {
	if loader == nil {
		return nil, fmt.Errorf("ingestion: loader must not be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	size, overlap := cfg.ChunkSize, cfg.ChunkOverlap
	if size <= 0 {
		size = DefaultChunkSize
		if overlap == 0 {
			overlap = DefaultChunkOverlap
		}
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &Indexer{
		loader:   loader,
		splitter: NewSplitter(size, overlap),
		embedder: embedder,
		batch:    batch,
	}, nil
}

// Index loads path and writes its chunks into store. Load failures are
// returned as-is (they wrap loader.ErrLoad); embedding and storage failures
// wrap ErrIndex. The store is not cleaned up on failure; callers reset it.
func (ix *Indexer) Index(ctx context.Context, path string, store rag.VectorStore) (Stats, error) {
	log := logging.FromContext(ctx)
	start := time.Now()

	pages, err := ix.loader.Load(ctx, path)
	if err != nil {
		return Stats{}, err
	}

	chunks, err := ix.splitter.Transform(ctx, pages)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: split: %w", ErrIndex, err)
	}
	if len(chunks) == 0 {
		return Stats{}, fmt.Errorf("%w: no chunks produced", ErrIndex)
	}
	log.Debug("ingestion: split document",
		slog.Int("pages", len(pages)),
		slog.Int("chunks", len(chunks)),
	)

	for lo := 0; lo < len(chunks); lo += ix.batch {
		hi := min(lo+ix.batch, len(chunks))
		batch := chunks[lo:hi]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		embeddings, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			return Stats{}, fmt.Errorf("%w: embedding chunks %d-%d: %w", ErrIndex, lo, hi-1, err)
		}
		if len(embeddings) != len(batch) {
			return Stats{}, fmt.Errorf("%w: embedder returned %d vectors for %d chunks", ErrIndex, len(embeddings), len(batch))
		}

		if err := store.Upsert(ctx, toRAGDocuments(batch), embeddings); err != nil {
			return Stats{}, fmt.Errorf("%w: upsert chunks %d-%d: %w", ErrIndex, lo, hi-1, err)
		}
	}

	stats := Stats{Pages: len(pages), Chunks: len(chunks), Duration: time.Since(start)}
	log.Info("ingestion: document indexed",
		slog.Int("pages", stats.Pages),
		slog.Int("chunks", stats.Chunks),
		slog.Duration("duration", stats.Duration),
	)
	return stats, nil
}

// toRAGDocuments flattens eino documents into the store's string metadata.
func toRAGDocuments(docs []*schema.Document) []rag.Document {
	out := make([]rag.Document, 0, len(docs))
	for _, d := range docs {
		meta := make(map[string]string, len(d.MetaData))
		for k, v := range d.MetaData {
			switch val := v.(type) {
			case string:
				meta[k] = val
			case int:
				meta[k] = strconv.Itoa(val)
			default:
				meta[k] = fmt.Sprint(val)
			}
		}
		source := meta[metaSource]
		delete(meta, metaSource)
		out = append(out, rag.Document{
			ID:       d.ID,
			Content:  d.Content,
			Source:   source,
			Metadata: meta,
		})
	}
	return out
}
