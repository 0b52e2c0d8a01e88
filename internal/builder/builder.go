// Package builder turns a stored PDF into a ready registry entry: it opens
// the namespace's vector index, empties it, indexes the document and builds
// the answering pipeline over it.
package builder

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/sony/gobreaker"

	"github.com/54b3r/docqa-go/internal/ingestion"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/qa"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/registry"
)

// Config holds the dependencies of a Builder.
type Config struct {
	// Indexes opens per-namespace vector indexes.
	Indexes rag.IndexProvider
	// Indexer loads, splits, embeds and stores a document.
	Indexer *ingestion.Indexer
	// Embedder embeds questions at retrieval time. It must be the embedder
	// the Indexer uses.
	Embedder rag.Embedder
	// ChatModel generates answers.
	ChatModel model.BaseChatModel
	// Breaker guards ChatModel. Optional.
	Breaker *gobreaker.CircuitBreaker
	// TopK is the number of chunks retrieved per question.
	TopK int
	// MaxContextTokens bounds the prompt size.
	MaxContextTokens int
}

// Builder builds registry entries.
type Builder struct {
	cfg Config
}

// New returns a Builder for cfg.
func New(cfg Config) (*Builder, error) {
	switch {
	case cfg.Indexes == nil:
		return nil, fmt.Errorf("builder: Indexes must not be nil")
	case cfg.Indexer == nil:
		return nil, fmt.Errorf("builder: Indexer must not be nil")
	case cfg.Embedder == nil:
		return nil, fmt.Errorf("builder: Embedder must not be nil")
	case cfg.ChatModel == nil:
		return nil, fmt.Errorf("builder: ChatModel must not be nil")
	}
	return &Builder{cfg: cfg}, nil
}

// Build indexes the PDF at path into the namespace's index and returns the
// entry to install in the registry. On error the index handle is closed;
// callers reset the namespace to drop partial state.
func (b *Builder) Build(ctx context.Context, namespace, path string) (_ *registry.Entry, err error) {
	log := logging.FromContext(ctx).With(slog.String("namespace", namespace))

	idx, err := b.cfg.Indexes.Open(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("%w: open index: %w", ingestion.ErrIndex, err)
	}
	defer func() {
		if err != nil {
			_ = idx.Close()
		}
	}()

	// A namespace's index only ever holds the current document.
	if err := idx.Reset(ctx); err != nil {
		return nil, fmt.Errorf("%w: reset index: %w", ingestion.ErrIndex, err)
	}

	stats, err := b.cfg.Indexer.Index(ctx, path, idx)
	if err != nil {
		return nil, err
	}

	ret, err := rag.NewRetriever(b.cfg.Embedder, idx, b.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("builder: retriever: %w", err)
	}
	pipe, err := qa.New(ctx, &qa.Config{
		ChatModel:        b.cfg.ChatModel,
		Retriever:        ret,
		TopK:             b.cfg.TopK,
		MaxContextTokens: b.cfg.MaxContextTokens,
		Breaker:          b.cfg.Breaker,
	})
	if err != nil {
		return nil, fmt.Errorf("builder: pipeline: %w", err)
	}

	log.Info("builder: pipeline ready",
		slog.String("document", filepath.Base(path)),
		slog.Int("pages", stats.Pages),
		slog.Int("chunks", stats.Chunks),
		slog.Duration("duration", stats.Duration),
	)
	return &registry.Entry{
		Index:        idx,
		Pipeline:     pipe,
		DocumentName: filepath.Base(path),
		IndexedAt:    time.Now(),
		Chunks:       stats.Chunks,
	}, nil
}
