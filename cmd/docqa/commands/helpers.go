package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/sony/gobreaker"

	"github.com/54b3r/docqa-go/internal/builder"
	"github.com/54b3r/docqa-go/internal/embedder"
	"github.com/54b3r/docqa-go/internal/ingestion"
	"github.com/54b3r/docqa-go/internal/loader"
	"github.com/54b3r/docqa-go/internal/provider"
	"github.com/54b3r/docqa-go/internal/qa"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/server"
)

const (
	defaultUploadsDir = "uploads"
	defaultIndexDir   = ".docqa/index"
)

// stack holds the model-facing components shared by serve and ask.
type stack struct {
	providerCfg *provider.Config
	chatModel   model.BaseChatModel
	embedCfg    embedder.Config
	embedder    rag.Embedder
	indexer     *ingestion.Indexer
	breaker     *gobreaker.CircuitBreaker
}

// buildStack constructs the chat model, embedder and indexer from the
// environment.
func buildStack(ctx context.Context, log *slog.Logger) (*stack, error) {
	providerCfg := provider.ConfigFromEnv()
	chatModel, err := provider.New(ctx, providerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised",
		slog.String("provider", string(providerCfg.Backend)),
		slog.String("model", providerCfg.ModelName()),
	)

	embedCfg := embedder.ConfigFromEnv()
	emb, err := embedder.New(ctx, embedCfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised",
		slog.String("provider", embedCfg.Backend),
		slog.String("model", embedCfg.Model),
	)

	ld, err := loader.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise PDF loader: %w", err)
	}
	indexer, err := ingestion.NewIndexer(ld, emb, &ingestion.Config{
		ChunkSize:    getEnvInt("DOCQA_CHUNK_SIZE", 0),
		ChunkOverlap: getEnvInt("DOCQA_CHUNK_OVERLAP", 0),
		BatchSize:    getEnvInt("DOCQA_EMBED_BATCH", 0),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialise indexer: %w", err)
	}

	return &stack{
		providerCfg: providerCfg,
		chatModel:   chatModel,
		embedCfg:    embedCfg,
		embedder:    emb,
		indexer:     indexer,
		breaker:     qa.NewBreaker(qa.BreakerSettings{}, log),
	}, nil
}

// builder returns a pipeline builder over indexes.
func (s *stack) builder(indexes rag.IndexProvider) (*builder.Builder, error) {
	return builder.New(builder.Config{
		Indexes:          indexes,
		Indexer:          s.indexer,
		Embedder:         s.embedder,
		ChatModel:        s.chatModel,
		Breaker:          s.breaker,
		TopK:             getEnvInt("DOCQA_TOP_K", rag.DefaultTopK),
		MaxContextTokens: getEnvInt("DOCQA_MAX_CONTEXT_TOKENS", 0),
	})
}

// buildIndexProvider selects Qdrant when QDRANT_HOST is set and the embedded
// SQLite index under dir otherwise. The returned pinger probes the chosen
// backend.
func buildIndexProvider(embedCfg embedder.Config, dir string, log *slog.Logger) (rag.IndexProvider, server.Pinger, error) {
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		p := rag.NewSQLiteProvider(dir)
		log.Info("vector index: embedded sqlite", slog.String("dir", p.Root()))
		return p, server.NewFuncPinger("index", func(context.Context) error {
			if err := os.MkdirAll(p.Root(), 0o750); err != nil {
				return fmt.Errorf("index directory unavailable: %w", err)
			}
			return nil
		}), nil
	}

	p, err := rag.NewQdrantProvider(&rag.QdrantConfig{
		Host:       host,
		Port:       getEnvInt("QDRANT_PORT", 6334),
		Collection: getEnvOrDefault("QDRANT_COLLECTION", "docqa"),
		VectorSize: uint64(embedCfg.Dimensions), //nolint:gosec // dimensions are bounded
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, nil, err
	}
	log.Info("vector index: qdrant", slog.String("host", host))
	return p, server.NewQdrantPinger(p.Client()), nil
}

// getEnvOrDefault returns the value of the environment variable key, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of key, or fallback when it is unset
// or not a number.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvBool returns the boolean value of key, or fallback.
func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration returns the duration value of key, or fallback.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList returns the comma-separated values of key with blanks dropped,
// or fallback when it is unset.
func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
