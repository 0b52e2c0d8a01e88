// Package embedder converts document chunks and questions into dense vectors.
// Ollama and OpenAI-compatible backends are spoken to over plain HTTP; Gemini
// goes through the google.golang.org/genai SDK the chat provider already uses.
package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/54b3r/docqa-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"
	defaultGeminiModel = "text-embedding-004"

	defaultOllamaDimensions = 768
	defaultOpenAIDimensions = 1536
	defaultGeminiDimensions = 768
)

// Config is the resolved embedding configuration.
type Config struct {
	// Backend is one of ollama, openai, azure, gemini.
	Backend string
	// Model is the embedding model or Azure deployment.
	Model string
	// Endpoint is the API base URL (host for Ollama, resource for Azure).
	Endpoint string
	// APIKey authenticates against the backend.
	APIKey string
	// APIVersion is the Azure OpenAI API version.
	APIVersion string
	// Dimensions is the vector size. Zero means the backend default.
	Dimensions int
}

// ConfigFromEnv resolves a Config using cascading defaults that inherit from
// the chat provider configuration when embedding-specific overrides are unset.
//
//  1. EMBEDDING_PROVIDER, else MODEL_PROVIDER, else ollama. Ark has no
//     embedding endpoint here and falls back to ollama.
//  2. EMBEDDING_MODEL, EMBEDDING_API_KEY, EMBEDDING_ENDPOINT override the
//     per-backend values inherited from the chat provider's env vars.
//  3. EMBEDDING_DIMENSIONS overrides the backend's default vector size.
func ConfigFromEnv() Config {
	backend := os.Getenv("EMBEDDING_PROVIDER")
	if backend == "" {
		backend = getEnvOrDefault("MODEL_PROVIDER", "ollama")
		if backend == "ark" {
			backend = "ollama"
		}
	}

	cfg := Config{
		Backend:  backend,
		Model:    os.Getenv("EMBEDDING_MODEL"),
		Endpoint: os.Getenv("EMBEDDING_ENDPOINT"),
		APIKey:   os.Getenv("EMBEDDING_API_KEY"),
	}

	switch backend {
	case "ollama":
		cfg.Endpoint = firstNonEmpty(cfg.Endpoint, os.Getenv("OLLAMA_HOST"), "http://localhost:11434")
		cfg.Model = firstNonEmpty(cfg.Model, defaultOllamaModel)
	case "openai":
		cfg.Endpoint = firstNonEmpty(cfg.Endpoint, "https://api.openai.com/v1")
		cfg.APIKey = firstNonEmpty(cfg.APIKey, os.Getenv("OPENAI_API_KEY"))
		cfg.Model = firstNonEmpty(cfg.Model, defaultOpenAIModel)
	case "azure":
		cfg.Endpoint = firstNonEmpty(cfg.Endpoint, os.Getenv("AZURE_OPENAI_ENDPOINT"))
		cfg.APIKey = firstNonEmpty(cfg.APIKey, os.Getenv("AZURE_OPENAI_API_KEY"))
		cfg.Model = firstNonEmpty(cfg.Model, defaultOpenAIModel)
		cfg.APIVersion = getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-01")
	case "gemini":
		cfg.APIKey = firstNonEmpty(cfg.APIKey, os.Getenv("GOOGLE_API_KEY"))
		cfg.Model = firstNonEmpty(cfg.Model, defaultGeminiModel)
	}
	cfg.Dimensions = getEnvInt("EMBEDDING_DIMENSIONS", DefaultDimensions(backend))
	return cfg
}

// DefaultDimensions returns the default vector size for a backend.
func DefaultDimensions(backend string) int {
	switch backend {
	case "ollama":
		return defaultOllamaDimensions
	case "gemini":
		return defaultGeminiDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// Validate reports configuration that would fail on the first embed call.
func (c Config) Validate() error {
	switch c.Backend {
	case "ollama":
	case "openai":
		if c.APIKey == "" {
			return fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
	case "azure":
		if c.APIKey == "" {
			return fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		if c.Endpoint == "" {
			return fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
	case "gemini":
		if c.APIKey == "" {
			return fmt.Errorf("embedder: gemini requires GOOGLE_API_KEY or EMBEDDING_API_KEY")
		}
	default:
		return fmt.Errorf("embedder: unknown backend %q, valid values: ollama, openai, azure, gemini", c.Backend)
	}
	return nil
}

// New constructs an embedder for cfg. A model name that looks like a chat
// model is logged as a warning, since it usually means a misconfiguration.
func New(ctx context.Context, cfg Config, log *slog.Logger) (rag.Embedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if looksLikeChatModel(cfg.Model) {
		log.Warn("embedder: EMBEDDING_MODEL looks like a chat model, not an embedding model",
			slog.String("model", cfg.Model),
			slog.String("hint", "use a dedicated embedding model e.g. nomic-embed-text, text-embedding-3-small"),
		)
	}

	switch cfg.Backend {
	case "ollama":
		return NewOllamaEmbedder(&OllamaConfig{Host: cfg.Endpoint, Model: cfg.Model}), nil
	case "openai":
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		}), nil
	case "azure":
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    strings.TrimRight(cfg.Endpoint, "/") + "/openai",
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Azure:      true,
			APIVersion: cfg.APIVersion,
		}), nil
	default:
		return NewGeminiEmbedder(ctx, &GeminiConfig{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
	}
}

// knownChatModelFragments identify chat/completion models that are not
// suitable for embedding.
var knownChatModelFragments = []string{
	"gpt-4", "gpt-3.5", "gpt-35", "o1", "o3",
	"llama3", "llama-3", "mistral", "mixtral", "gemma",
	"claude", "deepseek", "qwen", "gemini-",
}

func looksLikeChatModel(model string) bool {
	lower := strings.ToLower(model)
	for _, f := range knownChatModelFragments {
		if strings.Contains(lower, f) {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
