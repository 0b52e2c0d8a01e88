// Package config provides layered configuration for docqa.
// Configuration is resolved with the precedence: defaults → .env file → YAML
// file → env vars. Environment variables always win, so existing workflows
// are unaffected.
//
// YAML file search order:
//  1. --config CLI flag (explicit path)
//  2. DOCQA_CONFIG environment variable
//  3. ~/.docqa/config.yaml
//  4. ./docqa.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the LLM chat model provider.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider used for indexing.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Qdrant configures the optional Qdrant vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Storage configures on-disk locations for uploads, indexes, and history.
	Storage StorageConfig `yaml:"storage"`

	// Index configures chunking and retrieval.
	Index IndexConfig `yaml:"index"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig holds LLM chat model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai, azure, ark, gemini.
	Provider string `yaml:"provider"`

	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls response randomness (0.0–1.0).
	Temperature float32 `yaml:"temperature"`

	// Ollama holds Ollama-specific settings.
	Ollama OllamaConfig `yaml:"ollama"`

	// OpenAI holds OpenAI-specific settings.
	OpenAI OpenAIConfig `yaml:"openai"`

	// Azure holds Azure OpenAI-specific settings.
	Azure AzureConfig `yaml:"azure"`

	// Ark holds Volcengine Ark-specific settings.
	Ark ArkConfig `yaml:"ark"`

	// Gemini holds Google Gemini-specific settings.
	Gemini GeminiConfig `yaml:"gemini"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
	// Model is the Ollama model name.
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the OpenAI model name.
	Model string `yaml:"model"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint"`
	// Deployment is the Azure OpenAI deployment name.
	Deployment string `yaml:"deployment"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
}

// ArkConfig holds Volcengine Ark provider settings.
type ArkConfig struct {
	// APIKey is the Ark API key. Prefer env var ARK_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Ark endpoint/model identifier.
	Model string `yaml:"model"`
	// BaseURL overrides the Ark API base URL.
	BaseURL string `yaml:"base_url"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Gemini model name.
	Model string `yaml:"model"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
}

// QdrantConfig holds Qdrant vector store settings. When Host is empty the
// embedded SQLite index is used instead.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name prefix.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var DOCQA_API_KEY.
	APIKey string `yaml:"api_key"`
	// PerSession gives every browser session its own namespace instead of
	// the single shared one.
	PerSession bool `yaml:"per_session"`
	// SessionTTL is the idle expiry of a session's pipeline, e.g. "2h".
	SessionTTL string `yaml:"session_ttl"`
	// MaxUploadMB caps the upload size. Zero means unlimited.
	MaxUploadMB int `yaml:"max_upload_mb"`
}

// StorageConfig holds on-disk locations.
type StorageConfig struct {
	// UploadsDir is the root directory for uploaded documents.
	UploadsDir string `yaml:"uploads_dir"`
	// IndexDir is the root directory for the embedded vector index.
	IndexDir string `yaml:"index_dir"`
	// HistoryDB is the SQLite path for Q&A history. "disabled" disables it.
	HistoryDB string `yaml:"history_db"`
}

// IndexConfig holds chunking and retrieval settings.
type IndexConfig struct {
	// ChunkSize is the maximum number of characters per chunk.
	ChunkSize int `yaml:"chunk_size"`
	// ChunkOverlap is the number of characters shared by consecutive chunks.
	ChunkOverlap int `yaml:"chunk_overlap"`
	// TopK is the number of chunks retrieved per question.
	TopK int `yaml:"top_k"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
	// File is an optional rotated log file path.
	File string `yaml:"file"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"MODEL_PROVIDER", func(c *Config) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *Config) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *Config) string { return float32Str(c.Model.Temperature) }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *Config) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *Config) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *Config) string { return c.Model.OpenAI.Model }},
	{"AZURE_OPENAI_API_KEY", func(c *Config) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *Config) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *Config) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *Config) string { return c.Model.Azure.APIVersion }},
	{"ARK_API_KEY", func(c *Config) string { return c.Model.Ark.APIKey }},
	{"ARK_MODEL", func(c *Config) string { return c.Model.Ark.Model }},
	{"ARK_BASE_URL", func(c *Config) string { return c.Model.Ark.BaseURL }},
	{"GOOGLE_API_KEY", func(c *Config) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *Config) string { return c.Model.Gemini.Model }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"DOCQA_HOST", func(c *Config) string { return c.Server.Host }},
	{"DOCQA_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"DOCQA_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"DOCQA_PER_SESSION", func(c *Config) string { return boolStr(c.Server.PerSession) }},
	{"DOCQA_SESSION_TTL", func(c *Config) string { return c.Server.SessionTTL }},
	{"DOCQA_MAX_UPLOAD_MB", func(c *Config) string { return intStr(c.Server.MaxUploadMB) }},
	{"DOCQA_UPLOADS_DIR", func(c *Config) string { return c.Storage.UploadsDir }},
	{"DOCQA_INDEX_DIR", func(c *Config) string { return c.Storage.IndexDir }},
	{"DOCQA_HISTORY_DB", func(c *Config) string { return c.Storage.HistoryDB }},
	{"DOCQA_CHUNK_SIZE", func(c *Config) string { return intStr(c.Index.ChunkSize) }},
	{"DOCQA_CHUNK_OVERLAP", func(c *Config) string { return intStr(c.Index.ChunkOverlap) }},
	{"DOCQA_TOP_K", func(c *Config) string { return intStr(c.Index.TopK) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"LOG_FILE", func(c *Config) string { return c.Logging.File }},
	{"LANGFUSE_PUBLIC_KEY", func(c *Config) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *Config) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *Config) string { return c.Tracing.Host }},
}

// LoadDotEnv loads variables from the given .env files (default: ./.env)
// without overriding variables already present in the environment. A missing
// file is not an error.
func LoadDotEnv(log *slog.Logger, files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				log.Debug("config: no .env file", slog.String("path", f))
				continue
			}
			return fmt.Errorf("config: failed to load %s: %w", f, err)
		}
		log.Debug("config: loaded .env file", slog.String("path", f))
	}
	return nil
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set — do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("DOCQA_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".docqa", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("docqa.yaml"); err == nil {
		return "docqa.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
