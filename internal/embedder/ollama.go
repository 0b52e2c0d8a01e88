package embedder

import (
	"context"
	"strings"
	"time"
)

// OllamaConfig holds the settings for constructing an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the Ollama server base URL (e.g. "http://localhost:11434").
	Host string
	// Model is the embedding model name (e.g. "nomic-embed-text").
	Model string
}

// OllamaEmbedder embeds through Ollama's batch /api/embed endpoint.
type OllamaEmbedder struct {
	url    string
	model  string
	client *jsonClient
}

// NewOllamaEmbedder constructs an OllamaEmbedder. Local models can be slow
// on the first call while they load, hence the generous timeout.
func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	return &OllamaEmbedder{
		url:    strings.TrimRight(cfg.Host, "/") + "/api/embed",
		model:  cfg.Model,
		client: newJSONClient("ollama", 2*time.Minute, nil),
	}
}

// Embed implements rag.Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	req := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{e.model, texts}

	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.post(ctx, e.url, req, &resp); err != nil {
		return nil, err
	}
	return checkCount("ollama", len(texts), resp.Embeddings)
}
