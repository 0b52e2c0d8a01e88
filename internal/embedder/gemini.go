package embedder

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiConfig holds the settings for constructing a GeminiEmbedder.
type GeminiConfig struct {
	APIKey     string
	Model      string
	Dimensions int
}

// GeminiEmbedder implements rag.Embedder with the Gemini embedContent API.
type GeminiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int32
}

// NewGeminiEmbedder constructs a GeminiEmbedder backed by AI Studio.
func NewGeminiEmbedder(ctx context.Context, cfg *GeminiConfig) (*GeminiEmbedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: create client: %w", err)
	}
	return &GeminiEmbedder{client: client, model: cfg.Model, dimensions: int32(cfg.Dimensions)}, nil
}

// Embed converts a batch of texts into their corresponding embeddings.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
	}

	var cfg *genai.EmbedContentConfig
	if e.dimensions > 0 {
		dims := e.dimensions
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &dims}
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini: %w", ErrEmbed, err)
	}
	out := make([][]float32, 0, len(resp.Embeddings))
	for _, emb := range resp.Embeddings {
		out = append(out, emb.Values)
	}
	return checkCount("gemini", len(texts), out)
}
