package embedder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OpenAIConfig holds the settings for constructing an OpenAIEmbedder.
type OpenAIConfig struct {
	// BaseURL is "https://api.openai.com/v1" for OpenAI, or
	// "https://<resource>.openai.azure.com/openai" for Azure.
	BaseURL string
	// APIKey authenticates the requests.
	APIKey string
	// Model is the embedding model, or the deployment name on Azure.
	Model string
	// Dimensions truncates vectors on models that support it (0 = native size).
	Dimensions int
	// Azure selects deployment URLs and api-key authentication.
	Azure bool
	// APIVersion is the Azure api-version query parameter.
	APIVersion string
}

// OpenAIEmbedder embeds through the OpenAI embeddings API or its Azure
// deployment equivalent.
type OpenAIEmbedder struct {
	url        string
	model      string
	dimensions int
	client     *jsonClient
}

// NewOpenAIEmbedder constructs an OpenAIEmbedder.
func NewOpenAIEmbedder(cfg *OpenAIConfig) *OpenAIEmbedder {
	base := strings.TrimRight(cfg.BaseURL, "/")
	endpoint := base + "/embeddings"
	header := http.Header{"Authorization": {"Bearer " + cfg.APIKey}}
	backend := "openai"
	if cfg.Azure {
		endpoint = fmt.Sprintf("%s/deployments/%s/embeddings?api-version=%s",
			base, url.PathEscape(cfg.Model), url.QueryEscape(cfg.APIVersion))
		header = http.Header{"Api-Key": {cfg.APIKey}}
		backend = "azure"
	}
	return &OpenAIEmbedder{
		url:        endpoint,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     newJSONClient(backend, 30*time.Second, header),
	}
}

// Embed implements rag.Embedder. The API may return vectors in any order;
// they are placed by their index field.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	req := struct {
		Input      []string `json:"input"`
		Model      string   `json:"model"`
		Dimensions int      `json:"dimensions,omitempty"`
	}{texts, e.model, e.dimensions}

	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := e.client.post(ctx, e.url, req, &resp); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("%w: %s: index %d out of range", ErrEmbed, e.client.backend, d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return checkCount(e.client.backend, len(texts), out)
}
