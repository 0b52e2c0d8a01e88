package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// httpHealthCheck issues a GET against a cheap listing endpoint of the
// backend. It never calls a generation endpoint.
type httpHealthCheck struct {
	url    string
	header http.Header
	client *http.Client
}

// HealthCheck returns nil when the endpoint answers with a 2xx status.
func (h *httpHealthCheck) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, vs := range h.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// NewHealthChecker returns a token-free probe for the configured backend, or
// nil when the backend has no cheap listing endpoint.
func NewHealthChecker(cfg *Config) HealthChecker {
	client := &http.Client{Timeout: 5 * time.Second}
	switch cfg.Backend {
	case BackendOllama:
		return &httpHealthCheck{
			url:    strings.TrimRight(cfg.Ollama.Host, "/") + "/api/tags",
			client: client,
		}
	case BackendOpenAI:
		return &httpHealthCheck{
			url:    "https://api.openai.com/v1/models",
			header: http.Header{"Authorization": []string{"Bearer " + cfg.OpenAI.APIKey}},
			client: client,
		}
	case BackendAzure:
		az := cfg.AzureOpenAI
		return &httpHealthCheck{
			url:    strings.TrimRight(az.Endpoint, "/") + "/openai/models?api-version=" + az.APIVersion,
			header: http.Header{"api-key": []string{az.APIKey}},
			client: client,
		}
	case BackendGemini:
		return &httpHealthCheck{
			url:    "https://generativelanguage.googleapis.com/v1beta/models",
			header: http.Header{"x-goog-api-key": []string{cfg.Gemini.APIKey}},
			client: client,
		}
	}
	return nil
}
