// Package provider selects and constructs the chat model that answers
// questions about an uploaded document. Supported backends: Ollama, OpenAI,
// Azure OpenAI, Volcengine Ark, Google Gemini.
package provider

import (
	"context"
	"fmt"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects Volcengine Ark.
	BackendArk Backend = "ark"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// ProviderOllama holds Ollama settings.
type ProviderOllama struct {
	Host  string
	Model string
}

// ProviderOpenAI holds OpenAI settings.
type ProviderOpenAI struct {
	APIKey string
	Model  string
}

// ProviderAzureOpenAI holds Azure OpenAI settings.
type ProviderAzureOpenAI struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
}

// ProviderArk holds Volcengine Ark settings.
type ProviderArk struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ProviderGemini holds Google Gemini settings.
type ProviderGemini struct {
	APIKey string
	Model  string
}

// SharedTuning holds generation parameters common to every backend.
type SharedTuning struct {
	// MaxTokens caps the number of tokens generated per answer.
	MaxTokens int
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Config holds the resolved provider configuration. Only the block matching
// Backend is consulted.
type Config struct {
	Backend     Backend
	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Ark         ProviderArk
	Gemini      ProviderGemini
	Tuning      SharedTuning
}

// Validate reports the first missing setting for the selected backend,
// naming the env var the operator must set.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOllama:
		if c.Ollama.Model == "" {
			return missing(c.Backend, "OLLAMA_MODEL")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return missing(c.Backend, "OPENAI_API_KEY")
		}
		if c.OpenAI.Model == "" {
			return missing(c.Backend, "OPENAI_MODEL")
		}
	case BackendAzure:
		switch {
		case c.AzureOpenAI.APIKey == "":
			return missing(c.Backend, "AZURE_OPENAI_API_KEY")
		case c.AzureOpenAI.Endpoint == "":
			return missing(c.Backend, "AZURE_OPENAI_ENDPOINT")
		case c.AzureOpenAI.Deployment == "":
			return missing(c.Backend, "AZURE_OPENAI_DEPLOYMENT")
		}
	case BackendArk:
		if c.Ark.APIKey == "" {
			return missing(c.Backend, "ARK_API_KEY")
		}
		if c.Ark.Model == "" {
			return missing(c.Backend, "ARK_MODEL")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return missing(c.Backend, "GOOGLE_API_KEY")
		}
		if c.Gemini.Model == "" {
			return missing(c.Backend, "GEMINI_MODEL")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q, valid values: ollama, openai, azure, ark, gemini", c.Backend)
	}
	return nil
}

func missing(b Backend, key string) error {
	return fmt.Errorf("provider: %s is required for %s backend", key, b)
}

// HealthChecker probes a backend without spending tokens.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
