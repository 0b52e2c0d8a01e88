package provider

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/cloudwego/eino/components/model"
)

// ConfigFromEnv resolves a Config from environment variables.
//
//	MODEL_PROVIDER = ollama | openai | azure | ark | gemini (default: ollama)
//
//	Ollama:  OLLAMA_HOST (default: http://localhost:11434), OLLAMA_MODEL (default: llama3)
//	OpenAI:  OPENAI_API_KEY, OPENAI_MODEL (default: gpt-4o-mini)
//	Azure:   AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_DEPLOYMENT,
//	         AZURE_OPENAI_API_VERSION (default: 2024-02-01)
//	Ark:     ARK_API_KEY, ARK_MODEL, ARK_BASE_URL
//	Gemini:  GOOGLE_API_KEY, GEMINI_MODEL (default: gemini-1.5-flash)
//
//	Shared:  MODEL_MAX_TOKENS (default: 1024), MODEL_TEMPERATURE (default: 0)
func ConfigFromEnv() *Config {
	return &Config{
		Backend: Backend(getEnvOrDefault("MODEL_PROVIDER", string(BackendOllama))),
		Ollama: ProviderOllama{
			Host:  getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434"),
			Model: getEnvOrDefault("OLLAMA_MODEL", "llama3"),
		},
		OpenAI: ProviderOpenAI{
			APIKey: os.Getenv("OPENAI_API_KEY"),
			Model:  getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		},
		AzureOpenAI: ProviderAzureOpenAI{
			APIKey:     os.Getenv("AZURE_OPENAI_API_KEY"),
			Endpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
			Deployment: os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-02-01"),
		},
		Ark: ProviderArk{
			APIKey:  os.Getenv("ARK_API_KEY"),
			Model:   os.Getenv("ARK_MODEL"),
			BaseURL: os.Getenv("ARK_BASE_URL"),
		},
		Gemini: ProviderGemini{
			APIKey: os.Getenv("GOOGLE_API_KEY"),
			Model:  getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		},
		Tuning: SharedTuning{
			MaxTokens:   getEnvInt("MODEL_MAX_TOKENS", 1024),
			Temperature: getEnvFloat32("MODEL_TEMPERATURE", 0),
		},
	}
}

// NewFromEnv constructs a chat model from environment configuration.
func NewFromEnv(ctx context.Context) (model.BaseChatModel, *Config, error) {
	cfg := ConfigFromEnv()
	m, err := New(ctx, cfg)
	return m, cfg, err
}

// New constructs a chat model from an explicit Config. It validates first so
// callers get a clear error at startup rather than on the first question.
func New(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var (
		m   model.BaseChatModel
		err error
	)
	switch cfg.Backend {
	case BackendOllama:
		m, err = newOllama(ctx, cfg)
	case BackendOpenAI:
		m, err = newOpenAI(ctx, cfg)
	case BackendAzure:
		m, err = newAzure(ctx, cfg)
	case BackendArk:
		m, err = newArk(ctx, cfg)
	case BackendGemini:
		m, err = newGemini(ctx, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("provider: failed to construct %s model: %w", cfg.Backend, err)
	}
	return m, nil
}

// ModelName returns the model or deployment identifier of the selected backend.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendArk:
		return c.Ark.Model
	case BackendGemini:
		return c.Gemini.Model
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

func getEnvFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}
