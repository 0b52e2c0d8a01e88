package provider

import (
	"context"
	"fmt"
	"strings"

	einoark "github.com/cloudwego/eino-ext/components/model/ark"
	einogemini "github.com/cloudwego/eino-ext/components/model/gemini"
	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

func newOllama(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	return einoollama.NewChatModel(ctx, &einoollama.ChatModelConfig{
		BaseURL: cfg.Ollama.Host,
		Model:   cfg.Ollama.Model,
	})
}

func newOpenAI(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	maxTokens, temp := cfg.Tuning.MaxTokens, cfg.Tuning.Temperature
	return einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		Model:       cfg.OpenAI.Model,
		APIKey:      cfg.OpenAI.APIKey,
		MaxTokens:   &maxTokens,
		Temperature: &temp,
	})
}

func newAzure(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	az := cfg.AzureOpenAI
	mc := &einoopenai.ChatModelConfig{
		Model:      az.Deployment,
		APIKey:     az.APIKey,
		BaseURL:    az.Endpoint,
		ByAzure:    true,
		APIVersion: az.APIVersion,
		// Deployment names such as "gpt-4.1" must be used as-is; the default
		// mapper strips dots.
		AzureModelMapperFunc: func(model string) string { return model },
	}
	// Reasoning deployments reject temperature and max_tokens.
	if !isAzureReasoningModel(az.Deployment) {
		maxTokens, temp := cfg.Tuning.MaxTokens, cfg.Tuning.Temperature
		mc.MaxTokens = &maxTokens
		mc.Temperature = &temp
	}
	return einoopenai.NewChatModel(ctx, mc)
}

// isAzureReasoningModel reports whether a deployment name belongs to the
// o-series or codex families.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, p := range []string{"o1", "o3", "o4", "codex"} {
		if d == p || strings.HasPrefix(d, p+"-") {
			return true
		}
	}
	return false
}

func newArk(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	maxTokens, temp := cfg.Tuning.MaxTokens, cfg.Tuning.Temperature
	return einoark.NewChatModel(ctx, &einoark.ChatModelConfig{
		Model:       cfg.Ark.Model,
		APIKey:      cfg.Ark.APIKey,
		BaseURL:     cfg.Ark.BaseURL,
		MaxTokens:   &maxTokens,
		Temperature: &temp,
	})
}

func newGemini(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.Gemini.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return einogemini.NewChatModel(ctx, &einogemini.Config{
		Client: client,
		Model:  cfg.Gemini.Model,
	})
}
