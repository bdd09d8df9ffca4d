package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/medsentry/medsentry/internal/config"
)

// NewChatModel creates a ChatModel based on configuration. The first
// configured provider wins, in fixed precedence order.
func NewChatModel(ctx context.Context, cfg *config.Config) (model.ChatModel, error) {
	p := cfg.Providers
	t := cfg.Turns

	switch {
	case p.OpenRouter.APIKey != "":
		return newOpenRouterModel(ctx, p.OpenRouter, t)
	case p.Claude.APIKey != "":
		return newClaudeModel(ctx, p.Claude, t)
	case p.OpenAI.APIKey != "":
		return newOpenAIModel(ctx, p.OpenAI, t)
	case p.DeepSeek.APIKey != "":
		return newDeepSeekModel(ctx, p.DeepSeek, t)
	case p.Ollama.BaseURL != "":
		return newOllamaModel(ctx, p.Ollama, t)
	default:
		return nil, fmt.Errorf("no provider configured: set api_key for at least one provider")
	}
}

func newOpenRouterModel(ctx context.Context, p config.ProviderConfig, t config.TurnsConfig) (model.ChatModel, error) {
	return openai.NewChatModel(ctx, &openai.ChatModelConfig{
		Model:       t.Model,
		APIKey:      p.APIKey,
		BaseURL:     "https://openrouter.ai/api/v1",
		Temperature: toFloat32Ptr(t.Temperature),
		MaxTokens:   toIntPtr(t.MaxTokens),
	})
}

func newClaudeModel(ctx context.Context, p config.ProviderConfig, t config.TurnsConfig) (model.ChatModel, error) {
	return openai.NewChatModel(ctx, &openai.ChatModelConfig{
		Model:       t.Model,
		APIKey:      p.APIKey,
		BaseURL:     "https://api.anthropic.com/v1",
		Temperature: toFloat32Ptr(t.Temperature),
		MaxTokens:   toIntPtr(t.MaxTokens),
	})
}

func newOpenAIModel(ctx context.Context, p config.ProviderConfig, t config.TurnsConfig) (model.ChatModel, error) {
	cfg := &openai.ChatModelConfig{
		Model:       t.Model,
		APIKey:      p.APIKey,
		Temperature: toFloat32Ptr(t.Temperature),
		MaxTokens:   toIntPtr(t.MaxTokens),
	}
	if p.BaseURL != "" {
		cfg.BaseURL = p.BaseURL
	}
	return openai.NewChatModel(ctx, cfg)
}

func newDeepSeekModel(ctx context.Context, p config.ProviderConfig, t config.TurnsConfig) (model.ChatModel, error) {
	return openai.NewChatModel(ctx, &openai.ChatModelConfig{
		Model:       t.Model,
		APIKey:      p.APIKey,
		BaseURL:     "https://api.deepseek.com/v1",
		Temperature: toFloat32Ptr(t.Temperature),
		MaxTokens:   toIntPtr(t.MaxTokens),
	})
}

func newOllamaModel(ctx context.Context, p config.ProviderConfig, t config.TurnsConfig) (model.ChatModel, error) {
	baseURL := p.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return openai.NewChatModel(ctx, &openai.ChatModelConfig{
		Model:       t.Model,
		BaseURL:     baseURL + "/v1",
		Temperature: toFloat32Ptr(t.Temperature),
		MaxTokens:   toIntPtr(t.MaxTokens),
	})
}

func toFloat32Ptr(f float64) *float32 {
	v := float32(f)
	return &v
}

func toIntPtr(i int) *int {
	return &i
}
