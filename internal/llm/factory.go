package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthands/canon/internal/config"
)

func NewClient(ctx context.Context, cfg config.LLMConfig) (LLMClient, error) {
	provider := strings.ToLower(cfg.Provider)
	defaults := Defaults{Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens}

	switch provider {
	case "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL, defaults), nil

	case "gemini":
		return NewGeminiClient(ctx, cfg.APIKey, cfg.Model, defaults)

	case "claude", "anthropic":
		return NewClaudeClient(cfg.APIKey, cfg.Model, cfg.BaseURL, defaults), nil

	case "ollama":
		return NewOllamaClient(cfg.Model, cfg.BaseURL, defaults)

	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}
}
