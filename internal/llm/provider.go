package llm

import (
	"context"
	"fmt"

	"gwi.com/docchat/internal/config"
)

// New builds the provider selected by cfg.LLMProvider.
func New(ctx context.Context, cfg *config.Config) (Provider, error) {
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		return NewOpenAI(OpenAIConfig{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			ChatModel:      cfg.ChatModel,
			EmbeddingModel: cfg.EmbeddingModel,
			Dimension:      cfg.EmbeddingDimension,
			Temperature:    cfg.Temperature,
			MaxRetries:     -1,
			Retry:          DefaultRetryPolicy(),
		})
	case config.ProviderGemini:
		return NewGemini(ctx, GeminiConfig{
			APIKey:         cfg.GeminiAPIKey,
			ChatModel:      cfg.ChatModel,
			EmbeddingModel: cfg.EmbeddingModel,
			Dimension:      cfg.EmbeddingDimension,
			Temperature:    cfg.Temperature,
			Retry:          DefaultRetryPolicy(),
		})
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}
}
