// factory.go - Generation provider factory

package ai

import (
	"context"
	"fmt"
	"log"

	"github.com/bosocmputer/crop_assistant_gemini/configs"
	"github.com/bosocmputer/crop_assistant_gemini/internal/ratelimit"
)

// ConfigFromEnv builds the provider configuration from the loaded configs
func ConfigFromEnv() ProviderConfig {
	return ProviderConfig{
		Provider:          "gemini",
		APIKey:            configs.GEMINI_API_KEY,
		Model:             configs.MODEL_NAME,
		RequestsPerMinute: configs.GEMINI_REQUESTS_PER_MINUTE,
	}
}

// CreateProvider creates a generation provider based on configuration
func CreateProvider(ctx context.Context, cfg ProviderConfig) (*GeminiProvider, error) {
	switch cfg.Provider {
	case "gemini", "":
		log.Printf("🔵 Creating Gemini provider (model: %s, %d req/min)", cfg.Model, cfg.RequestsPerMinute)
		limiter := ratelimit.NewRateLimiter(cfg.RequestsPerMinute, max(1, cfg.RequestsPerMinute/10))
		return NewGeminiProvider(ctx, cfg.APIKey, cfg.Model, limiter)

	default:
		return nil, fmt.Errorf("unsupported provider: %s (supported: gemini)", cfg.Provider)
	}
}
