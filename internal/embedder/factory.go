package embedder

import (
	"context"
	"fmt"
	"strings"
)

// Config holds embedder configuration
type Config struct {
	Provider  string // jina, openai, ollama, gemini, local
	Model     string // Optional: provider default when empty
	APIKey    string
	BaseURL   string // Optional: override the provider endpoint
	Dimension int    // Only used by ollama, whose models vary
	CacheSize int    // 0 disables the embedding cache
}

// New creates an embedder with explicit configuration.
// An empty provider selects the local embedder.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch provider := strings.ToLower(strings.TrimSpace(cfg.Provider)); provider {
	case ProviderJina:
		return NewJinaProvider(cfg.APIKey, cfg.Model, cfg.BaseURL, cache)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.BaseURL, cache)
	case ProviderOllama:
		return NewOllamaProvider(cfg.Model, cfg.BaseURL, cfg.Dimension, cache)
	case ProviderGemini:
		return NewGeminiProvider(ctx, cfg.APIKey, cfg.Model, cfg.BaseURL, cache)
	case ProviderLocal, "":
		return NewLocalProvider(cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// Providers lists the provider names New accepts
func Providers() []string {
	return []string{ProviderJina, ProviderOpenAI, ProviderOllama, ProviderGemini, ProviderLocal}
}
