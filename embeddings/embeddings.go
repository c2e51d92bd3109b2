package embeddings

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fabfab/rag-assistant/config"
)

// Embedder is the embedding provider boundary: one vector per input text, in
// input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	Provider  string
	Model     string
	Dimension int

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	GeminiAPIKey  string
}

// NewEmbedder builds the configured provider embedder, wrapped in an LRU cache
// when Embeddings.CacheSize is positive.
func NewEmbedder(ctx context.Context, cfg config.Config, logger *zap.Logger) (Embedder, error) {
	opts := Options{
		Provider:      cfg.Embeddings.Provider,
		Model:         cfg.Embeddings.Model,
		Dimension:     cfg.Embeddings.Dimension,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		GeminiAPIKey:  cfg.GeminiAPIKey,
	}

	var (
		embedder Embedder
		err      error
	)
	switch opts.Provider {
	case config.ProviderOllama:
		embedder = NewOllamaEmbedder(opts)
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		embedder = NewOpenAIEmbedder(opts)
	case config.ProviderGemini:
		if opts.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini provider selected but GEMINI_API_KEY not set")
		}
		embedder, err = NewGeminiEmbedder(ctx, opts)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", opts.Provider)
	}

	if cfg.Embeddings.CacheSize > 0 {
		embedder = NewCachedEmbedder(embedder, cfg.Embeddings.CacheSize, WithLogger(logger))
	}
	return embedder, nil
}

func checkDimension(provider string, expected int, vec []float32) error {
	if expected > 0 && len(vec) != expected {
		return fmt.Errorf("%s embedding dimension mismatch: expected %d, got %d", provider, expected, len(vec))
	}
	return nil
}
