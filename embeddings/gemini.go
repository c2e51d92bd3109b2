package embeddings

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/fabfab/rag-assistant/llm"
)

type geminiEmbedder struct {
	client    *genai.Client
	model     *genai.EmbeddingModel
	dimension int
}

func NewGeminiEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &geminiEmbedder{
		client:    client,
		model:     client.EmbeddingModel(opts.Model),
		dimension: opts.Dimension,
	}, nil
}

func (e *geminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, 0, len(texts))
	for _, text := range texts {
		res, err := e.model.EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return nil, &llm.ProviderError{Provider: "gemini", Op: "embed", Err: err}
		}
		if res.Embedding == nil || len(res.Embedding.Values) == 0 {
			return nil, fmt.Errorf("no embedding data received from gemini")
		}
		if err := checkDimension("gemini", e.dimension, res.Embedding.Values); err != nil {
			return nil, err
		}
		results = append(results, res.Embedding.Values)
	}
	return results, nil
}

func (e *geminiEmbedder) Close() error {
	return e.client.Close()
}

var _ Embedder = (*geminiEmbedder)(nil)
