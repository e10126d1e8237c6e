package embedder

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiProvider implements Embedder using Google's Gemini embedding models
type GeminiProvider struct {
	client *genai.Client
	model  string
	cache  *Cache
}

// NewGeminiProvider creates a new Gemini embedder
func NewGeminiProvider(ctx context.Context, apiKey, model, baseURL string, cache *Cache) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key not set", ErrNoProviderEnabled)
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithEndpoint(baseURL))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiProvider{
		client: client,
		model:  model,
		cache:  cache,
	}, nil
}

func (g *GeminiProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return generateSingle(ctx, g, req)
}

func (g *GeminiProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	return generateCachedBatch(ctx, g.cache, ProviderGemini, g.model, req, g.callAPI)
}

func (g *GeminiProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	em := g.client.EmbeddingModel(model)
	batch := em.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embed: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", len(res.Embeddings), len(texts))
	}

	embeddings := make([]*Embedding, len(texts))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("gemini returned an empty embedding for input %d", i)
		}
		embeddings[i] = &Embedding{
			Vector: e.Values,
			Model:  model,
		}
	}
	return embeddings, nil
}

func (g *GeminiProvider) Dimension() int {
	return GeminiDimension
}

func (g *GeminiProvider) Provider() string {
	return ProviderGemini
}

func (g *GeminiProvider) Model() string {
	return g.model
}

func (g *GeminiProvider) Close() error {
	return g.client.Close()
}
