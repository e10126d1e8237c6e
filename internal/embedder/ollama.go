package embedder

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

// OllamaProvider implements Embedder against a local or remote Ollama server
type OllamaProvider struct {
	client    *api.Client
	model     string
	dimension int
	cache     *Cache
}

// NewOllamaProvider creates a new Ollama embedder
func NewOllamaProvider(model, baseURL string, dimension int, cache *Cache) (*OllamaProvider, error) {
	if model == "" {
		model = DefaultOllamaModel
	}
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	if dimension <= 0 {
		dimension = OllamaDimension
	}

	uri, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ollama url %q: %v", ErrInvalidInput, baseURL, err)
	}

	return &OllamaProvider{
		client:    api.NewClient(uri, &http.Client{Timeout: 60 * time.Second}),
		model:     model,
		dimension: dimension,
		cache:     cache,
	}, nil
}

func (p *OllamaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	return generateSingle(ctx, p, req)
}

func (p *OllamaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	return generateCachedBatch(ctx, p.cache, ProviderOllama, p.model, req, p.callAPI)
}

// callAPI embeds texts one prompt at a time
func (p *OllamaProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	embeddings := make([]*Embedding, len(texts))
	for i, text := range texts {
		resp, err := p.client.Embeddings(ctx, &api.EmbeddingRequest{
			Model:  model,
			Prompt: text,
		})
		if err != nil {
			return nil, fmt.Errorf("ollama embeddings: %w", err)
		}
		if len(resp.Embedding) == 0 {
			return nil, fmt.Errorf("ollama returned an empty embedding for input %d", i)
		}

		vector := make([]float32, len(resp.Embedding))
		for j, v := range resp.Embedding {
			vector[j] = float32(v)
		}
		embeddings[i] = &Embedding{
			Vector: vector,
			Model:  model,
		}
	}
	return embeddings, nil
}

func (p *OllamaProvider) Dimension() int {
	return p.dimension
}

func (p *OllamaProvider) Provider() string {
	return ProviderOllama
}

func (p *OllamaProvider) Model() string {
	return p.model
}

func (p *OllamaProvider) Close() error {
	return nil
}
