package integration

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/bookmarks-mcp/internal/embedder"
)

// TopicEmbedder maps text onto one axis per known topic word. Text that
// mentions no topic lands on the last axis, so similarity is predictable.
type TopicEmbedder struct {
	topics []string
}

// NewTopicEmbedder creates an embedder with one dimension per topic plus one
func NewTopicEmbedder(topics ...string) *TopicEmbedder {
	return &TopicEmbedder{topics: topics}
}

// GenerateEmbedding returns the topic vector of req.Text
func (m *TopicEmbedder) GenerateEmbedding(_ context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	if req.Text == "" {
		return nil, embedder.ErrEmptyText
	}

	vector := make([]float32, m.Dimension())
	lower := strings.ToLower(req.Text)
	hit := false
	for i, topic := range m.topics {
		if strings.Contains(lower, topic) {
			vector[i] = 1
			hit = true
		}
	}
	if !hit {
		vector[len(m.topics)] = 1
	}

	return &embedder.Embedding{
		Vector:    vector,
		Dimension: m.Dimension(),
		Provider:  m.Provider(),
		Model:     m.Model(),
		Hash:      embedder.ComputeHash(m.Model(), req.Text),
	}, nil
}

// GenerateBatch embeds every text in order
func (m *TopicEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	if len(req.Texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}

	embeddings := make([]*embedder.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := m.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}

	return &embedder.BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   m.Provider(),
		Model:      m.Model(),
	}, nil
}

func (m *TopicEmbedder) Dimension() int  { return len(m.topics) + 1 }
func (m *TopicEmbedder) Provider() string { return "topic" }
func (m *TopicEmbedder) Model() string    { return "topic-v1" }
func (m *TopicEmbedder) Close() error     { return nil }
