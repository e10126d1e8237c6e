package embedder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dshills/bookmarks-mcp/internal/metrics"
)

type mockEmbedder struct {
	mock.Mock
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	args := m.Called(ctx, req)
	emb, _ := args.Get(0).(*Embedding)
	return emb, args.Error(1)
}

func (m *mockEmbedder) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*BatchEmbeddingResponse)
	return resp, args.Error(1)
}

func (m *mockEmbedder) Dimension() int   { return m.Called().Int(0) }
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Model() string    { return "mock-model" }
func (m *mockEmbedder) Close() error     { return nil }

func TestResolver(t *testing.T) {
	ctx := context.Background()

	t.Run("returns vector", func(t *testing.T) {
		e := new(mockEmbedder)
		e.On("GenerateEmbedding", mock.Anything, EmbeddingRequest{Text: "react"}).
			Return(&Embedding{Vector: []float32{1, 0, 0}}, nil)
		e.On("Dimension").Return(3)

		r := NewResolver(e, time.Second, nil, metrics.New())
		vec, err := r.Resolve(ctx, "react")
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 0, 0}, vec)
		e.AssertExpectations(t)
	})

	failures := []struct {
		name  string
		setup func(e *mockEmbedder)
	}{
		{
			name: "provider error",
			setup: func(e *mockEmbedder) {
				e.On("GenerateEmbedding", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))
			},
		},
		{
			name: "empty vector",
			setup: func(e *mockEmbedder) {
				e.On("GenerateEmbedding", mock.Anything, mock.Anything).Return(&Embedding{}, nil)
			},
		},
		{
			name: "wrong dimension",
			setup: func(e *mockEmbedder) {
				e.On("GenerateEmbedding", mock.Anything, mock.Anything).
					Return(&Embedding{Vector: []float32{1, 0}}, nil)
				e.On("Dimension").Return(3)
			},
		},
	}

	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			e := new(mockEmbedder)
			tt.setup(e)

			r := NewResolver(e, time.Second, nil, nil)
			_, err := r.Resolve(ctx, "react")
			assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
		})
	}

	t.Run("timeout", func(t *testing.T) {
		e := new(mockEmbedder)
		e.On("GenerateEmbedding", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return(nil, context.DeadlineExceeded)

		r := NewResolver(e, 20*time.Millisecond, nil, nil)
		start := time.Now()
		_, err := r.Resolve(ctx, "react")
		assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("no embedder", func(t *testing.T) {
		r := NewResolver(nil, 0, nil, nil)
		assert.False(t, r.Available())
		_, err := r.Resolve(ctx, "react")
		assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
	})

	t.Run("local provider end to end", func(t *testing.T) {
		p, err := NewLocalProvider(nil)
		require.NoError(t, err)
		r := NewResolver(p, time.Second, nil, nil)
		vec, err := r.Resolve(ctx, "react hooks")
		require.NoError(t, err)
		assert.Len(t, vec, LocalDimension)
	})
}
