package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		cfg      Config
		provider string
		wantErr  error
	}{
		{"empty selects local", Config{}, ProviderLocal, nil},
		{"local", Config{Provider: "local", CacheSize: 10}, ProviderLocal, nil},
		{"case insensitive", Config{Provider: " Local "}, ProviderLocal, nil},
		{"jina", Config{Provider: "jina", APIKey: "k"}, ProviderJina, nil},
		{"openai", Config{Provider: "openai", APIKey: "k"}, ProviderOpenAI, nil},
		{"ollama", Config{Provider: "ollama"}, ProviderOllama, nil},
		{"jina without key", Config{Provider: "jina"}, "", ErrNoProviderEnabled},
		{"openai without key", Config{Provider: "openai"}, "", ErrNoProviderEnabled},
		{"gemini without key", Config{Provider: "gemini"}, "", ErrNoProviderEnabled},
		{"unknown", Config{Provider: "bogus"}, "", ErrUnsupportedModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb, err := New(ctx, tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer emb.Close()
			assert.Equal(t, tt.provider, emb.Provider())
		})
	}
}

func TestProviders(t *testing.T) {
	assert.ElementsMatch(t,
		[]string{ProviderJina, ProviderOpenAI, ProviderOllama, ProviderGemini, ProviderLocal},
		Providers())
}
