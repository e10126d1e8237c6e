// Package embedder generates vector embeddings for bookmark text and search queries.
//
// Five providers implement the Embedder interface: Jina AI and OpenAI (any
// OpenAI-compatible endpoint), Ollama, Google Gemini, and a local
// feature-hashing embedder that needs no network. Remote providers share one
// batching path with an LRU cache keyed by model and text, plus exponential
// backoff that stops early on permanent errors such as a rejected API key.
//
// # Basic Usage
//
//	emb, err := embedder.New(ctx, embedder.Config{
//	    Provider:  embedder.ProviderOpenAI,
//	    APIKey:    key,
//	    CacheSize: 10000,
//	})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: []string{"React hooks guide", "Postgres index tuning"},
//	})
//
// Embeddings come back in input order.
//
// # Query Embeddings
//
// Search does not call providers directly. It goes through a Resolver, which
// applies its own deadline and folds every failure into
// ErrEmbeddingUnavailable:
//
//	resolver := embedder.NewResolver(emb, 300*time.Millisecond, logger, m)
//	vec, err := resolver.Resolve(ctx, "react hooks")
//	if errors.Is(err, embedder.ErrEmbeddingUnavailable) {
//	    // run without the vector retriever
//	}
package embedder
