// Package searcher answers bookmark searches by combining tag, lexical and
// semantic retrieval behind a version-checked result cache.
//
// # Basic Usage
//
//	s, err := searcher.New(searcher.Deps{
//	    Store:    store,
//	    Resolver: embedder.NewResolver(emb, 300*time.Millisecond, logger, m),
//	    Cache:    cache.New(backend, 30*time.Second, logger, m),
//	    Versions: versions,
//	    Logger:   logger,
//	    Metrics:  m,
//	}, searcher.DefaultOptions())
//
//	resp, err := s.Search(ctx, plan.Request{
//	    UserID: 42,
//	    Query:  "react hooks",
//	    Tags:   []string{"prog"},
//	    Limit:  10,
//	})
//
//	for _, b := range resp.Bookmarks {
//	    fmt.Printf("[%d] %.2f %s\n", b.Rank, b.Score, b.Title)
//	}
//
// # Modes
//
// The plan's mode decides which retrievers run:
//   - tag_only: TagRetriever, tags are a hard AND filter
//   - domain: LexicalRetriever with the exact domain bonus
//   - vector: VectorRetriever, falling back to LexicalRetriever
//   - combined: all three, concurrently
//
// # Degradation
//
// A failed query embedding drops the vector source: vector plans are
// answered lexically and combined plans by tag and lexical scores. A
// retriever that times out or errors contributes no candidates. Every
// dropped contribution is listed in Response.Degraded, and degraded
// rankings are never cached.
//
// # Caching
//
// The full fused ranking of a question is cached under the plan hash plus
// a fingerprint of the ranking policy, together with the user's corpus
// version. Pages are sliced from the cached ranking, so a cached page
// equals the page a fresh computation would return for the same version.
package searcher
