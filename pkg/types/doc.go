// Package types provides shared type definitions for the bookmarks server.
//
// BookmarkSummary is the view returned by search; BookmarkInput is what
// import sources deliver. The normalization helpers (NormalizeText,
// NormalizeTags, Tokenize, DomainOf) are used on both sides of the store
// so that stored search text and tag names are folded exactly like query
// text and requested tags:
//
//	plan tags:   NormalizeTags([]string{"Go", " go ", "#Prog"}) // ["go", "prog"]
//	stored text: SearchText(title, domain, summary)
//
// ErrEmptyQuery is the one retrieval error callers see.
package types
