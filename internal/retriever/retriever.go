// Package retriever implements the three independent candidate sources of
// a search: tag set membership, lexical matching and vector similarity.
//
// Each retriever reads one datastore capability, scores its matches and
// returns them best first. Retrievers hold no state between calls and are
// safe to run concurrently.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/bookmarks-mcp/internal/plan"
	"github.com/dshills/bookmarks-mcp/internal/storage"
)

// Source names a retriever
type Source string

const (
	SourceTag     Source = "tag"
	SourceLexical Source = "lexical"
	SourceVector  Source = "vector"
)

// Sources lists every source in fusion order
var Sources = []Source{SourceTag, SourceLexical, SourceVector}

// ErrNoVector is returned by the vector retriever when the query has no embedding
var ErrNoVector = errors.New("query vector required")

// Query is the input shared by all retrievers
type Query struct {
	Plan   *plan.Plan
	Vector []float32 // Resolved query embedding, vector retriever only
	Limit  int       // Fan-out cap, larger than the page size
}

// Candidate is one scored match
type Candidate struct {
	BookmarkID int64
	Score      float64
	CreatedAt  time.Time
	Explain    string
}

// Retriever produces candidates from one matching strategy
type Retriever interface {
	Source() Source
	Retrieve(ctx context.Context, q Query) ([]Candidate, error)
}

// TagRetriever returns bookmarks carrying every tag of the plan. It is a
// pure filter: every match scores 1.
type TagRetriever struct {
	store storage.Reader
}

func NewTagRetriever(store storage.Reader) *TagRetriever {
	return &TagRetriever{store: store}
}

func (r *TagRetriever) Source() Source { return SourceTag }

func (r *TagRetriever) Retrieve(ctx context.Context, q Query) ([]Candidate, error) {
	tags := q.Plan.Tags()
	if len(tags) == 0 {
		return []Candidate{}, nil
	}

	results, err := r.store.SearchTags(ctx, q.Plan.UserID(), tags, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("tag search failed: %w", err)
	}

	explain := "tags: " + strings.Join(tags, ", ")
	candidates := make([]Candidate, len(results))
	for i, res := range results {
		candidates[i] = Candidate{
			BookmarkID: res.BookmarkID,
			Score:      1.0,
			CreatedAt:  res.CreatedAt,
			Explain:    explain,
		}
	}
	return candidates, nil
}

// LexicalRetriever matches query tokens as substrings of title, domain and
// summary. Score is the fraction of tokens found plus DomainBonus when the
// bookmark's domain equals the query domain.
type LexicalRetriever struct {
	store       storage.Reader
	domainBonus float64
}

func NewLexicalRetriever(store storage.Reader, domainBonus float64) *LexicalRetriever {
	if domainBonus < 0 {
		domainBonus = 0
	}
	return &LexicalRetriever{store: store, domainBonus: domainBonus}
}

func (r *LexicalRetriever) Source() Source { return SourceLexical }

// DomainBonus returns the score added for an exact domain match
func (r *LexicalRetriever) DomainBonus() float64 { return r.domainBonus }

func (r *LexicalRetriever) Retrieve(ctx context.Context, q Query) ([]Candidate, error) {
	tq := storage.TextQuery{
		Tokens:      q.Plan.Tokens(),
		Domain:      q.Plan.Domain(),
		DomainBonus: r.domainBonus,
	}
	if len(tq.Tokens) == 0 && tq.Domain == "" {
		return []Candidate{}, nil
	}

	results, err := r.store.SearchText(ctx, q.Plan.UserID(), tq, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("text search failed: %w", err)
	}

	candidates := make([]Candidate, len(results))
	for i, res := range results {
		candidates[i] = Candidate{
			BookmarkID: res.BookmarkID,
			Score:      LexicalScore(res.Matched, len(tq.Tokens), res.ExactDomain, r.domainBonus),
			CreatedAt:  res.CreatedAt,
			Explain:    explainLexical(res.Matched, len(tq.Tokens), res.ExactDomain),
		}
	}
	return candidates, nil
}

// LexicalScore is matched/total plus bonus for an exact domain match
func LexicalScore(matched, total int, exactDomain bool, bonus float64) float64 {
	score := 0.0
	if total > 0 {
		score = float64(matched) / float64(total)
	}
	if exactDomain {
		score += bonus
	}
	return score
}

func explainLexical(matched, total int, exactDomain bool) string {
	s := fmt.Sprintf("matched %d/%d tokens", matched, total)
	if exactDomain {
		s += ", exact domain"
	}
	return s
}

// VectorRetriever ranks embedded bookmarks by cosine similarity to the
// query vector. Bookmarks without an embedding, or with a non-positive
// similarity, never appear.
type VectorRetriever struct {
	store storage.Reader
}

func NewVectorRetriever(store storage.Reader) *VectorRetriever {
	return &VectorRetriever{store: store}
}

func (r *VectorRetriever) Source() Source { return SourceVector }

func (r *VectorRetriever) Retrieve(ctx context.Context, q Query) ([]Candidate, error) {
	if len(q.Vector) == 0 {
		return nil, ErrNoVector
	}

	results, err := r.store.SearchVector(ctx, q.Plan.UserID(), q.Vector, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	candidates := make([]Candidate, 0, len(results))
	for _, res := range results {
		if res.Similarity <= 0 {
			continue
		}
		candidates = append(candidates, Candidate{
			BookmarkID: res.BookmarkID,
			Score:      res.Similarity,
			CreatedAt:  res.CreatedAt,
			Explain:    fmt.Sprintf("cosine %.4f", res.Similarity),
		})
	}
	return candidates, nil
}
