package types

import (
	"net/url"
	"strings"
	"time"
)

// TagProvenance records who authored a tag
type TagProvenance string

const (
	ProvenanceUser TagProvenance = "user" // Tag added by the bookmark owner
	ProvenanceAI   TagProvenance = "ai"   // Tag suggested by enrichment
)

// BookmarkStatus tracks enrichment progress for a bookmark
type BookmarkStatus string

const (
	StatusPending BookmarkStatus = "pending" // Saved, embedding not generated yet
	StatusReady   BookmarkStatus = "ready"   // Enrichment complete
)

// BookmarkSummary is the result view of a bookmark returned by search
type BookmarkSummary struct {
	// Identification
	ID   int64 `json:"id"`
	Rank int   `json:"rank"` // Position in the full ranking (1-based)

	// Scoring
	Score float64 `json:"score"` // Fused score in [0, 1]

	// Metadata
	URL       string         `json:"url"`
	Domain    string         `json:"domain"`
	Title     string         `json:"title"`
	Summary   string         `json:"summary,omitempty"`
	Tags      []string       `json:"tags"`
	Status    BookmarkStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// BookmarkInput is a single bookmark delivered by an import source
type BookmarkInput struct {
	URL       string    `json:"url" yaml:"url"`
	Title     string    `json:"title" yaml:"title"`
	Summary   string    `json:"summary,omitempty" yaml:"summary,omitempty"`
	Tags      []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
	AITags    []string  `json:"ai_tags,omitempty" yaml:"ai_tags,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// Validate checks if the bookmark input is usable
func (b *BookmarkInput) Validate() error {
	if strings.TrimSpace(b.URL) == "" {
		return ErrMissingURL
	}

	u, err := url.Parse(strings.TrimSpace(b.URL))
	if err != nil || u.Host == "" {
		return ErrInvalidURL
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidURL
	}

	return nil
}
