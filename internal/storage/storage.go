package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/bookmarks-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

// Storage is the datastore behind search and ingestion. Read methods are
// independently callable so retrievers can run them concurrently.
type Storage interface {
	Reader
	Writer

	// BeginTx starts a transaction exposing the write side
	BeginTx(ctx context.Context) (Tx, error)

	// Ping checks that the datastore is reachable
	Ping(ctx context.Context) error

	// Backend names the storage engine, e.g. "sqlite/purego" or "postgres"
	Backend() string

	Close() error
}

// Reader holds the query capabilities retrieval depends on
type Reader interface {
	// SearchTags returns bookmarks carrying every tag in tags
	SearchTags(ctx context.Context, userID int64, tags []string, limit int) ([]TagResult, error)

	// SearchText returns bookmarks whose searchable text contains at least
	// one query token, or whose domain equals the query domain
	SearchText(ctx context.Context, userID int64, q TextQuery, limit int) ([]TextResult, error)

	// SearchVector returns the nearest bookmarks by cosine similarity
	SearchVector(ctx context.Context, userID int64, vector []float32, limit int) ([]VectorResult, error)

	// GetBookmarks hydrates bookmarks with their tags. Unknown ids are skipped.
	GetBookmarks(ctx context.Context, userID int64, ids []int64) ([]*Bookmark, error)

	// ListPendingEmbeddings returns bookmarks that have no embedding yet
	ListPendingEmbeddings(ctx context.Context, userID int64, limit int) ([]*Bookmark, error)

	// GetStatus returns corpus statistics for a user
	GetStatus(ctx context.Context, userID int64) (*UserStatus, error)
}

// Writer holds the mutations used by the ingestion pipeline
type Writer interface {
	// UpsertBookmark inserts or updates a bookmark by (user, url). It sets
	// ID and CreatedAt on b; an existing bookmark keeps its CreatedAt.
	UpsertBookmark(ctx context.Context, b *Bookmark) error

	// AttachTags associates tags with a bookmark, creating missing tags
	AttachTags(ctx context.Context, userID, bookmarkID int64, tags []string, provenance types.TagProvenance) error

	// DetachTags removes tag associations and reports how many were removed
	DetachTags(ctx context.Context, userID, bookmarkID int64, tags []string) (int, error)

	// UpsertEmbedding stores a bookmark's embedding and marks it ready
	UpsertEmbedding(ctx context.Context, e *Embedding) error

	// DeleteBookmark removes a bookmark with its tags and embedding
	DeleteBookmark(ctx context.Context, userID, bookmarkID int64) error
}

// Tx represents a database transaction
type Tx interface {
	Writer
	Commit() error
	Rollback() error
}

// Bookmark is the stored form of a saved page
type Bookmark struct {
	ID        int64
	UserID    int64
	URL       string
	Domain    string
	Title     string
	Summary   string
	Status    types.BookmarkStatus
	Tags      []string // Sorted; filled by GetBookmarks only
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ToSummary converts a stored bookmark to its search result form
func (b *Bookmark) ToSummary() types.BookmarkSummary {
	return types.BookmarkSummary{
		ID:        b.ID,
		URL:       b.URL,
		Domain:    b.Domain,
		Title:     b.Title,
		Summary:   b.Summary,
		Tags:      b.Tags,
		Status:    b.Status,
		CreatedAt: b.CreatedAt,
	}
}

// Embedding is a bookmark's semantic vector
type Embedding struct {
	BookmarkID int64
	Vector     []float32
	Provider   string
	Model      string
	CreatedAt  time.Time
}

// TextQuery describes a lexical lookup
type TextQuery struct {
	Tokens      []string // Folded query tokens
	Domain      string   // Exact domain to reward, may be empty
	DomainBonus float64  // Score added for an exact domain match
}

// TagResult is a bookmark matching every requested tag
type TagResult struct {
	BookmarkID int64
	CreatedAt  time.Time
}

// TextResult is a lexical match
type TextResult struct {
	BookmarkID  int64
	Matched     int  // Number of query tokens found
	ExactDomain bool // Bookmark domain equals the query domain
	CreatedAt   time.Time
}

// VectorResult represents a result from vector similarity search
type VectorResult struct {
	BookmarkID int64
	Similarity float64
	CreatedAt  time.Time
}

// UserStatus contains corpus statistics for one user
type UserStatus struct {
	UserID      int64
	Bookmarks   int
	Tags        int
	Embedded    int
	Pending     int
	LastUpdated time.Time
	Backend     string
}
