package types

import "errors"

// Domain errors shared across packages
var (
	// ErrEmptyQuery is returned when a search supplies neither text nor tags
	ErrEmptyQuery = errors.New("empty query: supply a query, tags, or both")

	// Bookmark validation errors
	ErrMissingURL        = errors.New("bookmark URL is required")
	ErrInvalidURL        = errors.New("bookmark URL must be an absolute http(s) URL")
	ErrInvalidBookmarkID = errors.New("invalid bookmark ID")
	ErrInvalidUser       = errors.New("user ID must be positive")
)
