package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/dshills/bookmarks-mcp/internal/embedder"
	"github.com/dshills/bookmarks-mcp/internal/ingest"
	"github.com/dshills/bookmarks-mcp/internal/storage"
	"github.com/dshills/bookmarks-mcp/pkg/types"
)

// ErrorCode is an application error code carried in error bodies
type ErrorCode string

const (
	ErrorCodeInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrorCodeEmptyQuery       ErrorCode = "EMPTY_QUERY"
	ErrorCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrorCodeImportInProgress ErrorCode = "IMPORT_IN_PROGRESS"
	ErrorCodeEmbedding        ErrorCode = "EMBEDDING_UNAVAILABLE"
	ErrorCodeRateLimited      ErrorCode = "RATE_LIMITED"
	ErrorCodeInternalError    ErrorCode = "INTERNAL_ERROR"
	ErrorCodeServiceDown      ErrorCode = "SERVICE_UNAVAILABLE"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Status    string    `json:"status"`
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// classify maps a domain error to an HTTP status and error code
func classify(err error) (int, ErrorCode) {
	switch {
	case errors.Is(err, types.ErrEmptyQuery):
		return http.StatusBadRequest, ErrorCodeEmptyQuery
	case errors.Is(err, types.ErrInvalidUser),
		errors.Is(err, types.ErrInvalidBookmarkID),
		errors.Is(err, ingest.ErrNoTags):
		return http.StatusBadRequest, ErrorCodeInvalidRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, ErrorCodeNotFound
	case errors.Is(err, ingest.ErrImportInProgress):
		return http.StatusConflict, ErrorCodeImportInProgress
	case errors.Is(err, embedder.ErrNoProviderEnabled),
		errors.Is(err, embedder.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable, ErrorCodeEmbedding
	}
	return http.StatusInternalServerError, ErrorCodeInternalError
}

// handleError writes the reply for err, logging server-side failures
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := err.Error()
	if status >= http.StatusInternalServerError && code == ErrorCodeInternalError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestIDFrom(r)),
			zap.Error(err))
		message = "internal server error"
	}
	writeError(w, status, code, message, requestIDFrom(r))
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message, requestID string) {
	writeJSON(w, status, ErrorResponse{
		Status:    "error",
		ErrorCode: code,
		Message:   message,
		RequestID: requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
