package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/bookmarks-mcp/internal/ingest"
	"github.com/dshills/bookmarks-mcp/internal/plan"
	"github.com/dshills/bookmarks-mcp/internal/storage"
	"github.com/dshills/bookmarks-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams    = -32602 // Invalid method parameters
	ErrorCodeInternalError    = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound         = -32001 // Bookmark does not exist for this user
	ErrorCodeImportInProgress = -32002 // Another import is already running
	ErrorCodeImportFile       = -32003 // Import file missing or unreadable
	ErrorCodeEmptyQuery       = -32004 // Neither query nor tags supplied
)

// handleSearchBookmarks handles the search_bookmarks tool invocation
func (s *Server) handleSearchBookmarks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	userID, err := requireID(args, "user_id")
	if err != nil {
		return nil, err
	}

	limit := getIntDefault(args, "limit", 0)
	maxLimit := s.searcher.Options().MaxLimit
	if limit < 0 || limit > maxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", maxLimit), map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	resp, err := s.searcher.Search(ctx, plan.Request{
		UserID: userID,
		Query:  getStringDefault(args, "query", ""),
		Tags:   getStringSlice(args, "tags"),
		Limit:  limit,
		Cursor: getStringDefault(args, "cursor", ""),
	})
	if errors.Is(err, types.ErrEmptyQuery) {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query or tags are required", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}
	if err != nil {
		return nil, internalError("search failed", err)
	}

	response := map[string]interface{}{
		"bookmarks":   resp.Bookmarks,
		"from_cache":  resp.FromCache,
		"mode":        resp.Mode,
		"total":       resp.Total,
		"duration_ms": resp.Duration.Milliseconds(),
	}
	if resp.NextCursor != "" {
		response["next_cursor"] = resp.NextCursor
	}
	if len(resp.Degraded) > 0 {
		response["degraded"] = resp.Degraded
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleImportBookmarks handles the import_bookmarks tool invocation
func (s *Server) handleImportBookmarks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	userID, err := requireID(args, "user_id")
	if err != nil {
		return nil, err
	}

	path := getStringDefault(args, "path", "")
	if path == "" || !filepath.IsAbs(path) {
		return nil, newMCPError(ErrorCodeInvalidParams, "path must be an absolute file path", map[string]interface{}{
			"param": "path",
			"value": path,
		})
	}

	inputs, err := ingest.LoadFile(path)
	if err != nil {
		return nil, newMCPError(ErrorCodeImportFile, "cannot read import file", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
	}

	stats, err := s.importer.Import(ctx, userID, inputs, nil)
	if errors.Is(err, ingest.ErrImportInProgress) {
		return nil, newMCPError(ErrorCodeImportInProgress, err.Error(), nil)
	}
	if err != nil {
		return nil, internalError("import failed", err)
	}

	response := map[string]interface{}{
		"imported":    stats.Imported,
		"skipped":     stats.Skipped,
		"failed":      stats.Failed,
		"embedded":    stats.Embedded,
		"pending":     stats.Pending,
		"version":     stats.Version,
		"duration_ms": stats.Duration.Milliseconds(),
	}
	if n := len(stats.ErrorMessages); n > 0 {
		// Include first few errors
		if n > 5 {
			response["errors"] = stats.ErrorMessages[:5]
			response["error_count"] = n
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleTagBookmark handles the tag_bookmark tool invocation
func (s *Server) handleTagBookmark(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	userID, err := requireID(args, "user_id")
	if err != nil {
		return nil, err
	}
	bookmarkID, err := requireID(args, "bookmark_id")
	if err != nil {
		return nil, err
	}
	tags := getStringSlice(args, "tags")

	response := map[string]interface{}{
		"bookmark_id": bookmarkID,
		"tags":        types.NormalizeTags(tags),
	}
	if getBoolDefault(args, "remove", false) {
		removed, err := s.importer.Untag(ctx, userID, bookmarkID, tags)
		if err != nil {
			return nil, mutationError(err)
		}
		response["removed"] = removed
	} else {
		if err := s.importer.Tag(ctx, userID, bookmarkID, tags); err != nil {
			return nil, mutationError(err)
		}
		response["added"] = true
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleDeleteBookmark handles the delete_bookmark tool invocation
func (s *Server) handleDeleteBookmark(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	userID, err := requireID(args, "user_id")
	if err != nil {
		return nil, err
	}
	bookmarkID, err := requireID(args, "bookmark_id")
	if err != nil {
		return nil, err
	}

	if err := s.importer.Delete(ctx, userID, bookmarkID); err != nil {
		return nil, mutationError(err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"deleted":     true,
		"bookmark_id": bookmarkID,
	})), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	userID, err := requireID(args, "user_id")
	if err != nil {
		return nil, err
	}

	status, err := s.store.GetStatus(ctx, userID)
	if err != nil {
		return nil, internalError("failed to get status", err)
	}

	response := map[string]interface{}{
		"user_id": userID,
		"statistics": map[string]interface{}{
			"bookmarks": status.Bookmarks,
			"tags":      status.Tags,
			"embedded":  status.Embedded,
			"pending":   status.Pending,
		},
		"storage":   status.Backend,
		"importing": s.importer.Importing(),
	}
	if !status.LastUpdated.IsZero() {
		response["last_updated"] = status.LastUpdated.Format(time.RFC3339)
	}

	// An unreadable version is reported, not fatal
	if version, err := s.versions.CurrentVersion(ctx, userID); err == nil {
		response["corpus_version"] = version
	} else {
		response["corpus_version_error"] = err.Error()
	}

	stats := s.searcher.CacheStats()
	response["cache"] = map[string]interface{}{
		"backend": stats.Backend,
		"hits":    stats.Hits,
		"misses":  stats.Misses,
		"errors":  stats.Errors,
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

func internalError(message string, err error) error {
	return newMCPError(ErrorCodeInternalError, message, map[string]interface{}{
		"error": err.Error(),
	})
}

// mutationError maps importer errors to MCP codes
func mutationError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return newMCPError(ErrorCodeNotFound, "bookmark not found", nil)
	case errors.Is(err, ingest.ErrNoTags),
		errors.Is(err, types.ErrInvalidUser),
		errors.Is(err, types.ErrInvalidBookmarkID):
		return newMCPError(ErrorCodeInvalidParams, err.Error(), nil)
	}
	return internalError("update failed", err)
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// requireID extracts a positive integer parameter
func requireID(args map[string]interface{}, key string) (int64, error) {
	id := int64(getIntDefault(args, key, 0))
	if id <= 0 {
		return 0, newMCPError(ErrorCodeInvalidParams, key+" must be a positive integer", map[string]interface{}{
			"param":  key,
			"reason": "missing or not positive",
		})
	}
	return id, nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	switch val := args[key].(type) {
	case float64:
		return int(val)
	case int:
		return val
	case int64:
		return int(val)
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts a list of strings. A single string is split on commas.
func getStringSlice(args map[string]interface{}, key string) []string {
	switch val := args[key].(type) {
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, v := range val {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if val == "" {
			return nil
		}
		return strings.Split(val, ",")
	}
	return nil
}
