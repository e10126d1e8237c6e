package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/dshills/bookmarks-mcp/internal/ingest"
	"github.com/dshills/bookmarks-mcp/internal/plan"
	"github.com/dshills/bookmarks-mcp/pkg/types"
)

// maxImportBody bounds an import request body
const maxImportBody = 10 << 20

// tagsRequest is the body of the tag endpoints
type tagsRequest struct {
	Tags []string `json:"tags"`
}

// pathIDs reads the user and optional bookmark id from the route
func pathIDs(r *http.Request) (userID, bookmarkID int64, err error) {
	vars := mux.Vars(r)
	userID, err = strconv.ParseInt(vars["userID"], 10, 64)
	if err != nil || userID <= 0 {
		return 0, 0, types.ErrInvalidUser
	}
	if raw, ok := vars["id"]; ok {
		bookmarkID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || bookmarkID <= 0 {
			return 0, 0, types.ErrInvalidBookmarkID
		}
	}
	return userID, bookmarkID, nil
}

// splitTags reads repeated or comma separated tag parameters
func splitTags(values []string) []string {
	var tags []string
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	return tags
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "unavailable",
			"storage": s.store.Backend(),
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"storage": s.store.Backend(),
	})
}

// handleSearch serves GET /api/v1/users/{userID}/search?q=&tags=&limit=&cursor=
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	userID, _, err := pathIDs(r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "limit must be a positive integer", requestIDFrom(r))
			return
		}
	}

	resp, err := s.searcher.Search(r.Context(), plan.Request{
		UserID: userID,
		Query:  q.Get("q"),
		Tags:   splitTags(q["tags"]),
		Limit:  limit,
		Cursor: q.Get("cursor"),
	})
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleImport serves POST /api/v1/users/{userID}/bookmarks. The body is
// JSON unless Content-Type names YAML or a Netscape HTML export.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	userID, _, err := pathIDs(r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxImportBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "cannot read body", requestIDFrom(r))
		return
	}
	format := ingest.FormatOfContentType(r.Header.Get("Content-Type"))
	inputs, err := ingest.Parse(body, format)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid "+string(format)+" body: "+err.Error(), requestIDFrom(r))
		return
	}

	stats, err := s.importer.Import(r.Context(), userID, inputs, nil)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleDelete serves DELETE /api/v1/users/{userID}/bookmarks/{id}
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, bookmarkID, err := pathIDs(r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if err := s.importer.Delete(r.Context(), userID, bookmarkID); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readTags accepts {"tags": [...]} or, without a body, ?tags=a,b
func readTags(r *http.Request) ([]string, error) {
	if r.ContentLength == 0 {
		return splitTags(r.URL.Query()["tags"]), nil
	}
	var req tagsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxImportBody)).Decode(&req); err != nil {
		return nil, err
	}
	return req.Tags, nil
}

// handleTag serves PUT /api/v1/users/{userID}/bookmarks/{id}/tags
func (s *Server) handleTag(w http.ResponseWriter, r *http.Request) {
	userID, bookmarkID, err := pathIDs(r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	tags, err := readTags(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid JSON: "+err.Error(), requestIDFrom(r))
		return
	}
	if err := s.importer.Tag(r.Context(), userID, bookmarkID, tags); err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bookmark_id": bookmarkID,
		"tags":        types.NormalizeTags(tags),
	})
}

// handleUntag serves DELETE /api/v1/users/{userID}/bookmarks/{id}/tags
func (s *Server) handleUntag(w http.ResponseWriter, r *http.Request) {
	userID, bookmarkID, err := pathIDs(r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	tags, err := readTags(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid JSON: "+err.Error(), requestIDFrom(r))
		return
	}
	removed, err := s.importer.Untag(r.Context(), userID, bookmarkID, tags)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bookmark_id": bookmarkID,
		"removed":     removed,
	})
}

// handleReembed serves POST /api/v1/users/{userID}/reembed?limit=
func (s *Server) handleReembed(w http.ResponseWriter, r *http.Request) {
	userID, _, err := pathIDs(r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	n, err := s.importer.Reembed(r.Context(), userID, limit)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"embedded": n})
}

// handleStatus serves GET /api/v1/users/{userID}/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID, _, err := pathIDs(r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	status, err := s.store.GetStatus(r.Context(), userID)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	body := map[string]interface{}{
		"user_id":   userID,
		"bookmarks": status.Bookmarks,
		"tags":      status.Tags,
		"embedded":  status.Embedded,
		"pending":   status.Pending,
		"storage":   status.Backend,
		"importing": s.importer.Importing(),
		"cache":     s.searcher.CacheStats(),
	}
	if !status.LastUpdated.IsZero() {
		body["last_updated"] = status.LastUpdated
	}
	if version, err := s.versions.CurrentVersion(r.Context(), userID); err == nil {
		body["corpus_version"] = version
	}
	writeJSON(w, http.StatusOK, body)
}
