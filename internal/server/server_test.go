package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dshills/bookmarks-mcp/internal/cache"
	"github.com/dshills/bookmarks-mcp/internal/config"
	"github.com/dshills/bookmarks-mcp/internal/corpus"
	"github.com/dshills/bookmarks-mcp/internal/ingest"
	"github.com/dshills/bookmarks-mcp/internal/metrics"
	"github.com/dshills/bookmarks-mcp/internal/searcher"
	"github.com/dshills/bookmarks-mcp/internal/storage"
)

const importBody = `{"bookmarks": [
	{"url": "https://react.dev/hooks", "title": "React hooks", "tags": ["prog", "frontend"]},
	{"url": "https://vuejs.org/guide", "title": "Vue guide", "tags": ["prog"]},
	{"url": "https://github.com/golang/go", "title": "The Go repository", "tags": ["go"]}
]}`

type testEnv struct {
	server  *Server
	store   *storage.SQLiteStorage
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, cfg config.ServerConfig) *testEnv {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m := metrics.New()
	versions := corpus.NewCounter()
	backend, err := cache.NewMemoryBackend(100, 2)
	require.NoError(t, err)
	srch, err := searcher.New(searcher.Deps{
		Store:    store,
		Cache:    cache.New(backend, time.Minute, nil, m),
		Versions: versions,
		Metrics:  m,
	}, searcher.DefaultOptions())
	require.NoError(t, err)

	s, err := NewServer(cfg, config.MetricsConfig{Enabled: true, Path: "/metrics"}, Deps{
		Searcher: srch,
		Importer: ingest.New(store, nil, versions, nil, m),
		Store:    store,
		Versions: versions,
		Metrics:  m,
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)
	return &testEnv{server: s, store: store, metrics: m}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (e *testEnv) importFixture(t *testing.T) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/users/1/bookmarks", importBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, float64(3), decode(t, rec)["imported"])
}

func bookmarkIDs(t *testing.T, out map[string]interface{}) []float64 {
	t.Helper()
	list, ok := out["bookmarks"].([]interface{})
	require.True(t, ok)
	ids := make([]float64, len(list))
	for i, b := range list {
		ids[i] = b.(map[string]interface{})["id"].(float64)
	}
	return ids
}

func TestNewServer_RequiresDeps(t *testing.T) {
	_, err := NewServer(config.ServerConfig{}, config.MetricsConfig{}, Deps{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, config.ServerConfig{})

	rec := e.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	require.NoError(t, e.store.Close())
	rec = e.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSearch(t *testing.T) {
	e := newTestEnv(t, config.ServerConfig{})
	e.importFixture(t)

	rec := e.do(t, http.MethodGet, "/api/v1/users/1/search?tags=prog", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode(t, rec)
	assert.Len(t, bookmarkIDs(t, first), 2)
	assert.Equal(t, false, first["from_cache"])
	assert.Equal(t, "tag_only", first["mode"])

	rec = e.do(t, http.MethodGet, "/api/v1/users/1/search?tags=prog", "")
	second := decode(t, rec)
	assert.Equal(t, true, second["from_cache"])
	assert.Equal(t, bookmarkIDs(t, first), bookmarkIDs(t, second))

	rec = e.do(t, http.MethodGet, "/api/v1/users/1/search?q=github.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "domain", out["mode"])
	require.NotEmpty(t, bookmarkIDs(t, out))
}

func TestSearch_MultipleTagParams(t *testing.T) {
	e := newTestEnv(t, config.ServerConfig{})
	e.importFixture(t)

	for _, target := range []string{
		"/api/v1/users/1/search?tags=prog,frontend",
		"/api/v1/users/1/search?tags=prog&tags=frontend",
	} {
		rec := e.do(t, http.MethodGet, target, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, bookmarkIDs(t, decode(t, rec)), 1, target)
	}
}

func TestSearch_Paging(t *testing.T) {
	e := newTestEnv(t, config.ServerConfig{})
	e.importFixture(t)

	rec := e.do(t, http.MethodGet, "/api/v1/users/1/search?tags=prog&limit=1", "")
	first := decode(t, rec)
	cursor, ok := first["next_cursor"].(string)
	require.True(t, ok)

	rec = e.do(t, http.MethodGet, "/api/v1/users/1/search?tags=prog&limit=1&cursor="+cursor, "")
	second := decode(t, rec)
	assert.NotEqual(t, bookmarkIDs(t, first), bookmarkIDs(t, second))
	assert.Nil(t, second["next_cursor"])
}

func TestSearch_Errors(t *testing.T) {
	e := newTestEnv(t, config.ServerConfig{})

	tests := []struct {
		name   string
		target string
		status int
		code   ErrorCode
	}{
		{"empty query", "/api/v1/users/1/search?q=%20", http.StatusBadRequest, ErrorCodeEmptyQuery},
		{"no parameters", "/api/v1/users/1/search", http.StatusBadRequest, ErrorCodeEmptyQuery},
		{"bad limit", "/api/v1/users/1/search?q=go&limit=x", http.StatusBadRequest, ErrorCodeInvalidRequest},
		{"zero user", "/api/v1/users/0/search?q=go", http.StatusBadRequest, ErrorCodeInvalidRequest},
		{"unknown route", "/api/v1/nope", http.StatusNotFound, ErrorCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, string(tt.code), decode(t, rec)["error_code"])
		})
	}

	rec := e.do(t, http.MethodPost, "/api/v1/users/1/search", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestUserRoutes_WrongMethod(t *testing.T) {
	e := newTestEnv(t, config.ServerConfig{})

	tests := []struct {
		method string
		target string
	}{
		{http.MethodPost, "/api/v1/users/1/search"},
		{http.MethodDelete, "/api/v1/users/1/status"},
		{http.MethodGet, "/api/v1/users/1/bookmarks"},
		{http.MethodPost, "/api/v1/users/1/bookmarks/3"},
		{http.MethodGet, "/api/v1/users/1/bookmarks/3/tags"},
		{http.MethodGet, "/api/v1/users/1/reembed"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rec := e.do(t, tt.method, tt.target, "")
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			assert.Equal(t, string(ErrorCodeInvalidRequest), decode(t, rec)["error_code"])
		})
	}
}

func TestImport_InvalidBody(t *testing.T) {
	e := newTestEnv(t, config.ServerConfig{})

	rec := e.do(t, http.MethodPost, "/api/v1/users/1/bookmarks", `{"bookmarks": [`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/users/1/bookmarks", `[{"url": "not a url"}]`)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, float64(0), out["imported"])
	assert.Equal(t, float64(1), out["failed"])
}

func TestImport_ContentTypes(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"yaml", "application/yaml", "- url: https://go.dev/doc\n  title: Go docs\n  tags: [go]\n"},
		{"netscape html", "text/html; charset=UTF-8",
			`<DL><p><DT><A HREF="https://go.dev/doc" ADD_DATE="1700000000" TAGS="go">Go docs</A></DL>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t, config.ServerConfig{})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/users/1/bookmarks", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			e.server.Handler().ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, float64(1), decode(t, rec)["imported"])

			rec = e.do(t, http.MethodGet, "/api/v1/users/1/search?tags=go", "")
			assert.Len(t, bookmarkIDs(t, decode(t, rec)), 1)
		})
	}
}

func TestTagAndDelete(t *testing.T) {
	e := newTestEnv(t, config.ServerConfig{})
	e.importFixture(t)

	rec := e.do(t, http.MethodGet, "/api/v1/users/1/search?tags=go", "")
	ids := bookmarkIDs(t, decode(t, rec))
	require.Len(t, ids, 1)
	base := "/api/v1/users/1/bookmarks/" + jsonID(ids[0])

	rec = e.do(t, http.MethodPut, base+"/tags", `{"tags": ["Lang"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []interface{}{"lang"}, decode(t, rec)["tags"])

	rec = e.do(t, http.MethodGet, "/api/v1/users/1/search?tags=lang", "")
	assert.Equal(t, ids, bookmarkIDs(t, decode(t, rec)))

	rec = e.do(t, http.MethodDelete, base+"/tags?tags=lang", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["removed"])

	rec = e.do(t, http.MethodPut, base+"/tags", `{"tags": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(ErrorCodeNotFound), decode(t, rec)["error_code"])

	rec = e.do(t, http.MethodPut, "/api/v1/users/1/bookmarks/999/tags", `{"tags": ["x"]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func jsonID(id float64) string {
	b, _ := json.Marshal(int64(id))
	return string(b)
}

func TestReembedWithoutProvider(t *testing.T) {
	e := newTestEnv(t, config.ServerConfig{})
	e.importFixture(t)

	rec := e.do(t, http.MethodPost, "/api/v1/users/1/reembed", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, string(ErrorCodeEmbedding), decode(t, rec)["error_code"])
}

func TestStatus(t *testing.T) {
	e := newTestEnv(t, config.ServerConfig{})
	e.importFixture(t)
	e.do(t, http.MethodGet, "/api/v1/users/1/search?tags=prog", "")

	rec := e.do(t, http.MethodGet, "/api/v1/users/1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, float64(3), out["bookmarks"])
	assert.Equal(t, float64(3), out["pending"])
	assert.Equal(t, float64(1), out["corpus_version"])
	cacheStats := out["cache"].(map[string]interface{})
	assert.Equal(t, "memory", cacheStats["backend"])
	assert.Equal(t, float64(1), cacheStats["misses"])
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t, config.ServerConfig{})
	e.do(t, http.MethodGet, "/api/v1/users/1/search?tags=prog", "")

	rec := e.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "bookmarks_search_requests_total")
	assert.Contains(t, body, "bookmarks_http_requests_total")

	assert.Equal(t, 1.0, e.metrics.CounterValue("bookmarks_http_requests_total", map[string]string{
		"method": "GET",
		"route":  "/api/v1/users/{userID:[0-9]+}/search",
		"status": "200",
	}))
}

func TestRequestIDIsPropagated(t *testing.T) {
	e := newTestEnv(t, config.ServerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/1/search", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-123", decode(t, rec)["request_id"])
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t, config.ServerConfig{RateLimitRPS: 0.001, RateLimitBurst: 1})

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/healthz", "").Code)
	rec := e.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRecovery(t *testing.T) {
	h := Chain(RequestID, Recovery(zap.NewNop()))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, string(ErrorCodeInternalError), decode(t, rec)["error_code"])
	assert.NotEmpty(t, decode(t, rec)["request_id"])
}
