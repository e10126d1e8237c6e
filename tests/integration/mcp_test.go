package integration

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/dshills/bookmarks-mcp/internal/cache"
	"github.com/dshills/bookmarks-mcp/internal/corpus"
	"github.com/dshills/bookmarks-mcp/internal/embedder"
	"github.com/dshills/bookmarks-mcp/internal/ingest"
	mcpserver "github.com/dshills/bookmarks-mcp/internal/mcp"
	"github.com/dshills/bookmarks-mcp/internal/metrics"
	"github.com/dshills/bookmarks-mcp/internal/searcher"
	"github.com/dshills/bookmarks-mcp/internal/storage"
)

const exportJSON = `[
  {"url": "https://go.dev/doc", "title": "Golang documentation", "tags": ["go", "docs"]},
  {"url": "https://react.dev/learn", "title": "React tutorial", "tags": ["frontend", "docs"]},
  {"url": "https://go.dev/doc", "title": "Duplicate entry"}
]`

// MCPStdioSuite drives the MCP server over a pair of pipes, the same way a
// client does over stdio.
type MCPStdioSuite struct {
	suite.Suite

	store   *storage.SQLiteStorage
	metrics *metrics.Metrics

	cancel context.CancelFunc
	done   chan error
	in     *io.PipeWriter
	out    *io.PipeReader
	reader *bufio.Reader
	nextID int
	export string
}

func TestMCPStdioSuite(t *testing.T) {
	suite.Run(t, new(MCPStdioSuite))
}

func (s *MCPStdioSuite) SetupTest() {
	dir := s.T().TempDir()

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "bookmarks.db"))
	s.Require().NoError(err)
	s.store = store
	s.metrics = metrics.New()

	s.export = filepath.Join(dir, "export.json")
	s.Require().NoError(os.WriteFile(s.export, []byte(exportJSON), 0o600))

	emb := NewTopicEmbedder("golang", "react")
	versions := corpus.NewCounter()
	backend, err := cache.NewMemoryBackend(1000, 4)
	s.Require().NoError(err)

	srch, err := searcher.New(searcher.Deps{
		Store:    store,
		Resolver: embedder.NewResolver(emb, time.Second, nil, s.metrics),
		Cache:    cache.New(backend, time.Minute, nil, s.metrics),
		Versions: versions,
		Metrics:  s.metrics,
	}, searcher.DefaultOptions())
	s.Require().NoError(err)

	srv, err := mcpserver.NewServer(mcpserver.Deps{
		Searcher: srch,
		Importer: ingest.New(store, emb, versions, nil, s.metrics),
		Store:    store,
		Versions: versions,
	})
	s.Require().NoError(err)

	serverIn, clientOut := io.Pipe()
	clientIn, serverOut := io.Pipe()
	s.in, s.out = clientOut, clientIn
	s.reader = bufio.NewReader(clientIn)
	s.nextID = 0

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() { s.done <- srv.Serve(ctx, serverIn, serverOut) }()

	s.call("initialize", map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]interface{}{},
		"clientInfo":      map[string]interface{}{"name": "integration", "version": "1.0.0"},
	})
	s.notify("notifications/initialized")
}

func (s *MCPStdioSuite) TearDownTest() {
	s.cancel()
	_ = s.in.Close()
	_ = s.out.Close()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		s.T().Error("MCP server did not stop")
	}
	s.Require().NoError(s.store.Close())
}

func (s *MCPStdioSuite) send(msg map[string]interface{}) {
	line, err := json.Marshal(msg)
	s.Require().NoError(err)
	_, err = s.in.Write(append(line, '\n'))
	s.Require().NoError(err)
}

func (s *MCPStdioSuite) notify(method string) {
	s.send(map[string]interface{}{"jsonrpc": "2.0", "method": method})
}

// call sends a request and returns the response with the same id
func (s *MCPStdioSuite) call(method string, params map[string]interface{}) map[string]interface{} {
	s.nextID++
	id := s.nextID
	s.send(map[string]interface{}{"jsonrpc": "2.0", "id": id, "method": method, "params": params})

	for {
		line, err := s.reader.ReadBytes('\n')
		s.Require().NoError(err)
		var msg map[string]interface{}
		s.Require().NoError(json.Unmarshal(line, &msg))
		if got, ok := msg["id"].(float64); ok && int(got) == id {
			return msg
		}
	}
}

// tool calls name and decodes the JSON text content of a successful result
func (s *MCPStdioSuite) tool(name string, args map[string]interface{}) map[string]interface{} {
	msg := s.call("tools/call", map[string]interface{}{"name": name, "arguments": args})
	s.Require().Nil(msg["error"], "tool %s failed: %v", name, msg["error"])

	result, ok := msg["result"].(map[string]interface{})
	s.Require().True(ok)
	content, ok := result["content"].([]interface{})
	s.Require().True(ok)
	s.Require().NotEmpty(content)
	text, ok := content[0].(map[string]interface{})["text"].(string)
	s.Require().True(ok)

	var out map[string]interface{}
	s.Require().NoError(json.Unmarshal([]byte(text), &out))
	return out
}

func (s *MCPStdioSuite) importExport() {
	stats := s.tool("import_bookmarks", map[string]interface{}{"user_id": 1, "path": s.export})
	s.Equal(float64(2), stats["imported"])
	s.Equal(float64(1), stats["skipped"])
	s.Equal(float64(2), stats["embedded"])
}

func (s *MCPStdioSuite) search(args map[string]interface{}) (map[string]interface{}, []map[string]interface{}) {
	args["user_id"] = 1
	resp := s.tool("search_bookmarks", args)
	raw, _ := resp["bookmarks"].([]interface{})
	bookmarks := make([]map[string]interface{}, len(raw))
	for i, b := range raw {
		bookmarks[i] = b.(map[string]interface{})
	}
	return resp, bookmarks
}

func (s *MCPStdioSuite) TestToolsList() {
	msg := s.call("tools/list", map[string]interface{}{})
	result := msg["result"].(map[string]interface{})

	var names []string
	for _, tool := range result["tools"].([]interface{}) {
		names = append(names, tool.(map[string]interface{})["name"].(string))
	}
	s.ElementsMatch([]string{
		"search_bookmarks", "import_bookmarks", "tag_bookmark", "delete_bookmark", "get_status",
	}, names)
}

func (s *MCPStdioSuite) TestImportThenSemanticSearch() {
	s.importExport()

	resp, bookmarks := s.search(map[string]interface{}{"query": "golang"})
	s.Equal("vector", resp["mode"])
	s.Equal(false, resp["from_cache"])
	s.Require().NotEmpty(bookmarks)
	s.Equal("https://go.dev/doc", bookmarks[0]["url"])

	again, cached := s.search(map[string]interface{}{"query": "golang"})
	s.Equal(true, again["from_cache"])
	s.Equal(bookmarks[0]["id"], cached[0]["id"])
}

func (s *MCPStdioSuite) TestDomainQuery() {
	s.importExport()

	resp, bookmarks := s.search(map[string]interface{}{"query": "react.dev"})
	s.Equal("domain", resp["mode"])
	s.Require().NotEmpty(bookmarks)
	s.Equal("https://react.dev/learn", bookmarks[0]["url"])
}

func (s *MCPStdioSuite) TestMutationsInvalidateCache() {
	s.importExport()

	_, bookmarks := s.search(map[string]interface{}{"tags": []string{"docs"}})
	s.Require().Len(bookmarks, 2)
	resp, _ := s.search(map[string]interface{}{"tags": []string{"docs"}})
	s.Equal(true, resp["from_cache"])

	var reactID float64
	for _, b := range bookmarks {
		if b["url"] == "https://react.dev/learn" {
			reactID = b["id"].(float64)
		}
	}
	s.Require().NotZero(reactID)

	s.tool("tag_bookmark", map[string]interface{}{
		"user_id": 1, "bookmark_id": reactID, "tags": []string{"docs"}, "remove": true,
	})
	resp, bookmarks = s.search(map[string]interface{}{"tags": []string{"docs"}})
	s.Equal(false, resp["from_cache"])
	s.Require().Len(bookmarks, 1)
	s.Equal("https://go.dev/doc", bookmarks[0]["url"])

	s.tool("delete_bookmark", map[string]interface{}{"user_id": 1, "bookmark_id": bookmarks[0]["id"]})
	resp, bookmarks = s.search(map[string]interface{}{"tags": []string{"docs"}})
	s.Equal(false, resp["from_cache"])
	s.Empty(bookmarks)

	status := s.tool("get_status", map[string]interface{}{"user_id": 1})
	s.NotNil(status)
}

func (s *MCPStdioSuite) TestEmptyQueryIsError() {
	msg := s.call("tools/call", map[string]interface{}{
		"name":      "search_bookmarks",
		"arguments": map[string]interface{}{"user_id": 1, "query": "   "},
	})
	if msg["error"] == nil {
		// Some protocol versions report handler errors inside the result
		result := msg["result"].(map[string]interface{})
		s.Equal(true, result["isError"])
	}
}

func (s *MCPStdioSuite) TestUsersAreIsolated() {
	s.importExport()

	resp := s.tool("search_bookmarks", map[string]interface{}{"user_id": 2, "tags": []string{"docs"}})
	s.Empty(resp["bookmarks"])
}
