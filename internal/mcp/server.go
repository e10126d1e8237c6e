package mcp

import (
	"context"
	"errors"
	"io"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/bookmarks-mcp/internal/corpus"
	"github.com/dshills/bookmarks-mcp/internal/ingest"
	"github.com/dshills/bookmarks-mcp/internal/searcher"
	"github.com/dshills/bookmarks-mcp/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "bookmarks-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Deps are the application components the tools call into
type Deps struct {
	Searcher *searcher.Searcher
	Importer *ingest.Importer
	Store    storage.Reader
	Versions corpus.VersionSource
	Logger   *zap.Logger
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	searcher *searcher.Searcher
	importer *ingest.Importer
	store    storage.Reader
	versions corpus.VersionSource
	logger   *zap.Logger
}

// NewServer creates a new MCP server instance
func NewServer(deps Deps) (*Server, error) {
	if deps.Searcher == nil || deps.Importer == nil || deps.Store == nil {
		return nil, errors.New("mcp server requires a searcher, an importer and a store")
	}
	if deps.Versions == nil {
		deps.Versions = corpus.NewCounter()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		searcher: deps.Searcher,
		importer: deps.Importer,
		store:    deps.Store,
		versions: deps.Versions,
		logger:   deps.Logger,
	}
	s.registerTools()
	return s, nil
}

// Serve speaks MCP over the given streams until ctx is done or in closes.
// Logs never go to out, which carries the protocol.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger.Named("mcp")))
	return stdio.Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchBookmarksTool(), s.handleSearchBookmarks)
	s.mcp.AddTool(importBookmarksTool(), s.handleImportBookmarks)
	s.mcp.AddTool(tagBookmarkTool(), s.handleTagBookmark)
	s.mcp.AddTool(deleteBookmarkTool(), s.handleDeleteBookmark)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}
