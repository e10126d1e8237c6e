// Package mcp exposes bookmark search and curation as Model Context
// Protocol tools over stdio.
//
// Tools:
//   - search_bookmarks: hybrid search by text, tags or domain, with paging
//   - import_bookmarks: import a JSON or YAML export file
//   - tag_bookmark: add or remove tags on a bookmark
//   - delete_bookmark: delete a bookmark
//   - get_status: corpus statistics, corpus version and cache counters
//
// Every tool takes a user_id; bookmarks are never visible across users.
//
// # Tool: search_bookmarks
//
//	Request:
//	{
//	  "name": "search_bookmarks",
//	  "arguments": {"user_id": 1, "query": "react hooks", "tags": ["frontend"], "limit": 10}
//	}
//
//	Response:
//	{
//	  "bookmarks": [{"id": 12, "rank": 1, "score": 0.93, "url": "https://react.dev/...", ...}],
//	  "from_cache": false,
//	  "mode": "combined",
//	  "next_cursor": "bzoxMA",
//	  "total": 37
//	}
//
// An identical request answered from the result cache reports
// "from_cache": true with the same bookmarks. When a retriever or the
// embedding provider is unavailable the answer is still returned, with a
// "degraded" list naming what was left out.
//
// # Errors
//
// Tool failures are returned as MCPError values:
//
//	-32602  invalid parameters (missing user_id, bad limit)
//	-32603  internal error
//	-32001  bookmark not found
//	-32002  an import is already running
//	-32003  import file missing or unreadable
//	-32004  neither query nor tags supplied
//
// # Transport
//
// Serve reads JSON-RPC messages from its input stream and writes responses
// to its output stream. The CLI wires these to stdin and stdout, so all
// logging goes to stderr.
package mcp
