package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func userIDProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": "Owner of the bookmarks",
		"minimum":     1,
	}
}

func bookmarkIDProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": "Bookmark identifier as returned by search_bookmarks",
		"minimum":     1,
	}
}

func tagsProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"description": description,
		"items": map[string]interface{}{
			"type": "string",
		},
	}
}

// searchBookmarksTool returns the tool definition for search_bookmarks
func searchBookmarksTool() mcp.Tool {
	return mcp.Tool{
		Name: "search_bookmarks",
		Description: "Search a user's bookmarks by free text, tags, or both. Tags must all match. " +
			"A query that looks like a domain (e.g. github.com) ranks bookmarks from that site first.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": userIDProperty(),
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Free text or a domain",
				},
				"tags": tagsProperty("Tags every result must carry"),
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Results per page (1-100)",
					"default":     20,
					"minimum":     1,
					"maximum":     100,
				},
				"cursor": map[string]interface{}{
					"type":        "string",
					"description": "next_cursor from a previous page",
				},
			},
			Required: []string{"user_id"},
		},
	}
}

// importBookmarksTool returns the tool definition for import_bookmarks
func importBookmarksTool() mcp.Tool {
	return mcp.Tool{
		Name:        "import_bookmarks",
		Description: "Import bookmarks from a JSON or YAML export file, or a browser/Delicious HTML bookmark file",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": userIDProperty(),
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to a .json, .yaml, .yml or .html export",
				},
			},
			Required: []string{"user_id", "path"},
		},
	}
}

// tagBookmarkTool returns the tool definition for tag_bookmark
func tagBookmarkTool() mcp.Tool {
	return mcp.Tool{
		Name:        "tag_bookmark",
		Description: "Add tags to a bookmark, or remove them",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id":     userIDProperty(),
				"bookmark_id": bookmarkIDProperty(),
				"tags":        tagsProperty("Tag names"),
				"remove": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, remove the tags instead of adding them",
					"default":     false,
				},
			},
			Required: []string{"user_id", "bookmark_id", "tags"},
		},
	}
}

// deleteBookmarkTool returns the tool definition for delete_bookmark
func deleteBookmarkTool() mcp.Tool {
	return mcp.Tool{
		Name:        "delete_bookmark",
		Description: "Delete a bookmark with its tags and embedding",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id":     userIDProperty(),
				"bookmark_id": bookmarkIDProperty(),
			},
			Required: []string{"user_id", "bookmark_id"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Corpus statistics, corpus version and search cache counters for a user",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": userIDProperty(),
			},
			Required: []string{"user_id"},
		},
	}
}
