package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/bookmarks-mcp/pkg/types"
)

// Format is an import file encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatHTML Format = "html" // Netscape bookmark file
)

// exportFile is the object form of an export: {"bookmarks": [...]}
type exportFile struct {
	Bookmarks []types.BookmarkInput `json:"bookmarks" yaml:"bookmarks"`
}

// FormatOf picks the format from a file extension
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".html", ".htm":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("unsupported import file %q: expected .json, .yaml, .yml or .html", path)
}

// FormatOfContentType picks the format from a request Content-Type.
// Anything unrecognised is JSON.
func FormatOfContentType(contentType string) Format {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return FormatJSON
	}
	switch {
	case strings.HasSuffix(mediaType, "yaml"):
		return FormatYAML
	case mediaType == "text/html":
		return FormatHTML
	}
	return FormatJSON
}

// LoadFile reads a bookmark export in JSON, YAML or Netscape HTML
func LoadFile(path string) ([]types.BookmarkInput, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}
	inputs, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return inputs, nil
}

// Parse decodes an export. JSON and YAML hold either a list of bookmarks or
// an object with a "bookmarks" list.
func Parse(data []byte, format Format) ([]types.BookmarkInput, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []types.BookmarkInput{}, nil
	}

	switch format {
	case FormatJSON:
		if data[0] == '[' {
			var list []types.BookmarkInput
			if err := json.Unmarshal(data, &list); err != nil {
				return nil, err
			}
			return list, nil
		}
		var file exportFile
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, err
		}
		return nonNil(file.Bookmarks), nil

	case FormatYAML:
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return nil, err
		}
		if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			var list []types.BookmarkInput
			if err := node.Decode(&list); err != nil {
				return nil, err
			}
			return nonNil(list), nil
		}
		var file exportFile
		if err := node.Decode(&file); err != nil {
			return nil, err
		}
		return nonNil(file.Bookmarks), nil

	case FormatHTML:
		return parseNetscape(data)
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

func nonNil(list []types.BookmarkInput) []types.BookmarkInput {
	if list == nil {
		return []types.BookmarkInput{}
	}
	return list
}
