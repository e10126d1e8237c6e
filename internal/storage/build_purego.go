//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

// This file is compiled by default and whenever the purego tag is set.
// Cosine similarity is computed in Go over the stored vectors.
//
// Build command:
//   CGO_ENABLED=0 go build ./...
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
