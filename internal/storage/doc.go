// Package storage persists bookmarks, tags and embeddings.
//
// Two engines implement Storage. SQLiteStorage is the default and builds in
// two flavours: pure Go (modernc.org/sqlite) by default, or CGO with the
// sqlite_vec tag (github.com/mattn/go-sqlite3) where vector distance is
// computed in SQL. PostgresStorage uses a pgx connection pool.
//
// # Database Schema
//
// Tables:
//   - bookmarks: one row per (user, url) with folded search_text
//   - tags: per-user tag names with provenance (user or ai)
//   - bookmark_tags: tag associations
//   - embeddings: one float32 vector per bookmark
//   - schema_version: applied semver migrations
//
// # Query Capabilities
//
// Retrieval relies on three independent reads:
//
//	tags, err := db.SearchTags(ctx, userID, []string{"go", "testing"}, 200)
//	text, err := db.SearchText(ctx, userID, storage.TextQuery{Tokens: []string{"react"}}, 200)
//	vecs, err := db.SearchVector(ctx, userID, queryVector, 200)
//
// SearchTags has AND semantics. SearchText counts query tokens found in a
// bookmark's title, domain and summary. SearchVector ranks by cosine
// similarity and skips bookmarks without an embedding of matching
// dimension. All three order ties by created_at descending, then id.
//
// # Writes
//
// Ingestion writes through a transaction:
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	b := &storage.Bookmark{UserID: 1, URL: "https://go.dev/blog"}
//	if err := tx.UpsertBookmark(ctx, b); err != nil {
//	    return err
//	}
//	if err := tx.AttachTags(ctx, 1, b.ID, []string{"go"}, types.ProvenanceUser); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// SQLite runs with a single connection. Rows must be closed before the next
// statement is issued, and statements inside a transaction must go through
// the transaction.
package storage
