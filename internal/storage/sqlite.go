package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/bookmarks-mcp/pkg/types"
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// A single connection serializes writers and keeps :memory: databases alive.
	// Callers must close rows before issuing the next statement.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Backend reports the SQLite build in use
func (s *SQLiteStorage) Backend() string {
	return "sqlite/" + BuildMode
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) UpsertBookmark(ctx context.Context, b *Bookmark) error {
	return t.storage.upsertBookmarkWithQuerier(ctx, t.tx, b)
}

func (t *sqliteTx) AttachTags(ctx context.Context, userID, bookmarkID int64, tags []string, provenance types.TagProvenance) error {
	return t.storage.attachTagsWithQuerier(ctx, t.tx, userID, bookmarkID, tags, provenance)
}

func (t *sqliteTx) DetachTags(ctx context.Context, userID, bookmarkID int64, tags []string) (int, error) {
	return t.storage.detachTagsWithQuerier(ctx, t.tx, userID, bookmarkID, tags)
}

func (t *sqliteTx) UpsertEmbedding(ctx context.Context, e *Embedding) error {
	return t.storage.upsertEmbeddingWithQuerier(ctx, t.tx, e)
}

func (t *sqliteTx) DeleteBookmark(ctx context.Context, userID, bookmarkID int64) error {
	return t.storage.deleteBookmarkWithQuerier(ctx, t.tx, userID, bookmarkID)
}

// Bookmark operations

// upsertBookmarkWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) upsertBookmarkWithQuerier(ctx context.Context, q querier, b *Bookmark) error {
	prepareBookmark(b)
	query := `
		INSERT INTO bookmarks (user_id, url, domain, title, summary, search_text, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, url) DO UPDATE SET
			domain = excluded.domain,
			title = excluded.title,
			summary = excluded.summary,
			search_text = excluded.search_text,
			status = excluded.status,
			updated_at = excluded.updated_at
		RETURNING id, created_at
	`
	var createdAt int64
	err := q.QueryRowContext(ctx, query,
		b.UserID, b.URL, b.Domain, b.Title, b.Summary,
		types.SearchText(b.Title, b.Domain, b.Summary), string(b.Status),
		toUnixNano(b.CreatedAt), toUnixNano(b.UpdatedAt),
	).Scan(&b.ID, &createdAt)
	if err != nil {
		return fmt.Errorf("failed to upsert bookmark: %w", err)
	}
	b.CreatedAt = fromUnixNano(createdAt)
	return nil
}

func (s *SQLiteStorage) UpsertBookmark(ctx context.Context, b *Bookmark) error {
	return s.upsertBookmarkWithQuerier(ctx, s.db, b)
}

// prepareBookmark fills derived fields before a write
func prepareBookmark(b *Bookmark) {
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if b.Domain == "" {
		if domain, err := types.DomainOf(b.URL); err == nil {
			b.Domain = domain
		}
	}
	if b.Status == "" {
		b.Status = types.StatusPending
	}
}

// ensureBookmark verifies that a bookmark exists and belongs to userID
func ensureBookmark(ctx context.Context, q querier, userID, bookmarkID int64) error {
	var id int64
	err := q.QueryRowContext(ctx, "SELECT id FROM bookmarks WHERE id = ? AND user_id = ?", bookmarkID, userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *SQLiteStorage) deleteBookmarkWithQuerier(ctx context.Context, q querier, userID, bookmarkID int64) error {
	if err := ensureBookmark(ctx, q, userID, bookmarkID); err != nil {
		return err
	}
	// Explicit deletes keep this independent of the foreign_keys pragma
	for _, stmt := range []string{
		"DELETE FROM embeddings WHERE bookmark_id = ?",
		"DELETE FROM bookmark_tags WHERE bookmark_id = ?",
		"DELETE FROM bookmarks WHERE id = ?",
	} {
		if _, err := q.ExecContext(ctx, stmt, bookmarkID); err != nil {
			return fmt.Errorf("failed to delete bookmark: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) DeleteBookmark(ctx context.Context, userID, bookmarkID int64) error {
	return s.deleteBookmarkWithQuerier(ctx, s.db, userID, bookmarkID)
}

// Tag operations

func (s *SQLiteStorage) attachTagsWithQuerier(ctx context.Context, q querier, userID, bookmarkID int64, tags []string, provenance types.TagProvenance) error {
	if err := ensureBookmark(ctx, q, userID, bookmarkID); err != nil {
		return err
	}
	if provenance == "" {
		provenance = types.ProvenanceUser
	}

	now := toUnixNano(time.Now())
	// A user-authored association promotes an AI-suggested tag
	upsertTag := `
		INSERT INTO tags (user_id, name, provenance, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, name) DO UPDATE SET
			provenance = CASE WHEN excluded.provenance = 'user' THEN 'user' ELSE tags.provenance END
		RETURNING id
	`
	for _, name := range types.NormalizeTags(tags) {
		var tagID int64
		if err := q.QueryRowContext(ctx, upsertTag, userID, name, string(provenance), now).Scan(&tagID); err != nil {
			return fmt.Errorf("failed to upsert tag %q: %w", name, err)
		}
		if _, err := q.ExecContext(ctx,
			"INSERT INTO bookmark_tags (bookmark_id, tag_id) VALUES (?, ?) ON CONFLICT DO NOTHING",
			bookmarkID, tagID); err != nil {
			return fmt.Errorf("failed to attach tag %q: %w", name, err)
		}
	}

	_, err := q.ExecContext(ctx, "UPDATE bookmarks SET updated_at = ? WHERE id = ?", now, bookmarkID)
	return err
}

func (s *SQLiteStorage) AttachTags(ctx context.Context, userID, bookmarkID int64, tags []string, provenance types.TagProvenance) error {
	return s.attachTagsWithQuerier(ctx, s.db, userID, bookmarkID, tags, provenance)
}

func (s *SQLiteStorage) detachTagsWithQuerier(ctx context.Context, q querier, userID, bookmarkID int64, tags []string) (int, error) {
	if err := ensureBookmark(ctx, q, userID, bookmarkID); err != nil {
		return 0, err
	}
	names := types.NormalizeTags(tags)
	if len(names) == 0 {
		return 0, nil
	}

	qb := newQueryBuilder(sqliteDialect)
	qb.write(`DELETE FROM bookmark_tags WHERE bookmark_id = %s
		AND tag_id IN (SELECT id FROM tags WHERE user_id = %s AND name IN (%s))`,
		qb.bind(bookmarkID), qb.bind(userID), qb.bindList(names))

	result, err := q.ExecContext(ctx, qb.String(), qb.args...)
	if err != nil {
		return 0, fmt.Errorf("failed to detach tags: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if _, err := q.ExecContext(ctx, "UPDATE bookmarks SET updated_at = ? WHERE id = ?", toUnixNano(time.Now()), bookmarkID); err != nil {
			return 0, err
		}
	}
	return int(n), nil
}

func (s *SQLiteStorage) DetachTags(ctx context.Context, userID, bookmarkID int64, tags []string) (int, error) {
	return s.detachTagsWithQuerier(ctx, s.db, userID, bookmarkID, tags)
}

// Embedding operations

func (s *SQLiteStorage) upsertEmbeddingWithQuerier(ctx context.Context, q querier, e *Embedding) error {
	if len(e.Vector) == 0 {
		return fmt.Errorf("empty embedding for bookmark %d", e.BookmarkID)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	result, err := q.ExecContext(ctx,
		"UPDATE bookmarks SET status = ? WHERE id = ?",
		string(types.StatusReady), e.BookmarkID)
	if err != nil {
		return fmt.Errorf("failed to mark bookmark ready: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}

	query := `
		INSERT INTO embeddings (bookmark_id, vector, dimension, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(bookmark_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider = excluded.provider,
			model = excluded.model,
			created_at = excluded.created_at
	`
	_, err = q.ExecContext(ctx, query,
		e.BookmarkID, serializeVector(e.Vector), len(e.Vector), e.Provider, e.Model, toUnixNano(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, e *Embedding) error {
	return s.upsertEmbeddingWithQuerier(ctx, s.db, e)
}

// Search operations

func (s *SQLiteStorage) SearchTags(ctx context.Context, userID int64, tags []string, limit int) ([]TagResult, error) {
	names := normalizeQueryTags(tags)
	if len(names) == 0 || limit <= 0 {
		return []TagResult{}, nil
	}

	query, args := tagSearchQuery(sqliteDialect, userID, names, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute tag search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]TagResult, 0, limit)
	for rows.Next() {
		var (
			r         TagResult
			createdAt int64
		)
		if err := rows.Scan(&r.BookmarkID, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt = fromUnixNano(createdAt)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLiteStorage) SearchText(ctx context.Context, userID int64, q TextQuery, limit int) ([]TextResult, error) {
	if (len(q.Tokens) == 0 && q.Domain == "") || limit <= 0 {
		return []TextResult{}, nil
	}

	query, args := textSearchQuery(sqliteDialect, userID, q, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute text search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]TextResult, 0, limit)
	for rows.Next() {
		var (
			r         TextResult
			createdAt int64
			exact     int
		)
		if err := rows.Scan(&r.BookmarkID, &createdAt, &r.Matched, &exact); err != nil {
			return nil, err
		}
		r.CreatedAt = fromUnixNano(createdAt)
		r.ExactDomain = exact > 0
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *SQLiteStorage) SearchVector(ctx context.Context, userID int64, vector []float32, limit int) ([]VectorResult, error) {
	return searchVector(ctx, s.db, userID, vector, limit)
}

// Hydration

func (s *SQLiteStorage) GetBookmarks(ctx context.Context, userID int64, ids []int64) ([]*Bookmark, error) {
	if len(ids) == 0 {
		return []*Bookmark{}, nil
	}

	qb := newQueryBuilder(sqliteDialect)
	qb.write(`SELECT id, user_id, url, domain, title, summary, status, created_at, updated_at
		FROM bookmarks WHERE user_id = %s AND id IN (%s)`,
		qb.bind(userID), qb.bindIDs(ids))

	bookmarks, err := s.queryBookmarks(ctx, qb.String(), qb.args...)
	if err != nil {
		return nil, err
	}
	if len(bookmarks) == 0 {
		return bookmarks, nil
	}

	// Rows above are closed, so the single connection is free again
	found := make([]int64, len(bookmarks))
	byID := make(map[int64]*Bookmark, len(bookmarks))
	for i, b := range bookmarks {
		found[i] = b.ID
		byID[b.ID] = b
	}

	tq := newQueryBuilder(sqliteDialect)
	tq.write(`SELECT bt.bookmark_id, t.name
		FROM bookmark_tags bt INNER JOIN tags t ON t.id = bt.tag_id
		WHERE bt.bookmark_id IN (%s)
		ORDER BY t.name`, tq.bindIDs(found))

	rows, err := s.db.QueryContext(ctx, tq.String(), tq.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		if b, ok := byID[id]; ok {
			b.Tags = append(b.Tags, name)
		}
	}
	return bookmarks, rows.Err()
}

// queryBookmarks scans full bookmark rows without tags
func (s *SQLiteStorage) queryBookmarks(ctx context.Context, query string, args ...interface{}) ([]*Bookmark, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookmarks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	bookmarks := make([]*Bookmark, 0)
	for rows.Next() {
		var (
			b                    Bookmark
			status               string
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&b.ID, &b.UserID, &b.URL, &b.Domain, &b.Title, &b.Summary,
			&status, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		b.Status = types.BookmarkStatus(status)
		b.CreatedAt = fromUnixNano(createdAt)
		b.UpdatedAt = fromUnixNano(updatedAt)
		bookmarks = append(bookmarks, &b)
	}
	return bookmarks, rows.Err()
}

func (s *SQLiteStorage) ListPendingEmbeddings(ctx context.Context, userID int64, limit int) ([]*Bookmark, error) {
	if limit <= 0 {
		return []*Bookmark{}, nil
	}
	query := `
		SELECT b.id, b.user_id, b.url, b.domain, b.title, b.summary, b.status, b.created_at, b.updated_at
		FROM bookmarks b
		WHERE b.user_id = ? AND NOT EXISTS (SELECT 1 FROM embeddings e WHERE e.bookmark_id = b.id)
		ORDER BY b.id
		LIMIT ?
	`
	return s.queryBookmarks(ctx, query, userID, limit)
}

// Status operations

func (s *SQLiteStorage) GetStatus(ctx context.Context, userID int64) (*UserStatus, error) {
	status := &UserStatus{UserID: userID, Backend: s.Backend()}

	var lastUpdated sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM bookmarks WHERE user_id = ?),
			(SELECT COUNT(*) FROM tags WHERE user_id = ?),
			(SELECT COUNT(*) FROM embeddings e INNER JOIN bookmarks b ON b.id = e.bookmark_id WHERE b.user_id = ?),
			(SELECT MAX(updated_at) FROM bookmarks WHERE user_id = ?)
	`, userID, userID, userID, userID).Scan(&status.Bookmarks, &status.Tags, &status.Embedded, &lastUpdated)
	if err != nil {
		return nil, fmt.Errorf("failed to read status: %w", err)
	}

	status.Pending = status.Bookmarks - status.Embedded
	if lastUpdated.Valid {
		status.LastUpdated = fromUnixNano(lastUpdated.Int64)
	}
	return status, nil
}
