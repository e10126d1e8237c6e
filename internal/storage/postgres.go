package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dshills/bookmarks-mcp/pkg/types"
)

// PostgresMigrations contains all PostgreSQL migrations in order
var PostgresMigrations = []Migration{
	{
		Version: "1.0.0",
		Up: `
CREATE TABLE IF NOT EXISTS bookmarks (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    url TEXT NOT NULL,
    domain TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    search_text TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    UNIQUE(user_id, url)
);

CREATE INDEX IF NOT EXISTS idx_bookmarks_user_created ON bookmarks(user_id, created_at DESC, id);
CREATE INDEX IF NOT EXISTS idx_bookmarks_user_domain ON bookmarks(user_id, domain);

CREATE TABLE IF NOT EXISTS tags (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    name TEXT NOT NULL,
    provenance TEXT NOT NULL DEFAULT 'user',
    created_at TIMESTAMPTZ NOT NULL,
    UNIQUE(user_id, name)
);

CREATE TABLE IF NOT EXISTS bookmark_tags (
    bookmark_id BIGINT NOT NULL REFERENCES bookmarks(id) ON DELETE CASCADE,
    tag_id BIGINT NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
    PRIMARY KEY (bookmark_id, tag_id)
);

CREATE INDEX IF NOT EXISTS idx_bookmark_tags_tag ON bookmark_tags(tag_id);

CREATE TABLE IF NOT EXISTS embeddings (
    bookmark_id BIGINT PRIMARY KEY REFERENCES bookmarks(id) ON DELETE CASCADE,
    vector REAL[] NOT NULL,
    dimension INTEGER NOT NULL,
    provider TEXT NOT NULL,
    model TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
`,
		Down: `
DROP TABLE IF EXISTS embeddings;
DROP TABLE IF EXISTS bookmark_tags;
DROP TABLE IF EXISTS tags;
DROP TABLE IF EXISTS bookmarks;
`,
	},
	{
		Version: "1.1.0",
		Up: `
CREATE INDEX IF NOT EXISTS idx_bookmarks_user_status ON bookmarks(user_id, status);
CREATE INDEX IF NOT EXISTS idx_embeddings_dimension ON embeddings(dimension);
`,
		Down: `
DROP INDEX IF EXISTS idx_embeddings_dimension;
DROP INDEX IF EXISTS idx_bookmarks_user_status;
`,
	},
}

// PostgresStorage implements the Storage interface using PostgreSQL
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects to PostgreSQL and applies migrations
func NewPostgresStorage(ctx context.Context, dsn string, maxConns int32) (*PostgresStorage, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := applyPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

func applyPostgresMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	rows, err := pool.Query(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return fmt.Errorf("failed to read schema_version: %w", err)
	}
	applied, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("failed to read schema_version: %w", err)
	}

	current, err := latestVersion(applied)
	if err != nil {
		return err
	}
	pending, err := pendingMigrations(current, PostgresMigrations)
	if err != nil {
		return err
	}

	for _, migration := range pending {
		if _, err := pool.Exec(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		if _, err := pool.Exec(ctx, "INSERT INTO schema_version (version) VALUES ($1)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection
func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Backend reports the storage engine
func (s *PostgresStorage) Backend() string {
	return "postgres"
}

// pgQuerier is an interface that both *pgxpool.Pool and pgx.Tx implement
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// BeginTx starts a new transaction
func (s *PostgresStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &postgresTx{tx: tx, storage: s}, nil
}

// postgresTx wraps a pgx transaction. Commit and Rollback take no context,
// so they finish the transaction under context.Background.
type postgresTx struct {
	tx      pgx.Tx
	storage *PostgresStorage
}

func (t *postgresTx) Commit() error {
	return t.tx.Commit(context.Background())
}

func (t *postgresTx) Rollback() error {
	err := t.tx.Rollback(context.Background())
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func (t *postgresTx) UpsertBookmark(ctx context.Context, b *Bookmark) error {
	return t.storage.upsertBookmark(ctx, t.tx, b)
}

func (t *postgresTx) AttachTags(ctx context.Context, userID, bookmarkID int64, tags []string, provenance types.TagProvenance) error {
	return t.storage.attachTags(ctx, t.tx, userID, bookmarkID, tags, provenance)
}

func (t *postgresTx) DetachTags(ctx context.Context, userID, bookmarkID int64, tags []string) (int, error) {
	return t.storage.detachTags(ctx, t.tx, userID, bookmarkID, tags)
}

func (t *postgresTx) UpsertEmbedding(ctx context.Context, e *Embedding) error {
	return t.storage.upsertEmbedding(ctx, t.tx, e)
}

func (t *postgresTx) DeleteBookmark(ctx context.Context, userID, bookmarkID int64) error {
	return t.storage.deleteBookmark(ctx, t.tx, userID, bookmarkID)
}

// Write side

func (s *PostgresStorage) upsertBookmark(ctx context.Context, q pgQuerier, b *Bookmark) error {
	prepareBookmark(b)
	query := `
		INSERT INTO bookmarks (user_id, url, domain, title, summary, search_text, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, url) DO UPDATE SET
			domain = EXCLUDED.domain,
			title = EXCLUDED.title,
			summary = EXCLUDED.summary,
			search_text = EXCLUDED.search_text,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	err := q.QueryRow(ctx, query,
		b.UserID, b.URL, b.Domain, b.Title, b.Summary,
		types.SearchText(b.Title, b.Domain, b.Summary), string(b.Status),
		b.CreatedAt, b.UpdatedAt,
	).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert bookmark: %w", err)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return nil
}

func (s *PostgresStorage) UpsertBookmark(ctx context.Context, b *Bookmark) error {
	return s.upsertBookmark(ctx, s.pool, b)
}

func (s *PostgresStorage) ensureBookmark(ctx context.Context, q pgQuerier, userID, bookmarkID int64) error {
	var id int64
	err := q.QueryRow(ctx, "SELECT id FROM bookmarks WHERE id = $1 AND user_id = $2", bookmarkID, userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStorage) attachTags(ctx context.Context, q pgQuerier, userID, bookmarkID int64, tags []string, provenance types.TagProvenance) error {
	if err := s.ensureBookmark(ctx, q, userID, bookmarkID); err != nil {
		return err
	}
	if provenance == "" {
		provenance = types.ProvenanceUser
	}

	now := time.Now().UTC()
	upsertTag := `
		INSERT INTO tags (user_id, name, provenance, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, name) DO UPDATE SET
			provenance = CASE WHEN EXCLUDED.provenance = 'user' THEN 'user' ELSE tags.provenance END
		RETURNING id
	`
	for _, name := range types.NormalizeTags(tags) {
		var tagID int64
		if err := q.QueryRow(ctx, upsertTag, userID, name, string(provenance), now).Scan(&tagID); err != nil {
			return fmt.Errorf("failed to upsert tag %q: %w", name, err)
		}
		if _, err := q.Exec(ctx,
			"INSERT INTO bookmark_tags (bookmark_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			bookmarkID, tagID); err != nil {
			return fmt.Errorf("failed to attach tag %q: %w", name, err)
		}
	}

	_, err := q.Exec(ctx, "UPDATE bookmarks SET updated_at = $1 WHERE id = $2", now, bookmarkID)
	return err
}

func (s *PostgresStorage) AttachTags(ctx context.Context, userID, bookmarkID int64, tags []string, provenance types.TagProvenance) error {
	return s.attachTags(ctx, s.pool, userID, bookmarkID, tags, provenance)
}

func (s *PostgresStorage) detachTags(ctx context.Context, q pgQuerier, userID, bookmarkID int64, tags []string) (int, error) {
	if err := s.ensureBookmark(ctx, q, userID, bookmarkID); err != nil {
		return 0, err
	}
	names := types.NormalizeTags(tags)
	if len(names) == 0 {
		return 0, nil
	}

	tag, err := q.Exec(ctx, `
		DELETE FROM bookmark_tags WHERE bookmark_id = $1
		AND tag_id IN (SELECT id FROM tags WHERE user_id = $2 AND name = ANY($3))`,
		bookmarkID, userID, names)
	if err != nil {
		return 0, fmt.Errorf("failed to detach tags: %w", err)
	}
	n := tag.RowsAffected()
	if n > 0 {
		if _, err := q.Exec(ctx, "UPDATE bookmarks SET updated_at = $1 WHERE id = $2", time.Now().UTC(), bookmarkID); err != nil {
			return 0, err
		}
	}
	return int(n), nil
}

func (s *PostgresStorage) DetachTags(ctx context.Context, userID, bookmarkID int64, tags []string) (int, error) {
	return s.detachTags(ctx, s.pool, userID, bookmarkID, tags)
}

func (s *PostgresStorage) upsertEmbedding(ctx context.Context, q pgQuerier, e *Embedding) error {
	if len(e.Vector) == 0 {
		return fmt.Errorf("empty embedding for bookmark %d", e.BookmarkID)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	tag, err := q.Exec(ctx, "UPDATE bookmarks SET status = $1 WHERE id = $2", string(types.StatusReady), e.BookmarkID)
	if err != nil {
		return fmt.Errorf("failed to mark bookmark ready: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	_, err = q.Exec(ctx, `
		INSERT INTO embeddings (bookmark_id, vector, dimension, provider, model, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (bookmark_id) DO UPDATE SET
			vector = EXCLUDED.vector,
			dimension = EXCLUDED.dimension,
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			created_at = EXCLUDED.created_at`,
		e.BookmarkID, e.Vector, len(e.Vector), e.Provider, e.Model, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	return nil
}

func (s *PostgresStorage) UpsertEmbedding(ctx context.Context, e *Embedding) error {
	return s.upsertEmbedding(ctx, s.pool, e)
}

func (s *PostgresStorage) deleteBookmark(ctx context.Context, q pgQuerier, userID, bookmarkID int64) error {
	tag, err := q.Exec(ctx, "DELETE FROM bookmarks WHERE id = $1 AND user_id = $2", bookmarkID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete bookmark: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStorage) DeleteBookmark(ctx context.Context, userID, bookmarkID int64) error {
	return s.deleteBookmark(ctx, s.pool, userID, bookmarkID)
}

// Read side

func (s *PostgresStorage) SearchTags(ctx context.Context, userID int64, tags []string, limit int) ([]TagResult, error) {
	names := normalizeQueryTags(tags)
	if len(names) == 0 || limit <= 0 {
		return []TagResult{}, nil
	}

	query, args := tagSearchQuery(postgresDialect, userID, names, limit)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute tag search: %w", err)
	}
	defer rows.Close()

	results := make([]TagResult, 0, limit)
	for rows.Next() {
		var r TagResult
		if err := rows.Scan(&r.BookmarkID, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *PostgresStorage) SearchText(ctx context.Context, userID int64, q TextQuery, limit int) ([]TextResult, error) {
	if (len(q.Tokens) == 0 && q.Domain == "") || limit <= 0 {
		return []TextResult{}, nil
	}

	query, args := textSearchQuery(postgresDialect, userID, q, limit)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute text search: %w", err)
	}
	defer rows.Close()

	results := make([]TextResult, 0, limit)
	for rows.Next() {
		var (
			r     TextResult
			exact int
		)
		if err := rows.Scan(&r.BookmarkID, &r.CreatedAt, &r.Matched, &exact); err != nil {
			return nil, err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		r.ExactDomain = exact > 0
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *PostgresStorage) SearchVector(ctx context.Context, userID int64, vector []float32, limit int) ([]VectorResult, error) {
	if len(vector) == 0 || limit <= 0 {
		return []VectorResult{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT b.id, b.created_at, e.vector
		FROM embeddings e
		INNER JOIN bookmarks b ON b.id = e.bookmark_id
		WHERE b.user_id = $1 AND e.dimension = $2`,
		userID, len(vector))
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	candidates := make([]VectorResult, 0, 256)
	for rows.Next() {
		var (
			r      VectorResult
			stored []float32
		)
		if err := rows.Scan(&r.BookmarkID, &r.CreatedAt, &stored); err != nil {
			return nil, err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		r.Similarity = cosineSimilarity(vector, stored)
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topVectorResults(candidates, limit), nil
}

func (s *PostgresStorage) GetBookmarks(ctx context.Context, userID int64, ids []int64) ([]*Bookmark, error) {
	if len(ids) == 0 {
		return []*Bookmark{}, nil
	}

	bookmarks, err := s.queryBookmarks(ctx, `
		SELECT id, user_id, url, domain, title, summary, status, created_at, updated_at
		FROM bookmarks WHERE user_id = $1 AND id = ANY($2)`, userID, ids)
	if err != nil {
		return nil, err
	}
	if len(bookmarks) == 0 {
		return bookmarks, nil
	}

	found := make([]int64, len(bookmarks))
	byID := make(map[int64]*Bookmark, len(bookmarks))
	for i, b := range bookmarks {
		found[i] = b.ID
		byID[b.ID] = b
	}

	rows, err := s.pool.Query(ctx, `
		SELECT bt.bookmark_id, t.name
		FROM bookmark_tags bt INNER JOIN tags t ON t.id = bt.tag_id
		WHERE bt.bookmark_id = ANY($1)
		ORDER BY t.name`, found)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	defer rows.Close()

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

func (s *PostgresStorage) queryBookmarks(ctx context.Context, query string, args ...any) ([]*Bookmark, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookmarks: %w", err)
	}
	defer rows.Close()

	bookmarks := make([]*Bookmark, 0)
	for rows.Next() {
		var (
			b      Bookmark
			status string
		)
		if err := rows.Scan(&b.ID, &b.UserID, &b.URL, &b.Domain, &b.Title, &b.Summary,
			&status, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		b.Status = types.BookmarkStatus(status)
		b.CreatedAt = b.CreatedAt.UTC()
		b.UpdatedAt = b.UpdatedAt.UTC()
		bookmarks = append(bookmarks, &b)
	}
	return bookmarks, rows.Err()
}

func (s *PostgresStorage) ListPendingEmbeddings(ctx context.Context, userID int64, limit int) ([]*Bookmark, error) {
	if limit <= 0 {
		return []*Bookmark{}, nil
	}
	return s.queryBookmarks(ctx, `
		SELECT b.id, b.user_id, b.url, b.domain, b.title, b.summary, b.status, b.created_at, b.updated_at
		FROM bookmarks b
		WHERE b.user_id = $1 AND NOT EXISTS (SELECT 1 FROM embeddings e WHERE e.bookmark_id = b.id)
		ORDER BY b.id
		LIMIT $2`, userID, limit)
}

func (s *PostgresStorage) GetStatus(ctx context.Context, userID int64) (*UserStatus, error) {
	status := &UserStatus{UserID: userID, Backend: s.Backend()}

	var lastUpdated *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM bookmarks WHERE user_id = $1),
			(SELECT COUNT(*) FROM tags WHERE user_id = $1),
			(SELECT COUNT(*) FROM embeddings e INNER JOIN bookmarks b ON b.id = e.bookmark_id WHERE b.user_id = $1),
			(SELECT MAX(updated_at) FROM bookmarks WHERE user_id = $1)`,
		userID).Scan(&status.Bookmarks, &status.Tags, &status.Embedded, &lastUpdated)
	if err != nil {
		return nil, fmt.Errorf("failed to read status: %w", err)
	}

	status.Pending = status.Bookmarks - status.Embedded
	if lastUpdated != nil {
		status.LastUpdated = lastUpdated.UTC()
	}
	return status, nil
}
