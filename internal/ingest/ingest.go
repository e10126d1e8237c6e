package ingest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/bookmarks-mcp/internal/corpus"
	"github.com/dshills/bookmarks-mcp/internal/embedder"
	"github.com/dshills/bookmarks-mcp/internal/metrics"
	"github.com/dshills/bookmarks-mcp/internal/storage"
	"github.com/dshills/bookmarks-mcp/pkg/types"
)

const (
	// DefaultBatchSize is the number of bookmarks committed per transaction
	DefaultBatchSize = 50

	// DefaultReembedLimit bounds one Reembed pass
	DefaultReembedLimit = 500
)

var (
	// ErrImportInProgress is returned when another import holds the lock
	ErrImportInProgress = errors.New("an import is already running")

	// ErrNoTags is returned by Tag and Untag when no usable tag names are given
	ErrNoTags = errors.New("at least one tag is required")
)

// Importer is the mutation boundary of the corpus: every change it commits
// is followed by a bump of the owner's corpus version, which retires cached
// search results computed before the change.
type Importer struct {
	store    storage.Storage
	embedder embedder.Embedder // nil leaves new bookmarks pending
	versions corpus.Invalidator
	logger   *zap.Logger
	metrics  *metrics.Metrics

	lock ImportLock
}

// Config controls an import run
type Config struct {
	Workers   int // Concurrent batches (default: runtime.NumCPU())
	BatchSize int // Bookmarks per transaction (default: 50)
}

// Statistics summarises an import run
type Statistics struct {
	Imported      int           `json:"imported"`
	Skipped       int           `json:"skipped"`  // Duplicate URLs within the input
	Failed        int           `json:"failed"`   // Invalid inputs and rolled back batches
	Embedded      int           `json:"embedded"` // Imported with an embedding
	Pending       int           `json:"pending"`  // Imported without an embedding
	Version       uint64        `json:"version"`  // Corpus version after the last commit
	Duration      time.Duration `json:"duration_ns"`
	ErrorMessages []string      `json:"errors,omitempty"`
}

// New creates an Importer. A nil embedder imports bookmarks as pending.
func New(store storage.Storage, e embedder.Embedder, versions corpus.Invalidator, logger *zap.Logger, m *metrics.Metrics) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{
		store:    store,
		embedder: e,
		versions: versions,
		logger:   logger,
		metrics:  m,
	}
}

// Importing reports whether an import is running
func (im *Importer) Importing() bool {
	return im.lock.Held()
}

// Import upserts bookmarks for userID in batched transactions. Invalid
// inputs and failed batches are counted, not returned; an error is returned
// only when the run could not proceed at all.
func (im *Importer) Import(ctx context.Context, userID int64, inputs []types.BookmarkInput, cfg *Config) (*Statistics, error) {
	if userID <= 0 {
		return nil, types.ErrInvalidUser
	}
	if !im.lock.TryAcquire() {
		return nil, ErrImportInProgress
	}
	defer im.lock.Release()

	if cfg == nil {
		cfg = &Config{}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	start := time.Now()
	stats := &Statistics{ErrorMessages: make([]string, 0)}
	valid := im.prepare(userID, inputs, stats)

	var mu sync.Mutex // Protects stats
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := 0; i < len(valid); i += batchSize {
		end := min(i+batchSize, len(valid))
		batch := valid[i:end]

		g.Go(func() error {
			res, err := im.importBatch(gctx, userID, batch)
			if gctx.Err() != nil {
				return gctx.Err()
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Failed += len(batch)
				stats.ErrorMessages = append(stats.ErrorMessages,
					fmt.Sprintf("batch %s..%s: %v", batch[0].URL, batch[len(batch)-1].URL, err))
				im.metrics.IngestBookmarks("failed", len(batch))
				return nil
			}
			stats.Imported += len(batch)
			stats.Embedded += res.embedded
			stats.Pending += len(batch) - res.embedded
			if res.bumpErr != nil {
				stats.ErrorMessages = append(stats.ErrorMessages, res.bumpErr.Error())
			} else if res.version > stats.Version {
				stats.Version = res.version
			}
			im.metrics.IngestBookmarks("imported", len(batch))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.Duration = time.Since(start)
	im.logger.Info("import complete",
		zap.Int64("user_id", userID),
		zap.Int("imported", stats.Imported),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Int("pending", stats.Pending),
		zap.Uint64("version", stats.Version),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// prepare validates inputs and drops repeated URLs, keeping the first
func (im *Importer) prepare(userID int64, inputs []types.BookmarkInput, stats *Statistics) []types.BookmarkInput {
	seen := make(map[string]struct{}, len(inputs))
	valid := make([]types.BookmarkInput, 0, len(inputs))
	for _, in := range inputs {
		in.URL = strings.TrimSpace(in.URL)
		if err := in.Validate(); err != nil {
			stats.Failed++
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%q: %v", in.URL, err))
			im.metrics.IngestBookmarks("invalid", 1)
			continue
		}
		if _, dup := seen[in.URL]; dup {
			stats.Skipped++
			im.metrics.IngestBookmarks("skipped", 1)
			continue
		}
		seen[in.URL] = struct{}{}
		valid = append(valid, in)
	}
	if len(valid) < len(inputs) {
		im.logger.Debug("import inputs filtered",
			zap.Int64("user_id", userID),
			zap.Int("received", len(inputs)),
			zap.Int("valid", len(valid)))
	}
	return valid
}

type batchResult struct {
	embedded int
	version  uint64
	bumpErr  error
}

// importBatch embeds a batch outside the transaction, then writes it in one
func (im *Importer) importBatch(ctx context.Context, userID int64, batch []types.BookmarkInput) (*batchResult, error) {
	bookmarks := make([]*storage.Bookmark, len(batch))
	texts := make([]string, len(batch))
	for i, in := range batch {
		domain, _ := types.DomainOf(in.URL)
		bookmarks[i] = &storage.Bookmark{
			UserID:    userID,
			URL:       in.URL,
			Domain:    domain,
			Title:     strings.TrimSpace(in.Title),
			Summary:   strings.TrimSpace(in.Summary),
			CreatedAt: in.CreatedAt,
		}
		texts[i] = types.SearchText(bookmarks[i].Title, domain, bookmarks[i].Summary)
	}

	vectors := im.embed(ctx, texts)

	tx, err := im.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res := &batchResult{}
	for i, b := range bookmarks {
		if err := tx.UpsertBookmark(ctx, b); err != nil {
			return nil, err
		}
		if err := tx.AttachTags(ctx, userID, b.ID, batch[i].Tags, types.ProvenanceUser); err != nil {
			return nil, err
		}
		if err := tx.AttachTags(ctx, userID, b.ID, batch[i].AITags, types.ProvenanceAI); err != nil {
			return nil, err
		}
		if vectors == nil || vectors[i] == nil {
			continue
		}
		if err := tx.UpsertEmbedding(ctx, &storage.Embedding{
			BookmarkID: b.ID,
			Vector:     vectors[i].Vector,
			Provider:   vectors[i].Provider,
			Model:      vectors[i].Model,
		}); err != nil {
			return nil, err
		}
		res.embedded++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	res.version, res.bumpErr = im.bump(ctx, userID)
	return res, nil
}

// embed generates one embedding per text. Any failure returns nil and the
// batch is stored as pending.
func (im *Importer) embed(ctx context.Context, texts []string) []*embedder.Embedding {
	if im.embedder == nil || len(texts) == 0 {
		return nil
	}
	resp, err := im.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
	if err != nil || resp == nil || len(resp.Embeddings) != len(texts) {
		if err == nil {
			err = errors.New("embedding count mismatch")
		}
		im.metrics.EmbeddingRequest(im.embedder.Provider(), "error")
		im.logger.Warn("embedding batch failed, storing bookmarks as pending",
			zap.String("provider", im.embedder.Provider()),
			zap.Int("texts", len(texts)),
			zap.Error(err))
		return nil
	}
	im.metrics.EmbeddingRequest(im.embedder.Provider(), "ok")
	return resp.Embeddings
}

// bump advances the user's corpus version after a commit
func (im *Importer) bump(ctx context.Context, userID int64) (uint64, error) {
	if im.versions == nil {
		return 0, nil
	}
	v, err := im.versions.Bump(ctx, userID)
	if err != nil {
		im.logger.Error("corpus version bump failed after commit",
			zap.Int64("user_id", userID),
			zap.Error(err))
		return 0, fmt.Errorf("committed, but version bump failed: %w", err)
	}
	im.metrics.CorpusBump()
	return v, nil
}

// Tag attaches user tags to a bookmark
func (im *Importer) Tag(ctx context.Context, userID, bookmarkID int64, tags []string) error {
	if err := checkIDs(userID, bookmarkID); err != nil {
		return err
	}
	if len(types.NormalizeTags(tags)) == 0 {
		return ErrNoTags
	}

	err := im.inTx(ctx, func(tx storage.Tx) error {
		return tx.AttachTags(ctx, userID, bookmarkID, tags, types.ProvenanceUser)
	})
	if err != nil {
		return err
	}
	_, err = im.bump(ctx, userID)
	return err
}

// Untag removes tags from a bookmark and reports how many were removed
func (im *Importer) Untag(ctx context.Context, userID, bookmarkID int64, tags []string) (int, error) {
	if err := checkIDs(userID, bookmarkID); err != nil {
		return 0, err
	}
	if len(types.NormalizeTags(tags)) == 0 {
		return 0, ErrNoTags
	}

	var removed int
	err := im.inTx(ctx, func(tx storage.Tx) error {
		var err error
		removed, err = tx.DetachTags(ctx, userID, bookmarkID, tags)
		return err
	})
	if err != nil {
		return 0, err
	}
	if removed == 0 {
		// Nothing changed, cached results are still valid
		return 0, nil
	}
	_, err = im.bump(ctx, userID)
	return removed, err
}

// Delete removes a bookmark with its tags and embedding
func (im *Importer) Delete(ctx context.Context, userID, bookmarkID int64) error {
	if err := checkIDs(userID, bookmarkID); err != nil {
		return err
	}
	err := im.inTx(ctx, func(tx storage.Tx) error {
		return tx.DeleteBookmark(ctx, userID, bookmarkID)
	})
	if err != nil {
		return err
	}
	_, err = im.bump(ctx, userID)
	return err
}

// Reembed generates embeddings for up to limit pending bookmarks and
// returns how many were stored.
func (im *Importer) Reembed(ctx context.Context, userID int64, limit int) (int, error) {
	if userID <= 0 {
		return 0, types.ErrInvalidUser
	}
	if im.embedder == nil {
		return 0, embedder.ErrNoProviderEnabled
	}
	if limit <= 0 {
		limit = DefaultReembedLimit
	}

	pending, err := im.store.ListPendingEmbeddings(ctx, userID, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending bookmarks: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	texts := make([]string, len(pending))
	for i, b := range pending {
		texts[i] = types.SearchText(b.Title, b.Domain, b.Summary)
	}
	vectors := im.embed(ctx, texts)
	if vectors == nil {
		return 0, embedder.ErrEmbeddingUnavailable
	}

	err = im.inTx(ctx, func(tx storage.Tx) error {
		for i, b := range pending {
			if err := tx.UpsertEmbedding(ctx, &storage.Embedding{
				BookmarkID: b.ID,
				Vector:     vectors[i].Vector,
				Provider:   vectors[i].Provider,
				Model:      vectors[i].Model,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	_, err = im.bump(ctx, userID)
	return len(pending), err
}

func (im *Importer) inTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := im.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func checkIDs(userID, bookmarkID int64) error {
	if userID <= 0 {
		return types.ErrInvalidUser
	}
	if bookmarkID <= 0 {
		return types.ErrInvalidBookmarkID
	}
	return nil
}
