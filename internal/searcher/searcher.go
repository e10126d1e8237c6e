package searcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/dshills/bookmarks-mcp/internal/cache"
	"github.com/dshills/bookmarks-mcp/internal/config"
	"github.com/dshills/bookmarks-mcp/internal/corpus"
	"github.com/dshills/bookmarks-mcp/internal/embedder"
	"github.com/dshills/bookmarks-mcp/internal/fusion"
	"github.com/dshills/bookmarks-mcp/internal/metrics"
	"github.com/dshills/bookmarks-mcp/internal/plan"
	"github.com/dshills/bookmarks-mcp/internal/retriever"
	"github.com/dshills/bookmarks-mcp/internal/storage"
	"github.com/dshills/bookmarks-mcp/pkg/types"
)

var tracer = otel.Tracer("github.com/dshills/bookmarks-mcp/internal/searcher")

// Options holds the retrieval policy
type Options struct {
	DefaultLimit     int
	MaxLimit         int
	FanoutLimit      int           // Candidates requested from each retriever
	RetrieverTimeout time.Duration // Per retriever call
	RequestTimeout   time.Duration // Whole request, zero for none
	Weights          fusion.Weights
	DomainBonus      float64
}

// DefaultOptions returns the default policy
func DefaultOptions() Options {
	return Options{
		DefaultLimit:     20,
		MaxLimit:         100,
		FanoutLimit:      200,
		RetrieverTimeout: 300 * time.Millisecond,
		RequestTimeout:   2 * time.Second,
		Weights:          fusion.DefaultWeights(),
		DomainBonus:      0.5,
	}
}

// OptionsFromConfig converts the search configuration section
func OptionsFromConfig(cfg config.SearchConfig) Options {
	return Options{
		DefaultLimit:     cfg.DefaultLimit,
		MaxLimit:         cfg.MaxLimit,
		FanoutLimit:      cfg.FanoutLimit,
		RetrieverTimeout: cfg.RetrieverTimeout,
		RequestTimeout:   cfg.RequestTimeout,
		Weights: fusion.Weights{
			Tag:     cfg.Weights.Tag,
			Lexical: cfg.Weights.Lexical,
			Vector:  cfg.Weights.Vector,
		},
		DomainBonus: cfg.DomainBonus,
	}
}

// RankingTag fingerprints the policy values that shape a ranking. It is
// part of every cache key, so a policy change never serves old rankings.
func (o Options) RankingTag() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("w=%g/%g/%g;bonus=%g;fanout=%d",
		o.Weights.Tag, o.Weights.Lexical, o.Weights.Vector, o.DomainBonus, o.FanoutLimit)))
	return hex.EncodeToString(sum[:6])
}

// Deps are the collaborators of a Searcher. Store is required; a nil
// Resolver makes every embedding unavailable, a nil Cache disables caching
// and a nil Versions treats every user as version zero.
type Deps struct {
	Store    storage.Reader
	Resolver *embedder.Resolver
	Cache    *cache.Cache
	Versions corpus.VersionSource

	// Retrievers replaces the default retriever for its source
	Retrievers []retriever.Retriever

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Response is the result of one search
type Response struct {
	Bookmarks  []types.BookmarkSummary `json:"bookmarks"`
	FromCache  bool                    `json:"from_cache"`
	NextCursor string                  `json:"next_cursor,omitempty"`
	Mode       plan.Mode               `json:"mode"`
	Total      int                     `json:"total"`              // Size of the full ranking
	Degraded   []string                `json:"degraded,omitempty"` // "source: reason" per dropped contribution
	Duration   time.Duration           `json:"duration_ns"`
}

// Searcher answers search requests: normalise, consult the cache, resolve
// the query embedding, fan out to the retrievers, fuse, cache and page.
type Searcher struct {
	store      storage.Reader
	resolver   *embedder.Resolver
	cache      *cache.Cache
	versions   corpus.VersionSource
	retrievers map[retriever.Source]retriever.Retriever
	opts       Options
	rankingTag string
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// New creates a Searcher
func New(deps Deps, opts Options) (*Searcher, error) {
	if deps.Store == nil {
		return nil, errors.New("searcher requires a store")
	}
	defaults := DefaultOptions()
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = defaults.DefaultLimit
	}
	if opts.MaxLimit < opts.DefaultLimit {
		opts.MaxLimit = opts.DefaultLimit
	}
	if opts.FanoutLimit < opts.MaxLimit {
		opts.FanoutLimit = opts.MaxLimit
	}
	if opts.RetrieverTimeout <= 0 {
		opts.RetrieverTimeout = defaults.RetrieverTimeout
	}
	if err := opts.Weights.Validate(); err != nil {
		return nil, err
	}
	if opts.DomainBonus < 0 {
		opts.DomainBonus = 0
	}

	if deps.Cache == nil {
		deps.Cache = cache.New(nil, 0, deps.Logger, deps.Metrics)
	}
	if deps.Versions == nil {
		deps.Versions = corpus.NewCounter()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	s := &Searcher{
		store:    deps.Store,
		resolver: deps.Resolver,
		cache:    deps.Cache,
		versions: deps.Versions,
		retrievers: map[retriever.Source]retriever.Retriever{
			retriever.SourceTag:     retriever.NewTagRetriever(deps.Store),
			retriever.SourceLexical: retriever.NewLexicalRetriever(deps.Store, opts.DomainBonus),
			retriever.SourceVector:  retriever.NewVectorRetriever(deps.Store),
		},
		opts:       opts,
		rankingTag: opts.RankingTag(),
		logger:     deps.Logger,
		metrics:    deps.Metrics,
	}
	for _, r := range deps.Retrievers {
		s.retrievers[r.Source()] = r
	}
	return s, nil
}

// Options returns the effective policy
func (s *Searcher) Options() Options { return s.opts }

// CacheStats returns the result cache counters
func (s *Searcher) CacheStats() cache.Stats { return s.cache.Stats() }

// Search runs one request. The only retrieval error returned is
// types.ErrEmptyQuery; other failures degrade the result instead. A done
// caller context aborts with the context error, and a hydration failure
// returns the storage error.
func (s *Searcher) Search(ctx context.Context, req plan.Request) (*Response, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "searcher.Search")
	defer span.End()

	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	p, err := plan.Normalize(req, plan.Options{DefaultLimit: s.opts.DefaultLimit, MaxLimit: s.opts.MaxLimit})
	if err != nil {
		s.metrics.ObserveSearch("none", "rejected", false, time.Since(start))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	key := p.Key() + ":" + s.rankingTag
	span.SetAttributes(
		attribute.String("search.mode", string(p.Mode())),
		attribute.String("search.plan_hash", p.Key()),
		attribute.Int64("search.user_id", p.UserID()),
	)
	if p.CursorIgnored() {
		s.logger.Debug("malformed cursor, serving first page", zap.Int64("user_id", p.UserID()))
	}

	// The version is read once and used for both lookup and store
	version, versionErr := s.versions.CurrentVersion(ctx, p.UserID())
	if versionErr != nil {
		s.logger.Warn("corpus version unavailable, bypassing cache",
			zap.Int64("user_id", p.UserID()),
			zap.String("plan_hash", p.Key()),
			zap.Error(versionErr))
		s.metrics.CacheLookup("bypass")
	}

	resp := &Response{Mode: p.Mode()}

	var ranked []fusion.Ranked
	if versionErr == nil {
		if e, ok := s.cache.Get(ctx, key, version); ok {
			ranked = rankedFromEntry(e)
			resp.FromCache = true
		}
	}

	if !resp.FromCache {
		r, err := s.rank(ctx, p)
		if err != nil {
			s.metrics.ObserveSearch(string(p.Mode()), "error", false, time.Since(start))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		ranked = r.ranked
		resp.Mode = r.mode
		resp.Degraded = r.degraded

		if versionErr == nil && len(r.degraded) == 0 {
			ids, scores := entryFromRanked(ranked)
			s.cache.Put(ctx, key, version, ids, scores)
		}
	}

	resp.Total = len(ranked)
	page, next, more := fusion.Page(ranked, p.Offset(), p.Limit())
	if more {
		resp.NextCursor = plan.EncodeCursor(next)
	}

	resp.Bookmarks, err = s.hydrate(ctx, p.UserID(), page, p.Offset())
	if err != nil {
		s.metrics.ObserveSearch(string(p.Mode()), "error", resp.FromCache, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp.Duration = time.Since(start)
	outcome := "ok"
	if len(resp.Degraded) > 0 {
		outcome = "degraded"
	}
	s.metrics.ObserveSearch(string(p.Mode()), outcome, resp.FromCache, resp.Duration)
	span.SetAttributes(
		attribute.Bool("search.from_cache", resp.FromCache),
		attribute.Int("search.results", len(resp.Bookmarks)),
	)
	s.logger.Debug("search complete",
		zap.Int64("user_id", p.UserID()),
		zap.String("plan_hash", p.Key()),
		zap.String("mode", string(resp.Mode)),
		zap.Bool("from_cache", resp.FromCache),
		zap.Int("results", len(resp.Bookmarks)),
		zap.Int("total", resp.Total),
		zap.Duration("duration", resp.Duration))

	return resp, nil
}

func rankedFromEntry(e *cache.Entry) []fusion.Ranked {
	ranked := make([]fusion.Ranked, len(e.IDs))
	for i, id := range e.IDs {
		ranked[i] = fusion.Ranked{BookmarkID: id, Score: e.Scores[i]}
	}
	return ranked
}

func entryFromRanked(ranked []fusion.Ranked) ([]int64, []float64) {
	ids := make([]int64, len(ranked))
	scores := make([]float64, len(ranked))
	for i, r := range ranked {
		ids[i] = r.BookmarkID
		scores[i] = r.Score
	}
	return ids, scores
}

// hydrate loads the page's bookmarks in rank order, skipping ids that no
// longer exist.
func (s *Searcher) hydrate(ctx context.Context, userID int64, page []fusion.Ranked, offset int) ([]types.BookmarkSummary, error) {
	if len(page) == 0 {
		return []types.BookmarkSummary{}, nil
	}

	ids := make([]int64, len(page))
	for i, r := range page {
		ids[i] = r.BookmarkID
	}
	bookmarks, err := s.store.GetBookmarks(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load bookmarks: %w", err)
	}

	byID := make(map[int64]*storage.Bookmark, len(bookmarks))
	for _, b := range bookmarks {
		byID[b.ID] = b
	}

	out := make([]types.BookmarkSummary, 0, len(page))
	for i, r := range page {
		b, ok := byID[r.BookmarkID]
		if !ok {
			continue
		}
		summary := b.ToSummary()
		if summary.Tags == nil {
			summary.Tags = []string{}
		}
		summary.Rank = offset + i + 1
		summary.Score = r.Score
		out = append(out, summary)
	}
	return out, nil
}
