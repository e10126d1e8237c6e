package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dshills/bookmarks-mcp/internal/cache"
	"github.com/dshills/bookmarks-mcp/internal/config"
	"github.com/dshills/bookmarks-mcp/internal/corpus"
	"github.com/dshills/bookmarks-mcp/internal/embedder"
	"github.com/dshills/bookmarks-mcp/internal/ingest"
	"github.com/dshills/bookmarks-mcp/internal/metrics"
	"github.com/dshills/bookmarks-mcp/internal/searcher"
	"github.com/dshills/bookmarks-mcp/internal/storage"
)

// app holds the wired service shared by every command
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	store    storage.Storage
	redis    *redis.Client
	versions corpus.Versions
	searcher *searcher.Searcher
	importer *ingest.Importer
}

// newApp opens storage and builds the search and ingest pipelines.
// The caller must Close the returned app.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
	}

	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.store = store

	if usesRedis(cfg) {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
	}

	if cfg.Versions.Backend == config.BackendRedis {
		a.versions = corpus.NewRedisCounter(a.redis, cfg.Redis.KeyPrefix)
	} else {
		a.versions = corpus.NewCounter()
	}

	resultCache, err := a.buildCache()
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	emb := a.buildEmbedder(ctx)

	a.searcher, err = searcher.New(searcher.Deps{
		Store:    store,
		Resolver: embedder.NewResolver(emb, cfg.Embedding.Timeout, logger, a.metrics),
		Cache:    resultCache,
		Versions: a.versions,
		Logger:   logger,
		Metrics:  a.metrics,
	}, searcher.OptionsFromConfig(cfg.Search))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create searcher: %w", err)
	}

	a.importer = ingest.New(store, emb, a.versions, logger, a.metrics)

	logger.Info("service ready",
		zap.String("storage", store.Backend()),
		zap.String("cache", cfg.Cache.Backend),
		zap.String("versions", cfg.Versions.Backend),
		zap.Bool("embeddings", emb != nil),
	)
	return a, nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		s, err := storage.NewPostgresStorage(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres storage: %w", err)
		}
		return s, nil
	case config.DriverSQLite, "":
		s, err := storage.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func usesRedis(cfg *config.Config) bool {
	return cfg.Cache.Backend == config.BackendRedis || cfg.Versions.Backend == config.BackendRedis
}

func (a *app) buildCache() (*cache.Cache, error) {
	var backend cache.Backend
	switch a.cfg.Cache.Backend {
	case config.BackendRedis:
		backend = cache.NewRedisBackend(a.redis, a.cfg.Redis.KeyPrefix)
	case config.BackendMemory:
		mem, err := cache.NewMemoryBackend(a.cfg.Cache.MaxEntries, a.cfg.Cache.Shards)
		if err != nil {
			return nil, fmt.Errorf("failed to create cache: %w", err)
		}
		backend = mem
	case config.BackendNone, "":
		// Caching disabled
	default:
		return nil, fmt.Errorf("unknown cache backend %q", a.cfg.Cache.Backend)
	}
	return cache.New(backend, a.cfg.Cache.TTL, a.logger, a.metrics), nil
}

// buildEmbedder returns nil when the provider cannot be created. Searches
// then run without the vector source and imports stay pending.
func (a *app) buildEmbedder(ctx context.Context) embedder.Embedder {
	ec := a.cfg.Embedding
	emb, err := embedder.New(ctx, embedder.Config{
		Provider:  ec.Provider,
		Model:     ec.Model,
		APIKey:    ec.APIKey,
		BaseURL:   ec.BaseURL,
		Dimension: ec.Dimension,
		CacheSize: ec.CacheSize,
	})
	if err != nil {
		a.logger.Warn("embedding provider unavailable, semantic search disabled",
			zap.String("provider", ec.Provider), zap.Error(err))
		return nil
	}
	return emb
}

// Close releases storage and the redis client
func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
