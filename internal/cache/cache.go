// Package cache stores fused search rankings keyed by question. An entry
// is only served while the user's corpus version still equals the version
// it was computed against and it is younger than the TTL. Backend failures
// never reach the caller; they are reported as misses.
package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/bookmarks-mcp/internal/metrics"
)

// DefaultTTL is used when a Cache is created with a non-positive TTL
const DefaultTTL = 30 * time.Second

// ErrMiss is returned by a Backend when it has no entry for a key
var ErrMiss = errors.New("cache miss")

// Entry is one cached ranking. Entries are replaced wholesale, never patched.
type Entry struct {
	Version   uint64    `json:"version"`
	IDs       []int64   `json:"ids"`
	Scores    []float64 `json:"scores"`
	CreatedAt time.Time `json:"created_at"`
}

// Backend stores entries. Implementations must be safe for concurrent use.
type Backend interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, e *Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Name() string
}

// Stats counts lookups since the cache was created
type Stats struct {
	Backend string `json:"backend"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Errors  uint64 `json:"errors"`
}

// Cache is the version-checked result cache
type Cache struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics

	hits   atomic.Uint64
	misses atomic.Uint64
	errors atomic.Uint64
}

// New creates a cache over backend. A nil backend disables caching: every
// Get misses and Put does nothing.
func New(backend Backend, ttl time.Duration, logger *zap.Logger, m *metrics.Metrics) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		backend: backend,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
		metrics: m,
	}
}

// Enabled reports whether a backend is configured
func (c *Cache) Enabled() bool {
	return c != nil && c.backend != nil
}

// TTL returns the maximum age of a served entry
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the entry for key if it was computed against version and is
// still fresh. Stale and expired entries are evicted.
func (c *Cache) Get(ctx context.Context, key string, version uint64) (*Entry, bool) {
	if !c.Enabled() {
		return nil, false
	}

	e, err := c.backend.Get(ctx, key)
	switch {
	case errors.Is(err, ErrMiss):
		return c.miss("miss")
	case err != nil:
		c.errors.Add(1)
		c.logger.Warn("cache lookup failed, treating as miss",
			zap.String("backend", c.backend.Name()),
			zap.String("key", key),
			zap.Error(err))
		return c.miss("error")
	case e == nil || len(e.IDs) != len(e.Scores):
		c.errors.Add(1)
		c.logger.Warn("corrupt cache entry, treating as miss",
			zap.String("backend", c.backend.Name()),
			zap.String("key", key))
		return c.miss("error")
	case e.Version != version:
		// An entry newer than the caller's version may still serve others
		if e.Version < version {
			c.evict(ctx, key)
		}
		return c.miss("stale")
	case c.now().Sub(e.CreatedAt) >= c.ttl:
		c.evict(ctx, key)
		return c.miss("expired")
	}

	c.hits.Add(1)
	c.metrics.CacheLookup("hit")
	return e, true
}

// evict removes an entry that can no longer be served. Failure leaves it
// for the backend's own expiry.
func (c *Cache) evict(ctx context.Context, key string) {
	if err := c.backend.Delete(ctx, key); err != nil {
		c.logger.Debug("cache eviction failed",
			zap.String("backend", c.backend.Name()),
			zap.String("key", key),
			zap.Error(err))
	}
}

func (c *Cache) miss(result string) (*Entry, bool) {
	c.misses.Add(1)
	c.metrics.CacheLookup(result)
	return nil, false
}

// Put stores a ranking computed against version, overwriting any entry
func (c *Cache) Put(ctx context.Context, key string, version uint64, ids []int64, scores []float64) {
	if !c.Enabled() {
		return
	}

	e := &Entry{
		Version:   version,
		IDs:       append([]int64(nil), ids...),
		Scores:    append([]float64(nil), scores...),
		CreatedAt: c.now(),
	}
	if err := c.backend.Set(ctx, key, e, c.ttl); err != nil {
		c.errors.Add(1)
		c.logger.Warn("cache store failed",
			zap.String("backend", c.backend.Name()),
			zap.String("key", key),
			zap.Error(err))
	}
}

// Stats returns a snapshot of the lookup counters
func (c *Cache) Stats() Stats {
	s := Stats{Backend: "none"}
	if c == nil {
		return s
	}
	if c.backend != nil {
		s.Backend = c.backend.Name()
	}
	s.Hits = c.hits.Load()
	s.Misses = c.misses.Load()
	s.Errors = c.errors.Load()
	return s
}
