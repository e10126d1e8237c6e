package cache

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultMaxEntries = 10000
	DefaultShards     = 16
)

type memoryItem struct {
	entry     *Entry
	expiresAt time.Time
}

// MemoryBackend is an in-process LRU split into shards by key hash, so
// operations on different keys rarely share a lock.
type MemoryBackend struct {
	shards []*lru.Cache[string, memoryItem]
	now    func() time.Time
}

// NewMemoryBackend creates a backend holding about maxEntries entries
func NewMemoryBackend(maxEntries, shards int) (*MemoryBackend, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if shards <= 0 {
		shards = DefaultShards
	}
	if shards > maxEntries {
		shards = maxEntries
	}

	perShard := (maxEntries + shards - 1) / shards
	b := &MemoryBackend{
		shards: make([]*lru.Cache[string, memoryItem], shards),
		now:    time.Now,
	}
	for i := range b.shards {
		shard, err := lru.New[string, memoryItem](perShard)
		if err != nil {
			return nil, fmt.Errorf("failed to create LRU shard: %w", err)
		}
		b.shards[i] = shard
	}
	return b, nil
}

func (b *MemoryBackend) shard(key string) *lru.Cache[string, memoryItem] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return b.shards[h.Sum32()%uint32(len(b.shards))]
}

// Get returns a copy of the stored entry
func (b *MemoryBackend) Get(_ context.Context, key string) (*Entry, error) {
	shard := b.shard(key)
	item, ok := shard.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	if !item.expiresAt.IsZero() && !b.now().Before(item.expiresAt) {
		shard.Remove(key)
		return nil, ErrMiss
	}
	return cloneEntry(item.entry), nil
}

// Set stores a copy of e
func (b *MemoryBackend) Set(_ context.Context, key string, e *Entry, ttl time.Duration) error {
	item := memoryItem{entry: cloneEntry(e)}
	if ttl > 0 {
		item.expiresAt = b.now().Add(ttl)
	}
	b.shard(key).Add(key, item)
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.shard(key).Remove(key)
	return nil
}

func (b *MemoryBackend) Name() string { return "memory" }

// Len returns the number of stored entries across shards
func (b *MemoryBackend) Len() int {
	n := 0
	for _, shard := range b.shards {
		n += shard.Len()
	}
	return n
}

// Purge drops every entry
func (b *MemoryBackend) Purge() {
	for _, shard := range b.shards {
		shard.Purge()
	}
}

// cloneEntry deep copies an entry so callers cannot modify stored rankings
func cloneEntry(e *Entry) *Entry {
	if e == nil {
		return nil
	}
	return &Entry{
		Version:   e.Version,
		IDs:       append([]int64(nil), e.IDs...),
		Scores:    append([]float64(nil), e.Scores...),
		CreatedAt: e.CreatedAt,
	}
}
