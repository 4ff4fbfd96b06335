package restq

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// QueryEntry is the unit stored in a QueryCache: the last-known envelope
// data for a key plus its freshness bookkeeping. Version increments on
// every write so observers can detect concurrent replacement.
type QueryEntry struct {
	Data      []byte    `json:"data"`
	FetchedAt time.Time `json:"fetchedAt"`
	StaleAt   time.Time `json:"staleAt"`
	Version   uint64    `json:"version"`
}

// Fresh reports whether the entry is still inside its freshness window.
func (e *QueryEntry) Fresh(now time.Time) bool {
	return now.Before(e.StaleAt)
}

// QueryCache is the keyed store behind the Queries engine. Entries outlive
// their stale time (a stale entry can still be refetched in the background
// or snapshotted for rollback); implementations may evict on their own
// retention policy.
type QueryCache interface {
	Get(ctx context.Context, key string) (*QueryEntry, bool)
	Set(ctx context.Context, key string, entry *QueryEntry)
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context)
}

// InMemoryQueryCache is the default sharded in-process backend.
type InMemoryQueryCache struct {
	shards    []*queryShard
	numShards int
}

type queryShard struct {
	mu    sync.RWMutex
	store map[string]*QueryEntry
}

// NewInMemoryQueryCache returns a 16-shard in-memory cache.
func NewInMemoryQueryCache() *InMemoryQueryCache {
	numShards := 16
	shards := make([]*queryShard, numShards)
	for i := range shards {
		shards[i] = &queryShard{store: make(map[string]*QueryEntry)}
	}
	return &InMemoryQueryCache{shards: shards, numShards: numShards}
}

func (c *InMemoryQueryCache) getShard(key string) *queryShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(c.numShards)]
}

// Get implements QueryCache.
func (c *InMemoryQueryCache) Get(_ context.Context, key string) (*QueryEntry, bool) {
	shard := c.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	entry, exists := shard.store[key]
	return entry, exists
}

// Set implements QueryCache.
func (c *InMemoryQueryCache) Set(_ context.Context, key string, entry *QueryEntry) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.store[key] = entry
}

// Delete implements QueryCache.
func (c *InMemoryQueryCache) Delete(_ context.Context, key string) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.store, key)
}

// Clear implements QueryCache.
func (c *InMemoryQueryCache) Clear(context.Context) {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.store = make(map[string]*QueryEntry)
		shard.mu.Unlock()
	}
}

// Len returns the total number of stored entries.
func (c *InMemoryQueryCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.store)
		shard.mu.RUnlock()
	}
	return total
}

// GoCacheStore adapts patrickmn/go-cache as a QueryCache backend with
// retention-based eviction and a background janitor.
type GoCacheStore struct {
	c *gocache.Cache
}

// NewGoCacheStore returns a store evicting entries retention after their
// last write. Retention should comfortably exceed the stale time so stale
// entries remain available for rollback snapshots.
func NewGoCacheStore(retention, cleanupInterval time.Duration) *GoCacheStore {
	return &GoCacheStore{c: gocache.New(retention, cleanupInterval)}
}

// Get implements QueryCache.
func (s *GoCacheStore) Get(_ context.Context, key string) (*QueryEntry, bool) {
	v, found := s.c.Get(key)
	if !found {
		return nil, false
	}
	entry, ok := v.(*QueryEntry)
	return entry, ok
}

// Set implements QueryCache.
func (s *GoCacheStore) Set(_ context.Context, key string, entry *QueryEntry) {
	s.c.SetDefault(key, entry)
}

// Delete implements QueryCache.
func (s *GoCacheStore) Delete(_ context.Context, key string) {
	s.c.Delete(key)
}

// Clear implements QueryCache.
func (s *GoCacheStore) Clear(context.Context) {
	s.c.Flush()
}

// RedisQueryCache stores entries in Redis so replicas share one query
// cache. Entries are JSON-encoded under prefix+key.
type RedisQueryCache struct {
	rdb       *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisQueryCache returns a Redis-backed cache. An empty prefix defaults
// to "restq:query:"; a zero retention keeps entries until invalidated.
func NewRedisQueryCache(rdb *redis.Client, prefix string, retention time.Duration) *RedisQueryCache {
	if prefix == "" {
		prefix = "restq:query:"
	}
	return &RedisQueryCache{rdb: rdb, prefix: prefix, retention: retention}
}

// Get implements QueryCache.
func (r *RedisQueryCache) Get(ctx context.Context, key string) (*QueryEntry, bool) {
	raw, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) || err != nil {
		return nil, false
	}
	var entry QueryEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false
	}
	return &entry, true
}

// Set implements QueryCache.
func (r *RedisQueryCache) Set(ctx context.Context, key string, entry *QueryEntry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	r.rdb.Set(ctx, r.prefix+key, raw, r.retention)
}

// Delete implements QueryCache.
func (r *RedisQueryCache) Delete(ctx context.Context, key string) {
	r.rdb.Del(ctx, r.prefix+key)
}

// Clear implements QueryCache. Only keys under the configured prefix are
// removed.
func (r *RedisQueryCache) Clear(ctx context.Context) {
	iter := r.rdb.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		r.rdb.Del(ctx, iter.Val())
	}
}
