package restq

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/restq-go/restq/internal/singleflight"
)

// FetchFunc performs the network fetch for a key and returns the envelope
// data bytes.
type FetchFunc func(ctx context.Context) ([]byte, error)

// QueryEventKind classifies cache change notifications.
type QueryEventKind int

const (
	// EventSet fires when a key's data is written (fetch or optimistic set).
	EventSet QueryEventKind = iota
	// EventInvalidate fires when a key is invalidated.
	EventInvalidate
)

// QueryEvent is delivered to subscribers of a key.
type QueryEvent struct {
	Key     string
	Kind    QueryEventKind
	Version uint64
}

// Queries is the query engine: a keyed cache with stale-time bookkeeping,
// in-flight coalescing, invalidation/refetch and subscriptions. All methods
// are safe for concurrent use; manual Set calls are last-write-wins.
type Queries struct {
	cache           QueryCache
	staleTime       time.Duration
	mutationRetries int
	flight          *singleflight.Group
	metrics         *MetricsCollector
	logger          Logger

	version uint64

	mu       sync.RWMutex
	fetchers map[string]FetchFunc
	subs     map[string]map[chan QueryEvent]struct{}
}

// QueryOption configures a Queries engine.
type QueryOption func(*Queries)

// WithQueryCache sets the cache backend (default: in-memory sharded).
func WithQueryCache(c QueryCache) QueryOption {
	return func(q *Queries) {
		q.cache = c
	}
}

// WithStaleTime sets the default freshness window for fetched entries.
func WithStaleTime(d time.Duration) QueryOption {
	return func(q *Queries) {
		q.staleTime = d
	}
}

// WithMutationRetries sets how many times a failed mutation is retried by
// the resource layer. Clamped to 0 or 1; mutations never loop beyond that.
func WithMutationRetries(n int) QueryOption {
	return func(q *Queries) {
		if n < 0 {
			n = 0
		}
		if n > 1 {
			n = 1
		}
		q.mutationRetries = n
	}
}

// WithQueryMetrics sets the metrics collector used for cache accounting.
func WithQueryMetrics(mc *MetricsCollector) QueryOption {
	return func(q *Queries) {
		q.metrics = mc
	}
}

// WithQueryLogger sets the logger for engine diagnostics.
func WithQueryLogger(l Logger) QueryOption {
	return func(q *Queries) {
		q.logger = l
	}
}

// NewQueries constructs a query engine with a 5 minute default stale time.
func NewQueries(opts ...QueryOption) *Queries {
	q := &Queries{
		cache:     NewInMemoryQueryCache(),
		staleTime: 5 * time.Minute,
		flight:    singleflight.New(),
		fetchers:  make(map[string]FetchFunc),
		subs:      make(map[string]map[chan QueryEvent]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Key builds a cache key from a URL and its params. Identical (url, params)
// pairs always yield identical keys.
func (q *Queries) Key(url string, p Params) string {
	return withQuery(url, p.Encode())
}

// MutationRetries returns the configured mutation retry count (0 or 1).
func (q *Queries) MutationRetries() int {
	return q.mutationRetries
}

type fetchConfig struct {
	staleTime time.Duration
	force     bool
	enabled   bool
}

// FetchOption overrides per-call fetch behavior.
type FetchOption func(*fetchConfig)

// Enabled gates whether a fetch may initiate. Disabled fetches return
// ErrFetchDisabled without touching cache or network; an already in-flight
// fetch for the key is unaffected.
func Enabled(on bool) FetchOption {
	return func(c *fetchConfig) {
		c.enabled = on
	}
}

// ForceRefetch bypasses the freshness check and always hits the network.
func ForceRefetch() FetchOption {
	return func(c *fetchConfig) {
		c.force = true
	}
}

// FetchStaleTime overrides the engine stale time for this call's result.
func FetchStaleTime(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.staleTime = d
	}
}

// Fetch resolves key: a fresh cached entry is returned without a network
// call; otherwise fn runs, coalesced so concurrent callers with the same
// key share one in-flight execution. fn is remembered per key so Refetch
// can replay it later.
func (q *Queries) Fetch(ctx context.Context, key string, fn FetchFunc, opts ...FetchOption) ([]byte, error) {
	cfg := fetchConfig{staleTime: q.staleTime, enabled: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	if !cfg.enabled {
		return nil, ErrFetchDisabled
	}

	q.register(key, fn)

	if !cfg.force {
		if entry, ok := q.cache.Get(ctx, key); ok && entry.Fresh(time.Now()) {
			q.metrics.RecordQueryCacheHit(key)
			return entry.Data, nil
		}
	}
	q.metrics.RecordQueryCacheMiss(key)

	data, shared, err := q.flight.Do(ctx, key, func() ([]byte, error) {
		data, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		q.store(ctx, key, data, cfg.staleTime)
		return data, nil
	})
	if shared {
		q.metrics.RecordCoalescedFetch(key)
	}
	return data, err
}

// Set performs the documented optimistic write for key: the data becomes
// the current cached value immediately, before any server confirmation.
// Last write wins.
func (q *Queries) Set(ctx context.Context, key string, data []byte) {
	q.store(ctx, key, data, q.staleTime)
}

// Snapshot returns a copy of the current cached data for key, or ok=false
// when nothing is cached. The copy is safe to hold across a mutation for
// rollback.
func (q *Queries) Snapshot(ctx context.Context, key string) ([]byte, bool) {
	entry, ok := q.cache.Get(ctx, key)
	if !ok || entry == nil {
		return nil, false
	}
	cp := make([]byte, len(entry.Data))
	copy(cp, entry.Data)
	return cp, true
}

// Invalidate removes keys from the cache and notifies subscribers.
func (q *Queries) Invalidate(ctx context.Context, keys ...string) {
	for _, key := range keys {
		q.cache.Delete(ctx, key)
		q.notify(QueryEvent{Key: key, Kind: EventInvalidate})
		if q.logger != nil {
			q.logger.Debug("Query invalidated", "key", key)
		}
	}
	q.recordSize()
}

// Refetch re-executes the registered fetch for each key, concurrently.
// Keys never fetched through this engine are skipped (there is nothing to
// replay). The first fetch error is returned after all keys settle.
func (q *Queries) Refetch(ctx context.Context, keys ...string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		q.mu.RLock()
		fn, ok := q.fetchers[key]
		q.mu.RUnlock()
		if !ok {
			continue
		}
		key := key
		g.Go(func() error {
			_, err := q.Fetch(gctx, key, fn, ForceRefetch())
			return err
		})
	}
	return g.Wait()
}

// InvalidateAndRefetch is the mutation-success path: drop the keys, then
// refetch the ones this engine knows how to fetch.
func (q *Queries) InvalidateAndRefetch(ctx context.Context, keys ...string) error {
	q.Invalidate(ctx, keys...)
	return q.Refetch(ctx, keys...)
}

// Subscribe returns a channel receiving change events for key and a cancel
// function. Delivery is non-blocking: a slow subscriber misses events
// rather than stalling writers. Cancel closes the channel, so a subscriber
// ranging over it terminates; calling cancel more than once is safe.
func (q *Queries) Subscribe(key string) (<-chan QueryEvent, func()) {
	ch := make(chan QueryEvent, 8)

	q.mu.Lock()
	if q.subs[key] == nil {
		q.subs[key] = make(map[chan QueryEvent]struct{})
	}
	q.subs[key][ch] = struct{}{}
	q.mu.Unlock()

	cancel := func() {
		q.mu.Lock()
		if _, ok := q.subs[key][ch]; ok {
			delete(q.subs[key], ch)
			close(ch)
		}
		q.mu.Unlock()
	}
	return ch, cancel
}

func (q *Queries) register(key string, fn FetchFunc) {
	q.mu.Lock()
	q.fetchers[key] = fn
	q.mu.Unlock()
}

func (q *Queries) store(ctx context.Context, key string, data []byte, staleTime time.Duration) {
	now := time.Now()
	entry := &QueryEntry{
		Data:      data,
		FetchedAt: now,
		StaleAt:   now.Add(staleTime),
		Version:   atomic.AddUint64(&q.version, 1),
	}
	q.cache.Set(ctx, key, entry)
	q.notify(QueryEvent{Key: key, Kind: EventSet, Version: entry.Version})
	q.recordSize()
}

func (q *Queries) notify(ev QueryEvent) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for ch := range q.subs[ev.Key] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (q *Queries) recordSize() {
	if mem, ok := q.cache.(*InMemoryQueryCache); ok {
		q.metrics.RecordQueryCacheSize("default", mem.Len())
	}
}
