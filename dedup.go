package restq

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"sync"
	"time"
)

// flightGraceWindow keeps a completed flight around briefly so
// near-simultaneous latecomers still coalesce.
const flightGraceWindow = 100 * time.Millisecond

// FlightEntry represents an in-flight request shared between callers. On
// completion the response body is drained into a buffer once; the owner and
// every waiter read their own replay of that buffer, never a shared stream.
type FlightEntry struct {
	mu       sync.Mutex
	response *http.Response
	body     []byte
	err      error
	done     chan struct{}
}

// FlightTracker coalesces identical in-flight requests at the transport
// level, below the query engine: concurrent GETs for the same key collapse
// into a single network call.
type FlightTracker struct {
	mu      sync.RWMutex
	entries map[string]*FlightEntry
}

// NewFlightTracker returns an in-memory tracker.
func NewFlightTracker() *FlightTracker {
	return &FlightTracker{entries: make(map[string]*FlightEntry)}
}

// GetOrCreateEntry returns an existing entry (owner=false) or creates a new
// one (owner=true). The owner performs the request and must call Complete.
func (ft *FlightTracker) GetOrCreateEntry(key string) (*FlightEntry, bool) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	if entry, exists := ft.entries[key]; exists {
		return entry, false
	}

	entry := &FlightEntry{done: make(chan struct{})}
	ft.entries[key] = entry
	return entry, true
}

// Complete finalizes an entry and releases waiters. The response body is
// read into the entry's buffer and resp is rewound onto it, so the owner
// keeps a readable body after waiters have been served. The entry lingers
// for a short grace window so near-simultaneous latecomers still coalesce.
func (ft *FlightTracker) Complete(key string, resp *http.Response, err error) {
	ft.mu.Lock()
	entry, exists := ft.entries[key]
	ft.mu.Unlock()

	if !exists {
		return
	}

	var body []byte
	if resp != nil && resp.Body != nil {
		body, _ = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(body))
	}

	entry.mu.Lock()
	entry.response = resp
	entry.body = body
	entry.err = err
	close(entry.done)
	entry.mu.Unlock()

	time.AfterFunc(flightGraceWindow, func() {
		ft.mu.Lock()
		delete(ft.entries, key)
		ft.mu.Unlock()
	})
}

// Wait blocks until the owning request completes or ctx cancels. Each
// caller receives its own copy of the response with a fresh body reader
// over the buffered bytes.
func (entry *FlightEntry) Wait(ctx context.Context) (*http.Response, error) {
	select {
	case <-entry.done:
		entry.mu.Lock()
		resp := entry.response
		body := entry.body
		err := entry.err
		entry.mu.Unlock()

		if resp == nil {
			return nil, err
		}
		clone := *resp
		clone.Body = io.NopCloser(bytes.NewReader(body))
		return &clone, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FlightKeyFunc builds a key identifying identical in-flight requests.
type FlightKeyFunc func(*http.Request) string

// DefaultFlightKeyFunc hashes method + URL, mixing in a body hash for
// mutating verbs so distinct payloads never coalesce.
func DefaultFlightKeyFunc(req *http.Request) string {
	h := fnv.New64a()
	h.Write([]byte(req.Method))
	h.Write([]byte(req.URL.String()))

	if req.Body != nil && (req.Method == http.MethodPost || req.Method == http.MethodPut || req.Method == http.MethodPatch) {
		bodyHash := sha256.New()
		if req.GetBody != nil {
			if body, err := req.GetBody(); err == nil {
				_, _ = io.Copy(bodyHash, body)
			}
		}
		h.Write(bodyHash.Sum(nil))
	}

	return fmt.Sprintf("%x", h.Sum64())
}

// FlightCondition decides whether a request is eligible for coalescing.
type FlightCondition func(req *http.Request) bool

// DefaultFlightCondition coalesces safe idempotent methods only.
func DefaultFlightCondition(req *http.Request) bool {
	return req.Method == http.MethodGet || req.Method == http.MethodHead || req.Method == http.MethodOptions
}
