// Package singleflight coalesces concurrent fetches for the same key.
//
// Unlike golang.org/x/sync/singleflight, waiters here observe their own
// context: a cancelled waiter stops waiting without cancelling the owner,
// which keeps serving the remaining callers.
package singleflight

import (
	"context"
	"sync"
)

// Group manages in-flight calls keyed by string.
type Group struct {
	mu sync.Mutex
	m  map[string]*call
}

type call struct {
	done chan struct{}
	val  []byte
	err  error
}

// New returns an empty Group.
func New() *Group {
	return &Group{m: make(map[string]*call)}
}

// Do executes fn for key, making sure only one execution is in flight at a
// time. Duplicate callers wait for the owner and receive the same result;
// shared reports whether the result came from another caller's execution.
func (g *Group) Do(ctx context.Context, key string, fn func() ([]byte, error)) (val []byte, shared bool, err error) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()
		select {
		case <-c.done:
			return c.val, true, c.err
		case <-ctx.Done():
			return nil, true, ctx.Err()
		}
	}

	c := &call{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()
	close(c.done)

	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()

	return c.val, false, c.err
}

// InFlight reports whether an execution for key is currently running.
func (g *Group) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.m[key]
	return ok
}
