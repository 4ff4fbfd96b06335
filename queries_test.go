package restq

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueriesKeyDeterministic(t *testing.T) {
	q := NewQueries()

	a := q.Key("/todos", Params{"page": 1, "tags": []string{"home", "work"}})
	b := q.Key("/todos", Params{"tags": []string{"home", "work"}, "page": 1})
	if a != b {
		t.Errorf("Expected identical keys, got %q and %q", a, b)
	}
	if a != "/todos?page=1&tags=home&tags=work" {
		t.Errorf("Unexpected key: %q", a)
	}

	if got := q.Key("/todos", nil); got != "/todos" {
		t.Errorf("Expected bare URL for nil params, got %q", got)
	}
}

func TestQueriesFetchCachesFreshEntries(t *testing.T) {
	q := NewQueries(WithStaleTime(time.Minute))
	ctx := context.Background()

	var calls int32
	fn := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte(`[1]`), nil
	}

	for i := 0; i < 3; i++ {
		data, err := q.Fetch(ctx, "/todos", fn)
		if err != nil {
			t.Fatalf("Fetch %d returned error: %v", i, err)
		}
		if string(data) != "[1]" {
			t.Errorf("Fetch %d returned %s", i, data)
		}
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected 1 network call for fresh entries, got %d", got)
	}
}

func TestQueriesFetchStaleEntryRefetches(t *testing.T) {
	q := NewQueries()
	ctx := context.Background()

	var calls int32
	fn := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte(`1`), nil
	}

	if _, err := q.Fetch(ctx, "k", fn, FetchStaleTime(time.Nanosecond)); err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	time.Sleep(time.Millisecond)
	if _, err := q.Fetch(ctx, "k", fn, FetchStaleTime(time.Nanosecond)); err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("Expected stale entry to refetch, got %d calls", got)
	}
}

func TestQueriesForceRefetch(t *testing.T) {
	q := NewQueries(WithStaleTime(time.Hour))
	ctx := context.Background()

	var calls int32
	fn := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte(`1`), nil
	}

	_, _ = q.Fetch(ctx, "k", fn)
	_, _ = q.Fetch(ctx, "k", fn, ForceRefetch())

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("Expected ForceRefetch to bypass freshness, got %d calls", got)
	}
}

func TestQueriesFetchDisabled(t *testing.T) {
	q := NewQueries()
	ctx := context.Background()

	var calls int32
	_, err := q.Fetch(ctx, "k", func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	}, Enabled(false))

	if !errors.Is(err, ErrFetchDisabled) {
		t.Errorf("Expected ErrFetchDisabled, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("Expected no fetch when disabled")
	}
}

func TestQueriesFetchErrorNotCached(t *testing.T) {
	q := NewQueries()
	ctx := context.Background()

	boom := errors.New("boom")
	var calls int32
	fn := func(context.Context) ([]byte, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, boom
		}
		return []byte(`1`), nil
	}

	if _, err := q.Fetch(ctx, "k", fn); !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}
	if _, ok := q.Snapshot(ctx, "k"); ok {
		t.Error("Expected failed fetch to leave nothing cached")
	}

	data, err := q.Fetch(ctx, "k", fn)
	if err != nil || string(data) != "1" {
		t.Errorf("Expected recovery on second fetch, got %s, %v", data, err)
	}
}

func TestQueriesFetchCoalescesConcurrentCallers(t *testing.T) {
	q := NewQueries()
	ctx := context.Background()

	var calls int32
	release := make(chan struct{})
	fn := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte(`shared`), nil
	}

	const callers = 5
	var wg sync.WaitGroup
	results := make([][]byte, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = q.Fetch(ctx, "k", fn)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("Expected 1 execution for concurrent fetches, got %d", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Errorf("Caller %d returned error: %v", i, errs[i])
		}
		if string(results[i]) != "shared" {
			t.Errorf("Caller %d got %s", i, results[i])
		}
	}
}

func TestQueriesSetAndSnapshot(t *testing.T) {
	q := NewQueries()
	ctx := context.Background()

	q.Set(ctx, "k", []byte(`[1,2]`))

	snap, ok := q.Snapshot(ctx, "k")
	if !ok {
		t.Fatal("Expected snapshot after Set")
	}
	if string(snap) != "[1,2]" {
		t.Errorf("Unexpected snapshot: %s", snap)
	}

	// The snapshot is a copy; mutating it must not touch the cache.
	snap[1] = 'X'
	again, _ := q.Snapshot(ctx, "k")
	if string(again) != "[1,2]" {
		t.Errorf("Expected cache unaffected by snapshot mutation, got %s", again)
	}
}

func TestQueriesSnapshotMissing(t *testing.T) {
	q := NewQueries()
	if _, ok := q.Snapshot(context.Background(), "nope"); ok {
		t.Error("Expected ok=false for missing key")
	}
}

func TestQueriesInvalidate(t *testing.T) {
	q := NewQueries()
	ctx := context.Background()

	q.Set(ctx, "a", []byte(`1`))
	q.Set(ctx, "b", []byte(`2`))
	q.Invalidate(ctx, "a", "b")

	if _, ok := q.Snapshot(ctx, "a"); ok {
		t.Error("Expected a invalidated")
	}
	if _, ok := q.Snapshot(ctx, "b"); ok {
		t.Error("Expected b invalidated")
	}
}

func TestQueriesRefetchReplaysRegisteredFetch(t *testing.T) {
	q := NewQueries(WithStaleTime(time.Hour))
	ctx := context.Background()

	var calls int32
	fn := func(context.Context) ([]byte, error) {
		return []byte{byte('0' + atomic.AddInt32(&calls, 1))}, nil
	}

	if _, err := q.Fetch(ctx, "k", fn); err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}

	if err := q.Refetch(ctx, "k", "never-fetched"); err != nil {
		t.Fatalf("Refetch returned error: %v", err)
	}

	data, _ := q.Snapshot(ctx, "k")
	if string(data) != "2" {
		t.Errorf("Expected refetched value 2, got %s", data)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("Expected 2 calls after refetch, got %d", got)
	}
}

func TestQueriesRefetchPropagatesError(t *testing.T) {
	q := NewQueries()
	ctx := context.Background()

	boom := errors.New("boom")
	var calls int32
	fn := func(context.Context) ([]byte, error) {
		if atomic.AddInt32(&calls, 1) > 1 {
			return nil, boom
		}
		return []byte(`1`), nil
	}

	_, _ = q.Fetch(ctx, "k", fn)
	if err := q.Refetch(ctx, "k"); !errors.Is(err, boom) {
		t.Errorf("Expected boom from refetch, got %v", err)
	}
}

func TestQueriesInvalidateAndRefetch(t *testing.T) {
	q := NewQueries(WithStaleTime(time.Hour))
	ctx := context.Background()

	var calls int32
	fn := func(context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte(`fresh`), nil
	}

	_, _ = q.Fetch(ctx, "k", fn)
	if err := q.InvalidateAndRefetch(ctx, "k"); err != nil {
		t.Fatalf("InvalidateAndRefetch returned error: %v", err)
	}

	data, ok := q.Snapshot(ctx, "k")
	if !ok || string(data) != "fresh" {
		t.Errorf("Expected refetched data, got %s ok=%v", data, ok)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("Expected 2 calls, got %d", got)
	}
}

func TestQueriesSubscribe(t *testing.T) {
	q := NewQueries()
	ctx := context.Background()

	ch, cancel := q.Subscribe("k")
	defer cancel()

	q.Set(ctx, "k", []byte(`1`))
	select {
	case ev := <-ch:
		if ev.Kind != EventSet || ev.Key != "k" {
			t.Errorf("Unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected set event")
	}

	q.Invalidate(ctx, "k")
	select {
	case ev := <-ch:
		if ev.Kind != EventInvalidate {
			t.Errorf("Unexpected event kind: %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected invalidate event")
	}
}

func TestQueriesSubscribeCancel(t *testing.T) {
	q := NewQueries()
	ctx := context.Background()

	ch, cancel := q.Subscribe("k")
	cancel()

	// The channel is closed, so a subscriber ranging over it terminates.
	if _, ok := <-ch; ok {
		t.Error("Expected channel closed after cancel")
	}

	// Late events and a second cancel are no-ops.
	q.Set(ctx, "k", []byte(`1`))
	cancel()
}

func TestMutationRetriesClamped(t *testing.T) {
	if got := NewQueries(WithMutationRetries(5)).MutationRetries(); got != 1 {
		t.Errorf("Expected retries clamped to 1, got %d", got)
	}
	if got := NewQueries(WithMutationRetries(-3)).MutationRetries(); got != 0 {
		t.Errorf("Expected retries clamped to 0, got %d", got)
	}
	if got := NewQueries().MutationRetries(); got != 0 {
		t.Errorf("Expected default 0 retries, got %d", got)
	}
}
