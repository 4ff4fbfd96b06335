package restq

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsCollectorRecords(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry(registry)

	mc.RecordRequest("GET", "api/todos", 200, 30*time.Millisecond)
	mc.RecordRequestStart("GET", "api/todos")
	mc.RecordRequestEnd("GET", "api/todos")
	mc.RecordRetry("GET", "api/todos", 1)
	mc.RecordCircuitBreakerState("default", StateOpen)
	mc.RecordRateLimiterTokens("default", 7)
	mc.RecordQueryCacheHit("/todos")
	mc.RecordQueryCacheMiss("/todos")
	mc.RecordQueryCacheSize("default", 3)
	mc.RecordCoalescedFetch("/todos")
	mc.RecordOptimisticRollback("update")
	mc.RecordError(KindTransport, "GET", "api/todos")

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() returned error: %v", err)
	}

	want := map[string]bool{
		"restq_requests_total":             false,
		"restq_request_duration_seconds":   false,
		"restq_retries_total":              false,
		"restq_circuit_breaker_state":      false,
		"restq_rate_limiter_tokens":        false,
		"restq_query_cache_hits_total":     false,
		"restq_query_cache_misses_total":   false,
		"restq_query_cache_size":           false,
		"restq_coalesced_fetches_total":    false,
		"restq_optimistic_rollbacks_total": false,
		"restq_errors_total":               false,
	}
	for _, fam := range families {
		if _, ok := want[fam.GetName()]; ok {
			want[fam.GetName()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("Expected metric family %s to be registered", name)
		}
	}
}

func TestMetricsCollectorNilReceiverSafe(t *testing.T) {
	var mc *MetricsCollector

	mc.RecordRequest("GET", "e", 200, time.Millisecond)
	mc.RecordRequestStart("GET", "e")
	mc.RecordRequestEnd("GET", "e")
	mc.RecordRetry("GET", "e", 1)
	mc.RecordCircuitBreakerState("d", StateClosed)
	mc.RecordRateLimiterTokens("d", 1)
	mc.RecordQueryCacheHit("k")
	mc.RecordQueryCacheMiss("k")
	mc.RecordQueryCacheSize("d", 0)
	mc.RecordCoalescedFetch("k")
	mc.RecordOptimisticRollback("delete")
	mc.RecordError(KindTransport, "GET", "e")
}
