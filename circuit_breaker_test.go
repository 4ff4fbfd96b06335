package restq

import (
	"testing"
	"time"
)

func TestCircuitBreakerDefaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	if cb.config.FailureThreshold != 5 {
		t.Errorf("Expected default failure threshold 5, got %d", cb.config.FailureThreshold)
	}
	if cb.config.RecoveryTimeout != 60*time.Second {
		t.Errorf("Expected default recovery timeout 60s, got %v", cb.config.RecoveryTimeout)
	}
	if cb.config.SuccessThreshold != 2 {
		t.Errorf("Expected default success threshold 2, got %d", cb.config.SuccessThreshold)
	}
	if cb.State() != StateClosed {
		t.Error("Expected breaker to start closed")
	}
}

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Hour})

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		if !cb.Allow() {
			t.Fatalf("Expected breaker closed after %d failures", i+1)
		}
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Error("Expected breaker open at threshold")
	}
	if cb.Allow() {
		t.Error("Expected open breaker to reject requests")
	}
}

func TestCircuitBreakerRecovery(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  10 * time.Millisecond,
		SuccessThreshold: 2,
	})

	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("Expected breaker open")
	}

	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("Expected half-open breaker to allow a probe")
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected half-open state, got %v", cb.State())
	}

	cb.RecordSuccess()
	if cb.State() != StateHalfOpen {
		t.Error("Expected breaker to stay half-open before the success threshold")
	}

	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Error("Expected breaker closed after enough successes")
	}
}

func TestCircuitBreakerReopensFromHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Millisecond,
		SuccessThreshold: 1,
	})

	cb.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("Expected probe allowed")
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Errorf("Expected failure in half-open to reopen, got %v", cb.State())
	}
}
