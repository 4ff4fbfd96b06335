package restq

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() returned error: %v", err)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Expected default timeout 30s, got %v", cfg.Timeout)
	}
	if cfg.StaleTime != 5*time.Minute {
		t.Errorf("Expected default stale time 5m, got %v", cfg.StaleTime)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("Expected default max retries 3, got %d", cfg.MaxRetries)
	}
	if cfg.InitialBackoff != 100*time.Millisecond {
		t.Errorf("Expected default initial backoff 100ms, got %v", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 10*time.Second {
		t.Errorf("Expected default max backoff 10s, got %v", cfg.MaxBackoff)
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("RESTQ_BASE_URL", "http://api.example.com")
	t.Setenv("RESTQ_TIMEOUT", "5s")
	t.Setenv("RESTQ_MAX_RETRIES", "1")
	t.Setenv("RESTQ_DEFAULT_HEADERS", "X-App: demo; X-Env: test")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() returned error: %v", err)
	}
	if cfg.BaseURL != "http://api.example.com" {
		t.Errorf("Unexpected base URL: %q", cfg.BaseURL)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Unexpected timeout: %v", cfg.Timeout)
	}
	if cfg.MaxRetries != 1 {
		t.Errorf("Unexpected max retries: %d", cfg.MaxRetries)
	}

	headers := cfg.Headers()
	if got := headers.Get("X-App"); got != "demo" {
		t.Errorf("Unexpected X-App header: %q", got)
	}
	if got := headers.Get("X-Env"); got != "test" {
		t.Errorf("Unexpected X-Env header: %q", got)
	}
}

func TestConfigHeadersIgnoresMalformedPairs(t *testing.T) {
	cfg := &Config{DefaultHeaders: "X-Good: yes; malformed; ; X-Also: ok"}
	headers := cfg.Headers()
	if got := headers.Get("X-Good"); got != "yes" {
		t.Errorf("Unexpected X-Good header: %q", got)
	}
	if got := headers.Get("X-Also"); got != "ok" {
		t.Errorf("Unexpected X-Also header: %q", got)
	}
	if len(headers) != 2 {
		t.Errorf("Expected 2 headers, got %d", len(headers))
	}
}

func TestConfigOptionsBuildValidClient(t *testing.T) {
	cfg := &Config{
		BaseURL:        "http://api.example.com",
		Timeout:        10 * time.Second,
		MaxRetries:     2,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
	}

	client := New(cfg.Options()...)
	if !client.IsValid() {
		t.Fatalf("Expected valid client from config, got %v", client.ValidationError())
	}
	if got := client.URL("/x"); got != "http://api.example.com/x" {
		t.Errorf("Unexpected resolved URL: %q", got)
	}
}

func TestConfigQueryOptions(t *testing.T) {
	cfg := &Config{StaleTime: time.Minute}
	q := NewQueries(cfg.QueryOptions()...)
	if q.staleTime != time.Minute {
		t.Errorf("Expected stale time from config, got %v", q.staleTime)
	}
}
