package restq

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestAuthInterceptorSetsBearer(t *testing.T) {
	req, _ := http.NewRequest("GET", "http://example.com/x", nil)

	ic := AuthInterceptor(StaticCredentials("tok-123"))
	if err := ic(req); err != nil {
		t.Fatalf("Interceptor returned error: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer tok-123" {
		t.Errorf("Expected bearer header, got %q", got)
	}
}

func TestAuthInterceptorEmptyTokenNoHeader(t *testing.T) {
	req, _ := http.NewRequest("GET", "http://example.com/x", nil)

	ic := AuthInterceptor(StaticCredentials(""))
	if err := ic(req); err != nil {
		t.Fatalf("Interceptor returned error: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "" {
		t.Errorf("Expected no Authorization header, got %q", got)
	}
}

type failingProvider struct{}

func (failingProvider) Token(context.Context) (string, error) {
	return "", errors.New("store unavailable")
}

func TestAuthInterceptorProviderErrorFailsClosed(t *testing.T) {
	req, _ := http.NewRequest("GET", "http://example.com/x", nil)

	err := AuthInterceptor(failingProvider{})(req)
	if err == nil {
		t.Fatal("Expected error from failing provider")
	}
	var rqErr *Error
	if !errors.As(err, &rqErr) || rqErr.Kind != KindAuth {
		t.Errorf("Expected auth error, got %v", err)
	}
}

func TestContentTypeInterceptor(t *testing.T) {
	ic := ContentTypeInterceptor()

	noBody, _ := http.NewRequest("GET", "http://example.com/x", nil)
	if err := ic(noBody); err != nil {
		t.Fatalf("Interceptor returned error: %v", err)
	}
	if got := noBody.Header.Get("Content-Type"); got != "" {
		t.Errorf("Expected no Content-Type without body, got %q", got)
	}

	withBody, _ := http.NewRequest("POST", "http://example.com/x", bytes.NewReader([]byte(`{}`)))
	if err := ic(withBody); err != nil {
		t.Fatalf("Interceptor returned error: %v", err)
	}
	if got := withBody.Header.Get("Content-Type"); got != "application/json;charset=utf-8" {
		t.Errorf("Expected JSON content type, got %q", got)
	}

	explicit, _ := http.NewRequest("POST", "http://example.com/x", strings.NewReader("a=b"))
	explicit.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")
	if err := ic(explicit); err != nil {
		t.Fatalf("Interceptor returned error: %v", err)
	}
	if got := explicit.Header.Get("Content-Type"); got != "multipart/form-data; boundary=xyz" {
		t.Errorf("Expected explicit content type preserved, got %q", got)
	}
}

func TestTraceInterceptor(t *testing.T) {
	req, _ := http.NewRequest("GET", "http://example.com/x", nil)

	ic := TraceInterceptor(func() string { return "fixed-id" })
	if err := ic(req); err != nil {
		t.Fatalf("Interceptor returned error: %v", err)
	}
	if got := req.Header.Get("X-Request-ID"); got != "fixed-id" {
		t.Errorf("Expected generated request ID, got %q", got)
	}
	if req.Header.Get("X-Request-Timestamp") == "" {
		t.Error("Expected timestamp header to be set")
	}
}

func TestTraceInterceptorPreservesExistingID(t *testing.T) {
	req, _ := http.NewRequest("GET", "http://example.com/x", nil)
	req.Header.Set("X-Request-ID", "caller-id")

	if err := TraceInterceptor(func() string { return "generated" })(req); err != nil {
		t.Fatalf("Interceptor returned error: %v", err)
	}
	if got := req.Header.Get("X-Request-ID"); got != "caller-id" {
		t.Errorf("Expected caller ID preserved, got %q", got)
	}
}

func TestApplyInterceptorsStopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	var ranAfter bool

	chain := []RequestInterceptor{
		nil,
		func(*http.Request) error { return boom },
		func(*http.Request) error { ranAfter = true; return nil },
	}

	req, _ := http.NewRequest("GET", "http://example.com/x", nil)
	if err := applyInterceptors(req, chain); !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
	if ranAfter {
		t.Error("Expected chain to stop at the failing interceptor")
	}
}
