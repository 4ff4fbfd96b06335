package restq

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/restq-go/restq/internal/backoff"
)

// RetryCondition determines whether a request should be retried.
type RetryCondition func(req *http.Request, resp *http.Response, err error) bool

// Middleware wraps request execution for cross-cutting concerns.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper represents the HTTP transport interface.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc adapts a function to RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Client is a resilient transport client for envelope APIs. It layers a
// request interceptor chain, middleware, retries with backoff, rate
// limiting, circuit breaking, transport-level request coalescing and
// metrics around the standard net/http Client. Safe for concurrent use.
type Client struct {
	httpClient        *http.Client
	baseURL           string
	defaultHeaders    http.Header
	credentials       CredentialProvider
	traceEnabled      bool
	traceGen          func() string
	extraInterceptors []RequestInterceptor
	interceptors      []RequestInterceptor
	middleware        []Middleware
	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitter            float64
	backoffStrategy   backoff.Strategy
	timeout           time.Duration
	retryCondition    RetryCondition
	rateLimiter       *RateLimiter
	circuitBreaker    *CircuitBreaker
	flight            *FlightTracker
	flightKeyFunc     FlightKeyFunc
	flightCondition   FlightCondition
	session           SessionHandler
	metrics           *MetricsCollector
	debug             *DebugConfig
	logger            Logger
	validationError   error
}

// New constructs a Client using the provided functional options. A best
// effort validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		defaultHeaders:    make(http.Header),
		maxRetries:        3,
		initialBackoff:    100 * time.Millisecond,
		maxBackoff:        10 * time.Second,
		backoffMultiplier: 2.0,
		jitter:            0.1,
		backoffStrategy:   backoff.ExponentialJitter,
		timeout:           30 * time.Second,
		retryCondition:    DefaultRetryCondition,
		circuitBreaker:    NewCircuitBreaker(CircuitBreakerConfig{}),
		flightKeyFunc:     DefaultFlightKeyFunc,
		flightCondition:   DefaultFlightCondition,
		debug:             DefaultDebugConfig(),
	}

	for _, option := range options {
		option(client)
	}

	client.interceptors = client.buildInterceptors()

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// buildInterceptors assembles the fixed-order chain: auth, content type,
// trace, then any user supplied interceptors.
func (c *Client) buildInterceptors() []RequestInterceptor {
	chain := make([]RequestInterceptor, 0, 3+len(c.extraInterceptors))
	if c.credentials != nil {
		chain = append(chain, AuthInterceptor(c.credentials))
	}
	chain = append(chain, ContentTypeInterceptor())
	if c.traceEnabled {
		chain = append(chain, TraceInterceptor(c.traceGen))
	}
	chain = append(chain, c.extraInterceptors...)
	return chain
}

// URL resolves path against the configured base URL. Absolute URLs pass
// through unchanged.
func (c *Client) URL(path string) string {
	if c.baseURL == "" || strings.Contains(path, "://") {
		return path
	}
	base := strings.TrimRight(c.baseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// NewRequest builds a request with context, base URL resolution and default
// headers. A non-Reader body is JSON-encoded.
func (c *Client) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		if r, ok := body.(io.Reader); ok {
			reader = r
		} else {
			encoded, err := json.Marshal(body)
			if err != nil {
				return nil, &Error{
					Kind:    KindValidation,
					Message: "failed to encode request body",
					Cause:   err,
					Method:  method,
					URL:     c.URL(path),
				}
			}
			reader = bytes.NewReader(encoded)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL(path), reader)
	if err != nil {
		return nil, err
	}

	for key, values := range c.defaultHeaders {
		if req.Header.Get(key) == "" {
			for _, v := range values {
				req.Header.Add(key, v)
			}
		}
	}

	return req, nil
}

// Get performs an HTTP GET with context.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post performs an HTTP POST with a JSON-encoded body.
func (c *Client) Post(ctx context.Context, path string, body any) (*http.Response, error) {
	req, err := c.NewRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Put performs an HTTP PUT with a JSON-encoded body.
func (c *Client) Put(ctx context.Context, path string, body any) (*http.Response, error) {
	req, err := c.NewRequest(ctx, http.MethodPut, path, body)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Patch performs an HTTP PATCH with a JSON-encoded body.
func (c *Client) Patch(ctx context.Context, path string, body any) (*http.Response, error) {
	req, err := c.NewRequest(ctx, http.MethodPatch, path, body)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Delete performs an HTTP DELETE with context.
func (c *Client) Delete(ctx context.Context, path string) (*http.Response, error) {
	req, err := c.NewRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Do executes a prepared *http.Request applying interceptors and all
// reliability features. Interceptors fail closed: an interceptor error
// aborts the call before anything is transmitted.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	endpoint := endpointFromRequest(req)

	var requestID string
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}

	if err := applyInterceptors(req, c.interceptors); err != nil {
		c.metrics.RecordError(errorKind(err), req.Method, endpoint)
		return nil, err
	}

	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		c.logger.Debug("Starting request", "requestID", requestID, "method", req.Method, "url", req.URL.String(), "endpoint", endpoint)
	}

	c.metrics.RecordRequestStart(req.Method, endpoint)

	flightEnabled := c.flight != nil && c.flightCondition(req)

	var flightEntry *FlightEntry
	var isFlightOwner bool
	if flightEnabled {
		flightKey := c.flightKeyFunc(req)
		flightEntry, isFlightOwner = c.flight.GetOrCreateEntry(flightKey)

		if !isFlightOwner {
			resp, err := flightEntry.Wait(req.Context())
			c.metrics.RecordRequestEnd(req.Method, endpoint)
			statusCode := 0
			if resp != nil {
				statusCode = resp.StatusCode
			}
			c.metrics.RecordRequest(req.Method, endpoint, statusCode, time.Since(start))
			c.metrics.RecordCoalescedFetch(endpoint)

			if c.debug != nil && c.debug.Enabled && c.logger != nil {
				c.logger.Debug("Coalesced with in-flight request", "requestID", requestID, "flightKey", flightKey)
			}

			return resp, err
		}
	}

	resp, err := c.doWithRetry(req, 0, requestID, start)

	c.metrics.RecordRequestEnd(req.Method, endpoint)

	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	c.metrics.RecordRequest(req.Method, endpoint, statusCode, time.Since(start))

	if flightEnabled && isFlightOwner && flightEntry != nil {
		c.flight.Complete(c.flightKeyFunc(req), resp, err)
	}

	return resp, err
}

func (c *Client) doWithRetry(req *http.Request, attempt int, requestID string, startTime time.Time) (*http.Response, error) {
	endpoint := endpointFromRequest(req)

	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		if c.debug != nil && c.debug.Enabled && c.debug.LogRateLimit && c.logger != nil {
			c.logger.Warn("Rate limit exceeded", "requestID", requestID, "endpoint", endpoint)
		}
		c.metrics.RecordError(KindRateLimit, req.Method, endpoint)
		return nil, c.newError(KindRateLimit, "rate limit exceeded", ErrRateLimited, requestID, req, attempt, time.Since(startTime))
	}

	if c.rateLimiter != nil {
		c.metrics.RecordRateLimiterTokens("default", c.rateLimiter.Tokens())
	}

	if !c.circuitBreaker.Allow() {
		if c.debug != nil && c.debug.Enabled && c.debug.LogCircuit && c.logger != nil {
			c.logger.Warn("Circuit breaker open", "requestID", requestID, "endpoint", endpoint)
		}
		c.metrics.RecordError(KindCircuitOpen, req.Method, endpoint)
		return nil, c.newError(KindCircuitOpen, "circuit breaker is open", ErrCircuitOpen, requestID, req, attempt, time.Since(startTime))
	}

	if attempt > 0 {
		if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
			c.logger.Info("Retry attempt", "requestID", requestID, "attempt", attempt, "maxRetries", c.maxRetries, "endpoint", endpoint)
		}
		c.metrics.RecordRetry(req.Method, endpoint, attempt)
	}

	// Rewind the body on retries; the previous attempt consumed it.
	if attempt > 0 && req.GetBody != nil {
		if body, err := req.GetBody(); err == nil {
			req.Body = body
		}
	}

	resp, err := c.executeMiddleware(req)

	if err != nil || (resp != nil && resp.StatusCode >= 500) {
		c.circuitBreaker.RecordFailure()
		c.metrics.RecordCircuitBreakerState("default", c.circuitBreaker.State())
		if err != nil {
			c.metrics.RecordError(KindTransport, req.Method, endpoint)
		} else {
			c.metrics.RecordError(KindProtocol, req.Method, endpoint)
		}
	} else {
		c.circuitBreaker.RecordSuccess()
		c.metrics.RecordCircuitBreakerState("default", c.circuitBreaker.State())
	}

	if attempt < c.maxRetries && c.retryCondition(req, resp, err) {
		delay := backoff.Delay(c.backoffStrategy, attempt, c.initialBackoff, c.maxBackoff, c.backoffMultiplier, c.jitter)

		if c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
			c.logger.Info("Scheduling retry", "requestID", requestID, "attempt", attempt+1, "backoff", delay, "endpoint", endpoint)
		}

		time.Sleep(delay)
		return c.doWithRetry(req, attempt+1, requestID, startTime)
	}

	if err != nil {
		return nil, c.newError(KindTransport, "network request failed", err, requestID, req, attempt, time.Since(startTime))
	}

	return resp, nil
}

func (c *Client) executeMiddleware(req *http.Request) (*http.Response, error) {
	if len(c.middleware) == 0 {
		return c.httpClient.Do(req)
	}

	current := RoundTripperFunc(c.httpClient.Do)

	for i := len(c.middleware) - 1; i >= 0; i-- {
		middleware := c.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}

	return current.RoundTrip(req)
}

// DoEnvelope executes the request and normalizes the envelope: on success
// the data payload and envelope status are returned; on failure a typed
// error. A 401 (HTTP or envelope) triggers session teardown before the
// error is surfaced — the error is never swallowed.
func (c *Client) DoEnvelope(req *http.Request, fallback string) (json.RawMessage, int, error) {
	endpoint := endpointFromRequest(req)

	resp, err := c.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &Error{
			Kind:       KindTransport,
			Message:    "failed to read response body",
			Cause:      err,
			StatusCode: resp.StatusCode,
			Method:     req.Method,
			URL:        req.URL.String(),
		}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.teardownSession(req.Context())
		c.metrics.RecordError(KindAuth, req.Method, endpoint)
		return nil, resp.StatusCode, &Error{
			Kind:       KindAuth,
			Message:    "unauthorized",
			StatusCode: resp.StatusCode,
			Method:     req.Method,
			URL:        req.URL.String(),
		}
	}

	env, err := DecodeEnvelope(body)
	if err != nil {
		c.metrics.RecordError(errorKind(err), req.Method, endpoint)
		return nil, resp.StatusCode, err
	}

	if env.OK() {
		return env.Data, env.StatusCode, nil
	}

	envErr := env.Err(fallback)
	if env.StatusCode == http.StatusUnauthorized {
		c.teardownSession(req.Context())
	}
	c.metrics.RecordError(errorKind(envErr), req.Method, endpoint)
	return nil, env.StatusCode, envErr
}

func (c *Client) teardownSession(ctx context.Context) {
	if c.session != nil {
		c.session.OnUnauthorized(ctx)
	}
}

// DefaultRetryCondition retries on transport errors and 5xx responses, but
// never for mutating verbs: a POST/PUT/PATCH/DELETE is sent at most once per
// Do call, and its single optional retry belongs to the resource layer.
func DefaultRetryCondition(req *http.Request, resp *http.Response, err error) bool {
	switch req.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return false
	}
	if err != nil {
		return true
	}
	return resp.StatusCode >= 500
}

func (c *Client) newError(kind, message string, cause error, requestID string, req *http.Request, attempt int, duration time.Duration) *Error {
	return &Error{
		Kind:       kind,
		Message:    message,
		Cause:      cause,
		RequestID:  requestID,
		Method:     req.Method,
		URL:        req.URL.String(),
		Attempt:    attempt,
		MaxRetries: c.maxRetries,
		Timestamp:  time.Now(),
		Duration:   duration,
	}
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

func errorKind(err error) string {
	if rqErr, ok := err.(*Error); ok {
		return rqErr.Kind
	}
	return KindTransport
}

func newRequestID() string {
	return uuid.NewString()
}

func endpointFromRequest(req *http.Request) string {
	if req.URL == nil {
		return "unknown"
	}

	host := req.URL.Host
	path := req.URL.Path

	var builder strings.Builder
	builder.WriteString(host)

	if path != "" && path != "/" {
		builder.WriteString(path)
	} else {
		builder.WriteByte('/')
	}

	return builder.String()
}
