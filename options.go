package restq

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/restq-go/restq/internal/backoff"
)

// Option represents a client configuration option.
type Option func(*Client)

// WithBaseURL sets the base URL relative request paths resolve against.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithDefaultHeader adds a header applied to every request that does not
// already set it.
func WithDefaultHeader(key, value string) Option {
	return func(c *Client) {
		c.defaultHeaders.Add(key, value)
	}
}

// WithDefaultHeaders merges a header set into the client defaults.
func WithDefaultHeaders(headers http.Header) Option {
	return func(c *Client) {
		for key, values := range headers {
			for _, v := range values {
				c.defaultHeaders.Add(key, v)
			}
		}
	}
}

// WithCredentialProvider installs the auth interceptor reading bearer
// tokens from the provider on every outgoing request.
func WithCredentialProvider(p CredentialProvider) Option {
	return func(c *Client) {
		c.credentials = p
	}
}

// WithTraceHeaders stamps X-Request-ID / X-Request-Timestamp on every
// request. gen may be nil to use uuid.
func WithTraceHeaders(gen func() string) Option {
	return func(c *Client) {
		c.traceEnabled = true
		c.traceGen = gen
	}
}

// WithRequestInterceptor appends interceptors after the built-in chain.
func WithRequestInterceptor(interceptors ...RequestInterceptor) Option {
	return func(c *Client) {
		c.extraInterceptors = append(c.extraInterceptors, interceptors...)
	}
}

// WithSessionHandler sets the handler invoked on 401 responses.
func WithSessionHandler(h SessionHandler) Option {
	return func(c *Client) {
		c.session = h
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithInitialBackoff sets the initial backoff duration.
func WithInitialBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.initialBackoff = d
	}
}

// WithMaxBackoff sets the maximum backoff duration.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.maxBackoff = d
	}
}

// WithBackoffMultiplier sets the backoff multiplier.
func WithBackoffMultiplier(f float64) Option {
	return func(c *Client) {
		c.backoffMultiplier = f
	}
}

// WithJitter sets the jitter factor for backoff (0.0 to 1.0).
func WithJitter(f float64) Option {
	return func(c *Client) {
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		c.jitter = f
	}
}

// WithBackoffStrategy selects the backoff curve.
func WithBackoffStrategy(s backoff.Strategy) Option {
	return func(c *Client) {
		c.backoffStrategy = s
	}
}

// WithRetryCondition sets a custom retry condition.
func WithRetryCondition(fn RetryCondition) Option {
	return func(c *Client) {
		c.retryCondition = fn
	}
}

// WithRateLimiter sets the rate limiter.
func WithRateLimiter(maxTokens int, refillRate time.Duration) Option {
	return func(c *Client) {
		c.rateLimiter = NewRateLimiter(maxTokens, refillRate)
	}
}

// WithCircuitBreaker sets the circuit breaker configuration.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.circuitBreaker = NewCircuitBreaker(config)
	}
}

// WithMiddleware adds middleware to the client.
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
		if c.timeout != 0 {
			c.httpClient.Timeout = c.timeout
		}
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithFlightTracking enables transport-level coalescing of identical
// in-flight requests.
func WithFlightTracking() Option {
	return func(c *Client) {
		c.flight = NewFlightTracker()
	}
}

// WithFlightKeyFunc sets a custom coalescing key function.
func WithFlightKeyFunc(fn FlightKeyFunc) Option {
	return func(c *Client) {
		c.flightKeyFunc = fn
	}
}

// WithFlightCondition sets a custom coalescing eligibility function.
func WithFlightCondition(fn FlightCondition) Option {
	return func(c *Client) {
		c.flightCondition = fn
	}
}

// WithMetrics enables Prometheus metrics collection on the default
// registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithDebug enables debug logging with default configuration.
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithLogger sets a custom logger for debug output.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables debug logging with a simple console logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithRequestIDGenerator sets a custom function for generating request IDs.
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// ValidateConfiguration validates the client configuration and returns an
// error if invalid.
func (c *Client) ValidateConfiguration() error {
	var problems []string

	problems = append(problems, c.validateRetryConfig()...)
	problems = append(problems, c.validateRateLimiterConfig()...)
	problems = append(problems, c.validateCircuitBreakerConfig()...)
	problems = append(problems, c.validateDebugConfig()...)
	problems = append(problems, c.validateFlightConfig()...)
	problems = append(problems, c.validateMiddlewareConfig()...)
	problems = append(problems, c.validateHTTPClientConfig()...)
	problems = append(problems, c.validateBaseURL()...)
	problems = append(problems, c.validateExtremeValues()...)

	if len(problems) > 0 {
		return &Error{
			Kind:    KindConfig,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", problems),
		}
	}

	return nil
}

func (c *Client) validateRetryConfig() []string {
	var problems []string

	if c.maxRetries < 0 {
		problems = append(problems, "maxRetries must be non-negative")
	}
	if c.initialBackoff <= 0 {
		problems = append(problems, "initialBackoff must be positive")
	}
	if c.maxBackoff < c.initialBackoff {
		problems = append(problems, "maxBackoff must be greater than or equal to initialBackoff")
	}
	if c.backoffMultiplier <= 0 {
		problems = append(problems, "backoffMultiplier must be positive")
	}
	if c.jitter < 0 || c.jitter > 1 {
		problems = append(problems, "jitter must be between 0 and 1")
	}
	if c.timeout <= 0 {
		problems = append(problems, "timeout must be positive")
	}

	return problems
}

func (c *Client) validateRateLimiterConfig() []string {
	var problems []string

	if c.rateLimiter != nil {
		if c.rateLimiter.maxTokens <= 0 {
			problems = append(problems, "rateLimiter maxTokens must be positive")
		}
		if c.rateLimiter.refillRate <= 0 {
			problems = append(problems, "rateLimiter refillRate must be positive")
		}
	}

	return problems
}

func (c *Client) validateCircuitBreakerConfig() []string {
	var problems []string

	if c.circuitBreaker != nil {
		if c.circuitBreaker.config.FailureThreshold <= 0 {
			problems = append(problems, "circuitBreaker FailureThreshold must be positive")
		}
		if c.circuitBreaker.config.RecoveryTimeout <= 0 {
			problems = append(problems, "circuitBreaker RecoveryTimeout must be positive")
		}
		if c.circuitBreaker.config.SuccessThreshold <= 0 {
			problems = append(problems, "circuitBreaker SuccessThreshold must be positive")
		}
	}

	return problems
}

func (c *Client) validateDebugConfig() []string {
	var problems []string

	if c.debug != nil && c.debug.Enabled {
		if c.debug.RequestIDGen == nil {
			problems = append(problems, "debug RequestIDGen must be set when debug is enabled")
		}
		if c.logger == nil {
			problems = append(problems, "logger must be set when debug is enabled")
		}
	}

	return problems
}

func (c *Client) validateFlightConfig() []string {
	var problems []string

	if c.flight != nil {
		if c.flightKeyFunc == nil {
			problems = append(problems, "flight key function must be set when coalescing is enabled")
		}
		if c.flightCondition == nil {
			problems = append(problems, "flight condition must be set when coalescing is enabled")
		}
	}

	return problems
}

func (c *Client) validateMiddlewareConfig() []string {
	var problems []string

	for i, middleware := range c.middleware {
		if middleware == nil {
			problems = append(problems, fmt.Sprintf("middleware[%d] cannot be nil", i))
		}
	}

	return problems
}

func (c *Client) validateHTTPClientConfig() []string {
	var problems []string

	if c.httpClient == nil {
		problems = append(problems, "HTTP client cannot be nil")
	}

	return problems
}

func (c *Client) validateBaseURL() []string {
	var problems []string

	if c.baseURL != "" {
		if _, err := url.Parse(c.baseURL); err != nil {
			problems = append(problems, fmt.Sprintf("baseURL is not a valid URL: %v", err))
		}
	}

	return problems
}

func (c *Client) validateExtremeValues() []string {
	var problems []string

	if c.maxRetries > 100 {
		problems = append(problems, "maxRetries > 100 may cause excessive resource usage")
	}
	if c.initialBackoff > 10*time.Minute {
		problems = append(problems, "initialBackoff > 10m may cause very long delays")
	}
	if c.maxBackoff > time.Hour {
		problems = append(problems, "maxBackoff > 1h may cause extremely long delays")
	}
	if c.timeout > 10*time.Minute {
		problems = append(problems, "timeout > 10m may cause requests to hang for too long")
	}
	if c.rateLimiter != nil {
		if c.rateLimiter.maxTokens > 1000000 {
			problems = append(problems, "rateLimiter maxTokens > 1M may cause memory issues")
		}
		if c.rateLimiter.refillRate < time.Millisecond {
			problems = append(problems, "rateLimiter refillRate < 1ms may cause excessive CPU usage")
		}
	}

	return problems
}
