package homerelay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Middleware wraps an outbound attempt for cross-cutting concerns (auth
// headers, tracing, request rewriting). Middleware runs inside the retry
// loop, once per attempt.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper is the HTTP transport interface middleware chains over.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc adapts a function to RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Client is the retrying request/response network client. Admission control
// (rate limiter, then circuit breaker) runs once per call, before the first
// attempt; the retry loop never re-checks either, so a call that was admitted
// runs to completion or exhaustion. Safe for concurrent use.
type Client struct {
	httpClient      *http.Client
	attemptTimeout  time.Duration
	policy          RetryPolicy
	budget          *RetryBudget
	rateLimiter     *RateLimiter
	breakers        *breakerSet
	middleware      []Middleware
	metrics         *MetricsCollector
	logger          Logger
	sleep           func(time.Duration)
	validationError error
}

// NewClient constructs a Client from functional options. Validation is best
// effort; call IsValid / ValidationError afterwards.
func NewClient(options ...Option) *Client {
	s := defaultSettings()
	for _, option := range options {
		option(s)
	}
	return newClientFromSettings(s)
}

func newClientFromSettings(s *settings) *Client {
	c := &Client{
		httpClient:     s.httpClient,
		attemptTimeout: s.attemptTimeout,
		policy:         s.policy,
		budget:         s.budget,
		rateLimiter:    s.limiter(),
		breakers:       s.breakerSet(),
		middleware:     s.middleware,
		metrics:        s.metrics,
		logger:         s.logger,
		sleep:          time.Sleep,
	}

	if err := c.ValidateConfiguration(); err != nil {
		c.validationError = err
	}

	return c
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// Get performs an HTTP GET with context.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post performs an HTTP POST with the given content type.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

// Do executes a prepared request applying rate limiting, circuit breaking,
// per-attempt timeouts and retries.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, _, err := c.DoWithAttempts(req)
	return resp, err
}

// DoWithAttempts is Do plus the number of attempts consumed, which callers
// surface as attempts_used.
func (c *Client) DoWithAttempts(req *http.Request) (*http.Response, int, error) {
	start := time.Now()
	dependency := dependencyFromRequest(req)
	correlationID := CorrelationIDFromContext(req.Context())

	if c.metrics != nil {
		c.metrics.RecordRequestStart(req.Method, dependency)
		defer c.metrics.RecordRequestEnd(req.Method, dependency)
	}

	if !c.rateLimiter.Allow() {
		if c.logger != nil {
			c.logger.Warn("rate limit exceeded", "correlationID", correlationID, "dependency", dependency)
		}
		if c.metrics != nil {
			c.metrics.RecordError(KindRateLimit, req.Method, dependency)
		}
		return nil, 0, c.newError(KindRateLimit, "admission rejected by rate limiter", ErrRateLimited, correlationID, dependency, 0, 0, time.Since(start))
	}
	if c.metrics != nil {
		c.metrics.RecordLimiterOccupancy(c.rateLimiter.Len(), c.rateLimiter.Ceiling())
	}

	breaker := c.breakers.For(dependency)
	if !breaker.Allow() {
		if c.logger != nil {
			c.logger.Warn("circuit open", "correlationID", correlationID, "dependency", dependency)
		}
		if c.metrics != nil {
			c.metrics.RecordError(KindCircuitOpen, req.Method, dependency)
		}
		return nil, 0, c.newError(KindCircuitOpen, "circuit breaker is open", ErrCircuitOpen, correlationID, dependency, 0, 0, time.Since(start))
	}

	var lastErr error
	var lastStatus int

	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if c.logger != nil {
				c.logger.Info("retry attempt", "correlationID", correlationID, "attempt", attempt, "maxAttempts", c.policy.MaxAttempts, "dependency", dependency)
			}
			if c.metrics != nil {
				c.metrics.RecordRetry(req.Method, dependency, attempt)
			}
		}

		resp, err := c.attempt(req)

		if err == nil && resp.StatusCode < 400 {
			breaker.RecordSuccess()
			c.recordBreakerState(breaker)
			if c.metrics != nil {
				c.metrics.RecordRequest(req.Method, dependency, resp.StatusCode, time.Since(start))
			}
			return resp, attempt, nil
		}

		breaker.RecordFailure()
		c.recordBreakerState(breaker)

		var retriable bool
		switch {
		case err != nil:
			retriable = true
			lastErr = err
			lastStatus = 0
			if c.metrics != nil {
				c.metrics.RecordError(classifyTransportError(err), req.Method, dependency)
			}
		case c.policy.Retriable(resp.StatusCode):
			retriable = true
			lastErr = nil
			lastStatus = resp.StatusCode
			drain(resp)
			if c.metrics != nil {
				c.metrics.RecordError(KindServer, req.Method, dependency)
			}
		default:
			// Terminal status: no attempt left to make.
			drain(resp)
			if c.metrics != nil {
				c.metrics.RecordError(KindClient, req.Method, dependency)
				c.metrics.RecordRequest(req.Method, dependency, resp.StatusCode, time.Since(start))
			}
			kind := KindClient
			if resp.StatusCode >= 500 {
				kind = KindServer
			}
			return nil, attempt, c.newError(kind, http.StatusText(resp.StatusCode), nil, correlationID, dependency, resp.StatusCode, attempt, time.Since(start))
		}

		if !retriable || attempt == c.policy.MaxAttempts {
			break
		}

		if c.budget != nil && !c.budget.Allow() {
			if c.logger != nil {
				c.logger.Warn("retry budget exceeded", "correlationID", correlationID, "dependency", dependency)
			}
			if c.metrics != nil {
				c.metrics.RecordRetryBudgetExceeded(dependency)
			}
			return nil, attempt, c.newError(KindRetryBudgetExceeded, "retry budget exceeded", ErrRetryBudgetExceeded, correlationID, dependency, lastStatus, attempt, time.Since(start))
		}

		delay := c.policy.BackoffFor(attempt - 1)
		if c.logger != nil {
			c.logger.Debug("scheduling retry", "correlationID", correlationID, "attempt", attempt+1, "backoff", delay, "dependency", dependency)
		}
		c.sleep(delay)
	}

	attempts := c.policy.MaxAttempts
	if c.metrics != nil {
		c.metrics.RecordError(KindRetryExhausted, req.Method, dependency)
		c.metrics.RecordRequest(req.Method, dependency, lastStatus, time.Since(start))
	}

	kind := KindRetryExhausted
	cause := lastErr
	switch {
	case cause == nil:
		cause = ErrRetryExhausted
	case attempts == 1:
		// Single-attempt policies surface the transport kind directly.
		kind = classifyTransportError(cause)
	default:
		// Keep the sentinel reachable through errors.Is alongside the
		// transport error that consumed the last attempt.
		cause = fmt.Errorf("%w: %w", ErrRetryExhausted, cause)
	}

	return nil, attempts, c.newError(kind, "all retry attempts failed", cause, correlationID, dependency, lastStatus, attempts, time.Since(start))
}

// attempt runs one network attempt under the per-attempt timeout, rewinding
// the request body when retrying.
func (c *Client) attempt(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var cancel context.CancelFunc
	if c.attemptTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}

	attemptReq := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		attemptReq.Body = body
	}

	return c.executeMiddleware(attemptReq)
}

func (c *Client) executeMiddleware(req *http.Request) (*http.Response, error) {
	if len(c.middleware) == 0 {
		return c.httpClient.Do(req)
	}

	current := RoundTripper(RoundTripperFunc(c.httpClient.Do))
	for i := len(c.middleware) - 1; i >= 0; i-- {
		mw := c.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return mw(r, next)
		})
	}
	return current.RoundTrip(req)
}

func (c *Client) recordBreakerState(cb *CircuitBreaker) {
	if c.metrics != nil {
		c.metrics.RecordBreakerState(cb.Name(), cb.State())
	}
}

func (c *Client) newError(kind, message string, cause error, correlationID, dependency string, status, attempts int, duration time.Duration) *BridgeError {
	return &BridgeError{
		Kind:          kind,
		Message:       message,
		Cause:         cause,
		CorrelationID: correlationID,
		Dependency:    dependency,
		StatusCode:    status,
		Attempts:      attempts,
		Duration:      duration,
		Timestamp:     time.Now(),
	}
}

// dependencyFromRequest names the downstream dependency a request targets.
// One breaker state machine exists per name.
func dependencyFromRequest(req *http.Request) string {
	if req.URL == nil || req.URL.Host == "" {
		return "unknown"
	}
	return req.URL.Host
}

func classifyTransportError(err error) string {
	if isTimeout(err) {
		return KindTimeout
	}
	return KindConnection
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// drain discards and closes a response body so the connection can be reused
// by the next attempt.
func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
