package homerelay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// socketConn is one persistent connection. The production implementation
// wraps a websocket; tests substitute fakes through the dial seam.
type socketConn interface {
	Send(ctx context.Context, v any) error
	Receive(ctx context.Context, v any) error
	Close() error
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Send(ctx context.Context, v any) error {
	return wsjson.Write(ctx, w.c, v)
}

func (w *wsConn) Receive(ctx context.Context, v any) error {
	return wsjson.Read(ctx, w.c, v)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "done")
}

// SocketClient is the retrying client for persistent-connection endpoints.
// It shares the admission flow of the HTTP Client: rate limiter then breaker
// once per call, then bounded attempts with deterministic backoff.
type SocketClient struct {
	dial           func(ctx context.Context, target string) (socketConn, error)
	attemptTimeout time.Duration
	policy         RetryPolicy
	budget         *RetryBudget
	rateLimiter    *RateLimiter
	breakers       *breakerSet
	metrics        *MetricsCollector
	logger         Logger
	sleep          func(time.Duration)
}

// NewSocketClient constructs a SocketClient from functional options.
func NewSocketClient(options ...Option) *SocketClient {
	s := defaultSettings()
	for _, option := range options {
		option(s)
	}
	return newSocketClientFromSettings(s)
}

func newSocketClientFromSettings(s *settings) *SocketClient {
	return &SocketClient{
		dial:           websocketDialer(s.httpClient),
		attemptTimeout: s.attemptTimeout,
		policy:         s.policy,
		budget:         s.budget,
		rateLimiter:    s.limiter(),
		breakers:       s.breakerSet(),
		metrics:        s.metrics,
		logger:         s.logger,
		sleep:          time.Sleep,
	}
}

func websocketDialer(hc *http.Client) func(ctx context.Context, target string) (socketConn, error) {
	return func(ctx context.Context, target string) (socketConn, error) {
		conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
			HTTPClient: hc,
		})
		if err != nil {
			return nil, err
		}
		return &wsConn{c: conn}, nil
	}
}

// SocketSession is an explicitly managed persistent connection for callers
// that need more than one exchange. Close is idempotent.
type SocketSession struct {
	conn       socketConn
	client     *SocketClient
	dependency string
	closed     bool
}

// Connect dials a persistent connection, going through the same admission
// checks as every other network call.
func (sc *SocketClient) Connect(ctx context.Context, target string) (*SocketSession, error) {
	correlationID := CorrelationIDFromContext(ctx)
	dependency := dependencyFromTarget(target)

	if !sc.rateLimiter.Allow() {
		return nil, sc.newError(KindRateLimit, "admission rejected by rate limiter", ErrRateLimited, correlationID, dependency, 0)
	}

	breaker := sc.breakers.For(dependency)
	if !breaker.Allow() {
		return nil, sc.newError(KindCircuitOpen, "circuit breaker is open", ErrCircuitOpen, correlationID, dependency, 0)
	}

	dctx, cancel := context.WithTimeout(ctx, sc.attemptTimeout)
	defer cancel()

	conn, err := sc.dial(dctx, target)
	if err != nil {
		breaker.RecordFailure()
		return nil, sc.newError(classifyTransportError(err), "connect failed", err, correlationID, dependency, 1)
	}

	breaker.RecordSuccess()
	return &SocketSession{
		conn:       conn,
		client:     sc,
		dependency: dependency,
	}, nil
}

// Send writes one JSON message under the per-attempt timeout.
func (ss *SocketSession) Send(ctx context.Context, v any) error {
	sctx, cancel := context.WithTimeout(ctx, ss.client.attemptTimeout)
	defer cancel()
	return ss.conn.Send(sctx, v)
}

// Receive reads one JSON message under the per-attempt timeout.
func (ss *SocketSession) Receive(ctx context.Context, v any) error {
	rctx, cancel := context.WithTimeout(ctx, ss.client.attemptTimeout)
	defer cancel()
	return ss.conn.Receive(rctx, v)
}

// Close closes the connection. Safe to call more than once.
func (ss *SocketSession) Close() error {
	if ss.closed {
		return nil
	}
	ss.closed = true
	return ss.conn.Close()
}

// Request composes connect → send → receive → close as one unit, decoding
// the reply into out. The connection is closed on every path, success or
// failure, so no error ever leaks a connection. Returns the number of
// attempts consumed.
func (sc *SocketClient) Request(ctx context.Context, target string, payload, out any) (int, error) {
	correlationID := CorrelationIDFromContext(ctx)
	dependency := dependencyFromTarget(target)

	if !sc.rateLimiter.Allow() {
		if sc.metrics != nil {
			sc.metrics.RecordError(KindRateLimit, "WS", dependency)
		}
		return 0, sc.newError(KindRateLimit, "admission rejected by rate limiter", ErrRateLimited, correlationID, dependency, 0)
	}

	breaker := sc.breakers.For(dependency)
	if !breaker.Allow() {
		if sc.metrics != nil {
			sc.metrics.RecordError(KindCircuitOpen, "WS", dependency)
		}
		return 0, sc.newError(KindCircuitOpen, "circuit breaker is open", ErrCircuitOpen, correlationID, dependency, 0)
	}

	var lastErr error
	for attempt := 1; attempt <= sc.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if sc.logger != nil {
				sc.logger.Info("retry attempt", "correlationID", correlationID, "attempt", attempt, "dependency", dependency)
			}
			if sc.metrics != nil {
				sc.metrics.RecordRetry("WS", dependency, attempt)
			}
		}

		err := sc.exchange(ctx, target, payload, out)
		if err == nil {
			breaker.RecordSuccess()
			return attempt, nil
		}

		breaker.RecordFailure()
		lastErr = err
		if sc.metrics != nil {
			sc.metrics.RecordError(classifyTransportError(err), "WS", dependency)
		}

		if attempt == sc.policy.MaxAttempts {
			break
		}

		if sc.budget != nil && !sc.budget.Allow() {
			return attempt, sc.newError(KindRetryBudgetExceeded, "retry budget exceeded", ErrRetryBudgetExceeded, correlationID, dependency, attempt)
		}

		sc.sleep(sc.policy.BackoffFor(attempt - 1))
	}

	attempts := sc.policy.MaxAttempts
	kind := KindRetryExhausted
	cause := lastErr
	if attempts == 1 {
		kind = classifyTransportError(lastErr)
	} else {
		cause = fmt.Errorf("%w: %w", ErrRetryExhausted, lastErr)
	}
	return attempts, sc.newError(kind, "all attempts failed", cause, correlationID, dependency, attempts)
}

// exchange performs one attempt: dial, send, receive, close. The deferred
// close runs on every exit path.
func (sc *SocketClient) exchange(ctx context.Context, target string, payload, out any) error {
	actx, cancel := context.WithTimeout(ctx, sc.attemptTimeout)
	defer cancel()

	conn, err := sc.dial(actx, target)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()

	if err := conn.Send(actx, payload); err != nil {
		return err
	}
	return conn.Receive(actx, out)
}

func (sc *SocketClient) newError(kind, message string, cause error, correlationID, dependency string, attempts int) *BridgeError {
	return &BridgeError{
		Kind:          kind,
		Message:       message,
		Cause:         cause,
		CorrelationID: correlationID,
		Dependency:    dependency,
		Attempts:      attempts,
		Timestamp:     time.Now(),
	}
}

// dependencyFromTarget names the downstream dependency a socket target hits.
func dependencyFromTarget(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}
