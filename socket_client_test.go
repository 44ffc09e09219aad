package homerelay

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeConn scripts one persistent-connection attempt.
type fakeConn struct {
	sendErr    error
	receiveErr error
	reply      string
	replyMap   map[string]any
	closes     *int
}

func (f *fakeConn) Send(ctx context.Context, v any) error {
	return f.sendErr
}

func (f *fakeConn) Receive(ctx context.Context, v any) error {
	if f.receiveErr != nil {
		return f.receiveErr
	}
	switch p := v.(type) {
	case *string:
		*p = f.reply
	case *map[string]any:
		*p = f.replyMap
	}
	return nil
}

func (f *fakeConn) Close() error {
	*f.closes++
	return nil
}

func socketClientForTest(dial func(ctx context.Context, target string) (socketConn, error), options ...Option) *SocketClient {
	sc := NewSocketClient(options...)
	sc.dial = dial
	sc.sleep = func(time.Duration) {}
	return sc
}

func TestSocketRequestSuccess(t *testing.T) {
	closes := 0
	sc := socketClientForTest(func(ctx context.Context, target string) (socketConn, error) {
		return &fakeConn{reply: "pong", closes: &closes}, nil
	})

	var out string
	attempts, err := sc.Request(context.Background(), "ws://ha.local:8123/api/websocket", "ping", &out)
	if err != nil {
		t.Fatalf("Request() error: %v", err)
	}
	if out != "pong" {
		t.Errorf("Expected pong, got %q", out)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
	if closes != 1 {
		t.Errorf("Expected connection closed exactly once, got %d", closes)
	}
}

func TestSocketRequestClosesOnReceiveTimeout(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = 1

	closes := 0
	sc := socketClientForTest(func(ctx context.Context, target string) (socketConn, error) {
		return &fakeConn{receiveErr: context.DeadlineExceeded, closes: &closes}, nil
	}, WithRetryPolicy(policy))

	var out string
	_, err := sc.Request(context.Background(), "ws://ha.local:8123/api/websocket", "ping", &out)
	if err == nil {
		t.Fatal("Expected timeout error")
	}

	var be *BridgeError
	if !errors.As(err, &be) || be.Kind != KindTimeout {
		t.Errorf("Expected Timeout kind, got %v", err)
	}
	if closes != 1 {
		t.Errorf("Expected close invoked exactly once despite receive failure, got %d", closes)
	}
}

func TestSocketRequestClosesOnSendFailure(t *testing.T) {
	closes := 0
	dials := 0
	sc := socketClientForTest(func(ctx context.Context, target string) (socketConn, error) {
		dials++
		return &fakeConn{sendErr: errors.New("broken pipe"), closes: &closes}, nil
	})

	var out string
	attempts, err := sc.Request(context.Background(), "ws://ha.local:8123/api/websocket", "ping", &out)
	var be *BridgeError
	if !errors.As(err, &be) || be.Kind != KindRetryExhausted {
		t.Fatalf("Expected RetryExhausted kind, got %v", err)
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted in the chain, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	if dials != 3 || closes != 3 {
		t.Errorf("Expected one close per dialed attempt, dials=%d closes=%d", dials, closes)
	}
}

func TestSocketRequestRetriesThenSucceeds(t *testing.T) {
	closes := 0
	dials := 0
	sc := socketClientForTest(func(ctx context.Context, target string) (socketConn, error) {
		dials++
		if dials < 3 {
			return nil, errors.New("connection refused")
		}
		return &fakeConn{reply: "pong", closes: &closes}, nil
	})

	var out string
	attempts, err := sc.Request(context.Background(), "ws://ha.local:8123/api/websocket", "ping", &out)
	if err != nil {
		t.Fatalf("Request() error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	if closes != 1 {
		t.Errorf("Expected only the successful dial closed, got %d", closes)
	}
}

func TestSocketRequestRateLimited(t *testing.T) {
	dials := 0
	sc := socketClientForTest(func(ctx context.Context, target string) (socketConn, error) {
		dials++
		return nil, errors.New("unreachable")
	}, WithRateLimit(1, time.Second))
	sc.rateLimiter.Allow() // exhaust the window

	var out string
	_, err := sc.Request(context.Background(), "ws://ha.local:8123/api/websocket", "ping", &out)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Expected ErrRateLimited, got %v", err)
	}
	if dials != 0 {
		t.Errorf("Expected no dial when rate limited, got %d", dials)
	}
}

func TestSocketRequestCircuitOpen(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.MaxAttempts = 1

	dials := 0
	sc := socketClientForTest(func(ctx context.Context, target string) (socketConn, error) {
		dials++
		return nil, errors.New("connection refused")
	}, WithRetryPolicy(policy), WithCircuitBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 45 * time.Second}))

	var out string
	if _, err := sc.Request(context.Background(), "ws://ha.local:8123/api/websocket", "ping", &out); err == nil {
		t.Fatal("Expected first request to fail")
	}

	_, err := sc.Request(context.Background(), "ws://ha.local:8123/api/websocket", "ping", &out)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Expected ErrCircuitOpen, got %v", err)
	}
	if dials != 1 {
		t.Errorf("Expected zero I/O while open, dials=%d", dials)
	}
}

func TestSocketSessionLifecycle(t *testing.T) {
	closes := 0
	sc := socketClientForTest(func(ctx context.Context, target string) (socketConn, error) {
		return &fakeConn{reply: "event", closes: &closes}, nil
	})

	sess, err := sc.Connect(context.Background(), "ws://ha.local:8123/api/websocket")
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	if err := sess.Send(context.Background(), "subscribe"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	var out string
	if err := sess.Receive(context.Background(), &out); err != nil {
		t.Fatalf("Receive() error: %v", err)
	}
	if out != "event" {
		t.Errorf("Expected event, got %q", out)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Second Close() should be a no-op, got %v", err)
	}
	if closes != 1 {
		t.Errorf("Expected exactly one underlying close, got %d", closes)
	}
}
