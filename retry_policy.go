package homerelay

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prasetyadi/homerelay/internal/backoff"
)

// RetryPolicy describes how many attempts a network call gets and how long to
// wait between them. It is an immutable value: reconfiguration replaces the
// whole policy via WithRetryPolicy, never mutates one in place.
type RetryPolicy struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
	RetriableStatuses map[int]bool
}

// DefaultRetryPolicy returns the stock policy: 3 attempts, 100ms base, 2.0x
// multiplier, retrying request-timeout, too-many-requests and the 5xx class.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BackoffBase:       100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        10 * time.Second,
		RetriableStatuses: map[int]bool{
			http.StatusRequestTimeout:  true,
			http.StatusTooManyRequests: true,
		},
	}
}

// Validate enforces the configuration contract ranges.
func (p RetryPolicy) Validate() error {
	var errs []string

	if p.MaxAttempts < 1 || p.MaxAttempts > 10 {
		errs = append(errs, "MaxAttempts must be between 1 and 10")
	}
	if p.BackoffBase < 50*time.Millisecond || p.BackoffBase > 1000*time.Millisecond {
		errs = append(errs, "BackoffBase must be between 50ms and 1000ms")
	}
	if p.BackoffMultiplier < 1.0 || p.BackoffMultiplier > 5.0 {
		errs = append(errs, "BackoffMultiplier must be between 1.0 and 5.0")
	}
	if p.MaxBackoff > 0 && p.MaxBackoff < p.BackoffBase {
		errs = append(errs, "MaxBackoff must be at least BackoffBase")
	}

	if len(errs) > 0 {
		return &BridgeError{
			Kind:      KindValidation,
			Message:   "retry policy validation failed",
			Cause:     fmt.Errorf("%v", errs),
			Timestamp: time.Now(),
		}
	}
	return nil
}

// Retriable reports whether an HTTP status should be retried: the configured
// set plus the whole 5xx class.
func (p RetryPolicy) Retriable(status int) bool {
	if status >= 500 {
		return true
	}
	return p.RetriableStatuses[status]
}

// BackoffFor returns the delay before retry number attempt (0-based). The
// sequence is geometric and deterministic: base * multiplier^attempt.
func (p RetryPolicy) BackoffFor(attempt int) time.Duration {
	return backoff.Delay(attempt, p.BackoffBase, p.MaxBackoff, p.BackoffMultiplier)
}

// MaxTotalBackoff returns the worst-case sleep the policy can insert into a
// single call. Callers keep this comfortably under the host execution
// ceiling.
func (p RetryPolicy) MaxTotalBackoff() time.Duration {
	return backoff.Total(p.MaxAttempts, p.BackoffBase, p.MaxBackoff, p.BackoffMultiplier)
}

// RetryBudget caps retries globally across calls within a trailing window,
// so a flapping dependency cannot consume the whole invocation budget on
// sleeps. Exhaustion is terminal for the call that hits it.
type RetryBudget struct {
	mu          sync.Mutex
	maxRetries  int
	window      time.Duration
	count       int
	windowStart time.Time
	now         func() time.Time
}

// NewRetryBudget allows at most maxRetries retries per trailing window.
func NewRetryBudget(maxRetries int, window time.Duration) *RetryBudget {
	return &RetryBudget{
		maxRetries:  maxRetries,
		window:      window,
		windowStart: time.Now(),
		now:         time.Now,
	}
}

// Allow consumes one unit of budget, resetting the window when it has
// elapsed.
func (rb *RetryBudget) Allow() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	now := rb.now()
	if now.Sub(rb.windowStart) >= rb.window {
		rb.windowStart = now
		rb.count = 0
	}

	if rb.count >= rb.maxRetries {
		return false
	}
	rb.count++
	return true
}

// Remaining returns how many retries are left in the current window.
func (rb *RetryBudget) Remaining() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.now().Sub(rb.windowStart) >= rb.window {
		return rb.maxRetries
	}
	return rb.maxRetries - rb.count
}
