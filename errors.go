package homerelay

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds carried by BridgeError and surfaced as error_kind in
// OperationResult.
const (
	KindValidation          = "Validation"
	KindRateLimit           = "RateLimit"
	KindCircuitOpen         = "CircuitOpen"
	KindConnection          = "Connection"
	KindTimeout             = "Timeout"
	KindServer              = "Server"
	KindClient              = "Client"
	KindRetryExhausted      = "RetryExhausted"
	KindRetryBudgetExceeded = "RetryBudgetExceeded"
	KindDispatch            = "Dispatch"
)

// Sentinel errors for common failure scenarios
var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a call.
	ErrCircuitOpen = errors.New("homerelay: circuit open")

	// ErrRateLimited is returned when local admission control rejects a call.
	ErrRateLimited = errors.New("homerelay: rate limited")

	// ErrCacheMiss is a normal negative lookup result, not a failure.
	ErrCacheMiss = errors.New("homerelay: cache miss")

	// ErrRetryExhausted is returned when all attempts are consumed.
	ErrRetryExhausted = errors.New("homerelay: retry attempts exhausted")

	// ErrRetryBudgetExceeded is returned when the retry budget is exhausted.
	ErrRetryBudgetExceeded = errors.New("homerelay: retry budget exceeded")

	// ErrInvalidName is returned by the registry for an empty component name.
	ErrInvalidName = errors.New("homerelay: invalid component name")
)

// BridgeError is the structured error produced by the runtime. Kind is one of
// the Kind* constants and maps one-to-one onto OperationResult.ErrorKind.
type BridgeError struct {
	Kind          string
	Message       string
	Cause         error
	CorrelationID string
	Dependency    string
	StatusCode    int
	Attempts      int
	Duration      time.Duration
	Timestamp     time.Time
}

// Error implements error interface.
func (e *BridgeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.CorrelationID != "" {
		msg = fmt.Sprintf("[%s] %s", e.CorrelationID, msg)
	}
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s (attempts %d)", msg, e.Attempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *BridgeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error kinds for errors.Is.
func (e *BridgeError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*BridgeError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// IsTransient reports whether an error represents a failure that might
// succeed on a later invocation: admission rejections, transport failures
// and exhausted retries. Validation and dispatch errors are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrRetryExhausted) || errors.Is(err, ErrRetryBudgetExceeded) {
		return true
	}

	var be *BridgeError
	if errors.As(err, &be) {
		switch be.Kind {
		case KindConnection, KindTimeout, KindServer, KindRateLimit,
			KindCircuitOpen, KindRetryExhausted, KindRetryBudgetExceeded:
			return true
		case KindClient:
			return be.StatusCode == 429
		default:
			return false
		}
	}

	return false
}

// ErrorKind extracts the Kind from an error, falling back to mapping the
// sentinel errors. Unknown errors report as KindConnection since everything
// else the runtime produces is structured.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Kind
	}
	switch {
	case errors.Is(err, ErrRateLimited):
		return KindRateLimit
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, ErrRetryExhausted):
		return KindRetryExhausted
	case errors.Is(err, ErrRetryBudgetExceeded):
		return KindRetryBudgetExceeded
	}
	return KindConnection
}
