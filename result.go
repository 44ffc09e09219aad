package homerelay

import (
	"context"

	"github.com/google/uuid"
)

// OperationResult is the gateway's unit of output. Every Execute call
// terminates in a fully populated result: either Success with Data, or an
// Error message and machine-readable ErrorKind. Nothing crosses the gateway
// boundary as a raised error.
type OperationResult struct {
	Success       bool   `json:"success"`
	Data          any    `json:"data,omitempty"`
	Error         string `json:"error,omitempty"`
	ErrorKind     string `json:"error_kind,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	AttemptsUsed  int    `json:"attempts_used,omitempty"`
}

type contextKey string

const correlationIDKey contextKey = "homerelay_correlation_id"

// WithCorrelationID tags a context with a correlation ID so the network
// clients and logs carry it end to end.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext returns the correlation ID on ctx, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// EnsureCorrelationID returns the ID on ctx, generating one when absent.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := CorrelationIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithCorrelationID(ctx, id), id
}

func successResult(correlationID string, data any, attempts int) OperationResult {
	return OperationResult{
		Success:       true,
		Data:          data,
		CorrelationID: correlationID,
		AttemptsUsed:  attempts,
	}
}

func errorResult(correlationID string, err error) OperationResult {
	res := OperationResult{
		Success:       false,
		Error:         err.Error(),
		ErrorKind:     ErrorKind(err),
		CorrelationID: correlationID,
	}
	if be, ok := err.(*BridgeError); ok {
		res.AttemptsUsed = be.Attempts
	}
	return res
}

func dispatchErrorResult(correlationID, message string) OperationResult {
	return OperationResult{
		Success:       false,
		Error:         message,
		ErrorKind:     KindDispatch,
		CorrelationID: correlationID,
	}
}

func validationErrorResult(correlationID, message string) OperationResult {
	return OperationResult{
		Success:       false,
		Error:         message,
		ErrorKind:     KindValidation,
		CorrelationID: correlationID,
	}
}
