package logging

import (
	"context"

	"github.com/google/uuid"
)

type correlationIDKey struct{}

// WithCorrelationID attaches id to ctx, so every log line emitted further
// down the call chain through RedactingHandler carries it automatically.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationIDFromContext retrieves the correlation ID attached by
// WithCorrelationID, if any.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationIDKey{}).(string)
	return id, ok
}

// NewCorrelationID generates a new request-scoped correlation ID, used
// whenever a code path needs to start a fresh chain (no ID in the incoming
// context yet).
func NewCorrelationID() string {
	return "req_" + uuid.New().String()[:12]
}

// EnsureCorrelationID returns ctx unchanged if it already carries a
// correlation ID, otherwise attaches a freshly generated one.
func EnsureCorrelationID(ctx context.Context) context.Context {
	if _, ok := CorrelationIDFromContext(ctx); ok {
		return ctx
	}
	return WithCorrelationID(ctx, NewCorrelationID())
}
