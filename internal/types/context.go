package types

import "context"

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// WithCorrelationID stores the correlation ID in the context. The ID follows
// one unit of work (a request or one queue record) across the pipeline and
// into dead-letter attributes and notifications.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// GetCorrelationID retrieves the correlation ID from the context, or ""
// if none was set.
func GetCorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}
