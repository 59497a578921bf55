package types

import "context"

// contextKey is a private type so context values cannot collide with keys
// from other packages.
type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID stores the request/invocation ID in the context for trace
// propagation to outbound calls and log lines.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID returns the request ID from the context, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
