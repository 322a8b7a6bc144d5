package audit

import "context"

// Caller identifies where a request came from.
type Caller struct {
	Transport string // "http", "mcp" or "go"
	ClientIP  string
}

type callerKey struct{}

// WithCaller attaches caller details to ctx for audit events.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the caller attached by WithCaller, or a zero Caller.
func CallerFromContext(ctx context.Context) Caller {
	caller, _ := ctx.Value(callerKey{}).(Caller)
	return caller
}
