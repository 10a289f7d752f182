package tools

import "context"

// Caller identifies who a capability is acting for. Handlers that
// create tasks or deliver messages need it; purely functional
// capabilities ignore it.
type Caller struct {
	UserID         string
	ConversationID string
}

type callerKey struct{}

// WithCaller attaches the caller identity to ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the caller identity, if any.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
