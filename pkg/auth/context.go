package auth

import "context"

type callerKey struct{}

// WithCaller attaches the authenticated caller to the context.
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller attached by WithCaller, or nil when the
// request was not authenticated (bypass endpoints, disabled auth).
func CallerFrom(ctx context.Context) *Caller {
	c, _ := ctx.Value(callerKey{}).(*Caller)
	return c
}
