package core

import "context"

type runIDKey struct{}

// WithRunID returns a context carrying the identifier of the run a call
// belongs to. Tools use it to scope the artifacts they produce.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext extracts the run identifier, or "" when absent.
func RunIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey{}).(string); ok {
		return v
	}
	return ""
}
