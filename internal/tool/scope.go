package tool

import "context"

type scopeKey struct{}

// DefaultMemoryScope is used when no session scope is attached to the context.
const DefaultMemoryScope = "default"

// WithMemoryScope attaches the memory scope the memory tools read and write.
func WithMemoryScope(ctx context.Context, scope string) context.Context {
	if scope == "" {
		return ctx
	}
	return context.WithValue(ctx, scopeKey{}, scope)
}

// MemoryScopeFrom returns the attached scope, or DefaultMemoryScope.
func MemoryScopeFrom(ctx context.Context) string {
	if scope, ok := ctx.Value(scopeKey{}).(string); ok && scope != "" {
		return scope
	}
	return DefaultMemoryScope
}
