// Package tenant carries multi-tenant execution identity through
// context.Context. The identity is captured when a job is enqueued and
// restored around handler execution, so code running inside a job sees the
// same tenant scope as the producer that enqueued it.
package tenant

import "context"

type ctxKey struct{}

// Scope identifies the tenant on whose behalf work is performed.
type Scope struct {
	// TenantID is the owning tenant (organization) identifier.
	TenantID string
	// Provider names the external provider the work targets, when relevant
	// (e.g. a chat platform or VCS host). Empty for provider-agnostic work.
	Provider string
}

// WithScope attaches a tenant scope to the context.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext extracts the tenant scope from the context.
// The second return value reports whether a scope was present.
func FromContext(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(ctxKey{}).(Scope)
	return s, ok
}

// Capture extracts the tenant and provider identifiers from the context.
// Returns empty strings if no scope is present.
func Capture(ctx context.Context) (tenantID, provider string) {
	s, ok := FromContext(ctx)
	if !ok {
		return "", ""
	}
	return s.TenantID, s.Provider
}

// Restore attaches a scope to the context using the given identifiers.
// If both are empty, the context is returned unchanged (no-op).
func Restore(ctx context.Context, tenantID, provider string) context.Context {
	if tenantID == "" && provider == "" {
		return ctx
	}
	return WithScope(ctx, Scope{TenantID: tenantID, Provider: provider})
}
