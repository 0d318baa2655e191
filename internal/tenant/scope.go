// Package tenant defines the tenant/project scope model and the request
// guard that enforces it at the HTTP boundary.
//
// A Scope names exactly one tenant and one project within it. Every
// vector-store operation and every cache entry is bound to a scope;
// requests without one fail closed.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Scope errors - fail closed.
var (
	// ErrMissingScope is returned when scope is absent from context.
	ErrMissingScope = errors.New("tenant scope missing from context")

	// ErrInvalidScope is returned when a scope identifier is malformed.
	ErrInvalidScope = errors.New("invalid tenant scope identifier")
)

// identifierPattern validates tenant and project identifiers.
// Pattern: lowercase alphanumeric start, then alphanumeric/underscore/hyphen,
// 1-64 characters.
var identifierPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Scope identifies a tenant and a project within it.
//
// Both fields are required. All data and cache entries are scoped to
// exactly one tenant; vector records are further scoped to project.
type Scope struct {
	TenantID  string
	ProjectID string
}

// Validate checks that both identifiers are present and well formed.
func (s Scope) Validate() error {
	if s.TenantID == "" || s.ProjectID == "" {
		return fmt.Errorf("%w: tenant and project required", ErrInvalidScope)
	}
	if !identifierPattern.MatchString(s.TenantID) {
		return fmt.Errorf("%w: tenant_id %q", ErrInvalidScope, s.TenantID)
	}
	if !identifierPattern.MatchString(s.ProjectID) {
		return fmt.Errorf("%w: project_id %q", ErrInvalidScope, s.ProjectID)
	}
	return nil
}

// scopeContextKey is the context key for Scope.
type scopeContextKey struct{}

// ContextWithScope adds a Scope to a context.
func ContextWithScope(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// ScopeFromContext extracts the Scope from a context.
// Returns ErrMissingScope if not present - fail closed.
func ScopeFromContext(ctx context.Context) (Scope, error) {
	val := ctx.Value(scopeContextKey{})
	if val == nil {
		return Scope{}, ErrMissingScope
	}
	scope, ok := val.(Scope)
	if !ok {
		return Scope{}, ErrMissingScope
	}
	return scope, nil
}

// String renders the scope as tenant/project for logs.
func (s Scope) String() string {
	return s.TenantID + "/" + s.ProjectID
}
