// Package tenant scopes a tenant id to a single dispatch and carries the
// read-only per-message session snapshot.
//
// The binding is stored in the dispatch's context.Context, never in a
// package-level variable, so concurrent dispatches cannot observe each
// other's tenant. Release flips a flag shared by every context derived from
// the bound one: goroutines that captured the context see it as unbound once
// the dispatch ends.
package tenant

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrUnbound is returned by Require when no live tenant binding is present.
var ErrUnbound = errors.New("tenant: no tenant bound to context")

type tenantContextKey string

const scopeKey tenantContextKey = "tenant_scope"

// Scope is the guard returned by Bind. Call Release exactly once per Bind,
// typically via defer.
type Scope struct {
	tenantID string
	released atomic.Bool
}

// TenantID returns the tenant this scope binds.
func (s *Scope) TenantID() string { return s.tenantID }

// Release ends the binding. Safe to call more than once.
func (s *Scope) Release() {
	if s == nil {
		return
	}
	s.released.Store(true)
}

// Released reports whether Release has been called.
func (s *Scope) Released() bool {
	return s == nil || s.released.Load()
}

// Bind returns a child context bound to tenantID together with its release guard.
// An inner Bind shadows an outer one for the lifetime of the inner scope.
func Bind(ctx context.Context, tenantID string) (context.Context, *Scope) {
	s := &Scope{tenantID: tenantID}
	return context.WithValue(ctx, scopeKey, s), s
}

// FromContext returns the bound tenant id, or ("", false) if unbound or released.
func FromContext(ctx context.Context) (string, bool) {
	s, _ := ctx.Value(scopeKey).(*Scope)
	if s == nil || s.Released() || s.tenantID == "" {
		return "", false
	}
	return s.tenantID, true
}

// Require is the accessor every tenant-scoped storage call goes through.
func Require(ctx context.Context) (string, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return "", ErrUnbound
	}
	return id, nil
}

// Detach returns a context that keeps ctx's values but drops its cancellation
// and tenant binding. Used when handing work to background goroutines.
func Detach(ctx context.Context) context.Context {
	return context.WithValue(context.WithoutCancel(ctx), scopeKey, (*Scope)(nil))
}
