package api

import (
	"context"

	"github.com/nidohq/nido/store"
)

type contextKey int

const (
	contextKeyUser contextKey = iota
	contextKeyOrg
)

// SetUserContext returns a new context with the user attached.
func SetUserContext(ctx context.Context, u *store.User) context.Context {
	return context.WithValue(ctx, contextKeyUser, u)
}

// UserFromContext extracts the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *store.User {
	u, _ := ctx.Value(contextKeyUser).(*store.User)
	return u
}

// SetOrgContext returns a new context with the organization attached.
func SetOrgContext(ctx context.Context, o *store.Organization) context.Context {
	return context.WithValue(ctx, contextKeyOrg, o)
}

// OrgFromContext extracts the resolved organization from context, or nil.
func OrgFromContext(ctx context.Context) *store.Organization {
	o, _ := ctx.Value(contextKeyOrg).(*store.Organization)
	return o
}
