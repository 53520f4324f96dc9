// ABOUTME: Authenticated identity carried through request handlers
// ABOUTME: Provides WithIdentity/IdentityFromContext for propagating auth info via context

package auth

import (
	"context"
	"time"
)

// Identity describes the caller of an authenticated request.
type Identity struct {
	Subject         string    // "bearer" for shared secrets, the JWT sub claim otherwise
	AuthenticatedAt time.Time // when the middleware accepted the request
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext retrieves the Identity from the context, returning nil if not present.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
