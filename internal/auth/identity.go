package auth

import (
	"context"
	"slices"

	"github.com/jjudge-oj/authserver/types"
)

type contextKey struct {
	name string
}

var identityCtxKey = &contextKey{"identity"}

// Identity is the caller resolved from a valid token. It lives in the
// request context for the duration of one request.
type Identity struct {
	UserID      int
	Email       string
	Role        types.Role
	Authorities []string
}

// NewIdentity derives the identity of a stored user.
func NewIdentity(user types.User) Identity {
	return Identity{
		UserID:      user.ID,
		Email:       user.Email,
		Role:        user.Role,
		Authorities: types.AuthoritiesFor(user.Role),
	}
}

func (i Identity) HasAuthority(authority string) bool {
	return slices.Contains(i.Authorities, authority)
}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey, identity)
}

// IdentityFromContext returns the identity bound to ctx, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityCtxKey).(Identity)
	return identity, ok
}
