package auth

import (
	"context"

	"github.com/mobilyecommerce/storefront/pkg/contextkeys"
)

// WithAuthContext stores the authenticated user of a request in ctx.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return contextkeys.WithAuth(ctx, ac)
}

// AuthContextFrom returns the authentication context, or nil for anonymous
// requests.
func AuthContextFrom(ctx context.Context) *AuthContext {
	ac, _ := ctx.Value(contextkeys.AuthKey).(*AuthContext)
	return ac
}

// UserFrom returns the authenticated user, or nil.
func UserFrom(ctx context.Context) *User {
	if ac := AuthContextFrom(ctx); ac != nil {
		return ac.User
	}
	return nil
}
