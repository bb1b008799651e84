package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/mobilyecommerce/storefront/pkg/auth"
	"github.com/mobilyecommerce/storefront/pkg/contextkeys"
	"github.com/mobilyecommerce/storefront/pkg/httputil"
	"github.com/mobilyecommerce/storefront/pkg/observability"
)

// TokenChecker resolves a bearer token to its user
type TokenChecker interface {
	CheckToken(ctx context.Context, token, ipAddress, userAgent string) (*auth.User, error)
}

// DefaultPublicPaths never carry credentials worth checking
var DefaultPublicPaths = []string{
	"/api/v1/auth/login",
	"/api/v1/auth/signup",
	"/api/v1/auth/reset-password",
}

// AuthMiddleware attaches the authenticated user to requests carrying a valid
// bearer token. Requests without one, or with an invalid one, continue
// anonymously; RequireAuth and RequireRole enforce access per route.
type AuthMiddleware struct {
	validator   TokenChecker
	publicPaths []string
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(validator TokenChecker, publicPaths []string, logger *observability.Logger, metrics *observability.Metrics) *AuthMiddleware {
	if publicPaths == nil {
		publicPaths = DefaultPublicPaths
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AuthMiddleware{
		validator:   validator,
		publicPaths: publicPaths,
		logger:      logger.WithField("component", "auth_middleware"),
		metrics:     metrics,
	}
}

func (m *AuthMiddleware) isPublic(path string) bool {
	for _, p := range m.publicPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.isPublic(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := httputil.BearerToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		user, err := m.validator.CheckToken(r.Context(), token, httputil.ClientIP(r), r.UserAgent())
		switch {
		case errors.Is(err, auth.ErrUserNotFound):
			m.metrics.RecordTokenValidation("owner_missing")
			m.logger.WithError(err).Warn("token owner no longer exists")
			next.ServeHTTP(w, r)
			return
		case err != nil:
			m.metrics.RecordTokenValidation("error")
			m.logger.WithError(err).Error("token validation failed")
			httputil.WriteInternalError(w)
			return
		case user == nil:
			m.metrics.RecordTokenValidation("invalid")
			next.ServeHTTP(w, r)
			return
		}
		m.metrics.RecordTokenValidation("valid")

		ctx := auth.WithAuthContext(r.Context(), &auth.AuthContext{User: user, Token: token})
		ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(user.ID, 10))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	return auth.AuthContextFrom(r.Context())
}

// RequireAuth rejects anonymous requests with 401
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authCtx := GetAuthContext(r); authCtx == nil || authCtx.User == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects anonymous requests with 401 and users lacking role with 403
func RequireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := GetAuthContext(r)
			if authCtx == nil || authCtx.User == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			if !authCtx.HasRole(role) {
				httputil.WriteForbidden(w, "insufficient role permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
