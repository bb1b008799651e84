// Package contextkeys holds every context key shared across packages.
//
// Keys live here so that middleware setting a value and handlers reading it
// never disagree on the key, and so that pkg/auth, pkg/middleware and
// pkg/observability do not import each other just for a key.
//
//	ctx = contextkeys.WithAuth(ctx, authCtx)
//	authCtx, _ := ctx.Value(contextkeys.AuthKey).(*auth.AuthContext)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey contains *auth.AuthContext.
	// Set by middleware.AuthMiddleware once a bearer token validated.
	// Absent for anonymous requests.
	AuthKey Key = "auth_context"

	// RequestIDKey contains the request ID string (UUID).
	// Set by httputil.RequestIDMiddleware.
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user ID as a string.
	// Set by middleware.AuthMiddleware, read by the logger.
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger.
	LoggerKey Key = "logger"

	// ClientKeyKey contains the rate limiter client key (ip|user-agent).
	// Set by middleware.RateLimitMiddleware.
	ClientKeyKey Key = "client_key"
)

// WithAuth adds authentication context to the context
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithClientKey adds the rate limiter client key to the context
func WithClientKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ClientKeyKey, key)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// GetClientKey retrieves the rate limiter client key from context
func GetClientKey(ctx context.Context) string {
	if key, ok := ctx.Value(ClientKeyKey).(string); ok {
		return key
	}
	return ""
}
