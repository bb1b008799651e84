// Package middleware provides HTTP admission control and authentication.
//
// # Rate limiting
//
// RateLimitMiddleware runs first and asks an Admitter for a token from the
// bucket of (client, endpoint class). The client key is the client address
// joined with its User-Agent. Login and signup form the auth class (3 requests
// per 10 minutes); everything else is general (60 per 15 minutes). Buckets
// refill continuously.
//
//	limiter, _ := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig(), nil, nil, metrics)
//	handler = middleware.NewRateLimitMiddleware(limiter, audit, logger, metrics).Handler(handler)
//
// RateLimiter keeps buckets in process in a size-capped BucketRegistry.
// DistributedRateLimiter keeps them in Redis and admits requests when Redis
// is unreachable.
//
// # Authentication
//
// AuthMiddleware validates an optional bearer token and stores the user in the
// request context. Routes opt into enforcement with RequireAuth or
// RequireRole.
package middleware
