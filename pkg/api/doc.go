// Package api exposes the storefront authentication endpoints over HTTP.
//
// # Routes
//
// Public:
//
//	POST /api/v1/auth/login            {identifier, password}
//	POST /api/v1/auth/signup           {username, email, password, phone}
//	POST /api/v1/auth/refresh          {refreshToken}
//	POST /api/v1/auth/reset-password   {identifier, newPassword}
//	GET  /api/v1/auth/token-info
//	GET  /api/v1/auth/test-ip
//
// Authenticated:
//
//	POST /api/v1/auth/logout
//	GET  /api/v1/auth/me
//
// ADMIN role:
//
//	POST /api/v1/admin/token-cleanup/{access-tokens|refresh-tokens}/mark-expired
//	POST /api/v1/admin/token-cleanup/{access-tokens|refresh-tokens}/delete-expired
//	POST /api/v1/admin/token-cleanup/{access-tokens|refresh-tokens}/cleanup-now
//
// # Errors
//
// Auth errors map to statuses one to one: invalid credentials 401, existing
// user 409, unknown user or token 404, expired token and invalid input 400.
// Anything else is a 500 with a generic body; the cause is only logged.
//
// # Usage
//
//	server, err := api.NewServer(api.ServerDeps{
//		Service:        service,
//		Validator:      validator,
//		AccessCleaner:  accessCleaner,
//		RefreshCleaner: refreshManager,
//		Limiter:        limiter,
//		Logger:         logger,
//	})
//	http.ListenAndServe(":8080", server)
package api
