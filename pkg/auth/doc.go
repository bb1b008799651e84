// Package auth implements storefront authentication and the token lifecycle.
//
// # Overview
//
// A session consists of a short-lived access token (an HS512 JWT whose
// issuance is also recorded in the store) and a long-lived, human-readable
// refresh token. Access tokens are accepted only while their stored record is
// neither expired nor revoked, which makes revocation immediate.
//
// # Key Components
//
// Issuer: signs access tokens with claims id, username, roles, type=ACCESS
// and a unique jti.
//
//	issuer, err := auth.NewIssuer(cfg, clock)
//	token, expiresAt, err := issuer.IssueAccessToken(user)
//
// Validator: resolves a bearer token to a user. Routine invalidity is
// reported as a nil user, never as an error.
//
//	user, err := validator.CheckToken(ctx, token, ip, userAgent)
//
// RefreshTokenManager: creates XXXX-XXXX-XXXX-XXXX tokens and runs the
// two-phase expiry (mark, then delete) used by the cleanup scheduler.
//
// AccessTokenCleaner: the same two phases for access tokens; revoked tokens
// are deleted along with expired ones.
//
// Service: Signup, Login, Refresh, Logout and ResetPassword. Each runs its
// store mutations in one transaction.
//
// # Token Rotation
//
// Refresh revokes every access token of the owner before issuing a new one,
// so at most one access token per user is valid right after a refresh. The
// refresh token itself is not rotated. Login does not revoke earlier
// sessions.
//
// # Roles
//
// Users carry an ordered set of roles (USER, CUSTOMER, ADMIN). Every signup
// receives USER; elevated roles are granted out of band.
package auth
