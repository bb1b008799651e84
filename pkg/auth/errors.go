package auth

import "errors"

// Errors returned by the auth service. Callers match them with errors.Is;
// they are usually wrapped with operation context.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrTokenExpired       = errors.New("refresh token expired")
	ErrTokenNotFound      = errors.New("token not found")
	ErrPasswordReused     = errors.New("new password must differ from the current password")
	ErrInvalidInput       = errors.New("invalid input")
	ErrMissingSecret      = errors.New("token signing secret is not configured")
)

// IsValidationError reports whether err is a client input problem.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrPasswordReused)
}
