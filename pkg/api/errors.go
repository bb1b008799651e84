package api

import (
	"errors"
	"net/http"

	"github.com/mobilyecommerce/storefront/pkg/auth"
	"github.com/mobilyecommerce/storefront/pkg/contextkeys"
	"github.com/mobilyecommerce/storefront/pkg/httputil"
	"github.com/mobilyecommerce/storefront/pkg/observability"
)

// statusFor maps an auth error to its HTTP status. Unknown errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrUserAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, auth.ErrUserNotFound), errors.Is(err, auth.ErrTokenNotFound):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrTokenExpired), auth.IsValidationError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// messageFor returns the client-facing message for a mapped error. Login
// failures never say which half of the credentials was wrong.
func messageFor(err error) string {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "invalid credentials"
	case errors.Is(err, auth.ErrUserNotFound):
		return "user not found"
	case errors.Is(err, auth.ErrTokenNotFound):
		return "token not found"
	case errors.Is(err, auth.ErrTokenExpired):
		return "refresh token is expired or invalid"
	default:
		return err.Error()
	}
}

// writeError writes the mapped response for err and logs unexpected ones.
func writeError(w http.ResponseWriter, r *http.Request, logger *observability.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		entry := logger.WithError(err).WithField("path", r.URL.Path)
		if requestID := contextkeys.GetRequestID(r.Context()); requestID != "" {
			entry = entry.WithField("request_id", requestID)
		}
		entry.Error("request failed")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteRequestError(w, r, status, messageFor(err))
}
