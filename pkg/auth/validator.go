package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/mobilyecommerce/storefront/pkg/observability"
	"github.com/mobilyecommerce/storefront/pkg/storage"
)

// Validator decides whether a presented access token authenticates a user.
type Validator struct {
	issuer  *Issuer
	repos   Repositories
	binding DeviceBinding
	clock   clockwork.Clock
	logger  *observability.Logger
}

// NewValidator creates a validator. Tokens are verified with the issuer's key.
func NewValidator(issuer *Issuer, repos Repositories, binding DeviceBinding, clock clockwork.Clock, logger *observability.Logger) *Validator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if binding == "" {
		binding = DeviceBindingNone
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Validator{
		issuer:  issuer,
		repos:   repos,
		binding: binding,
		clock:   clock,
		logger:  logger,
	}
}

// CheckToken returns the user a token authenticates.
//
// Routine invalidity (bad signature, malformed, expired, wrong type, unknown,
// revoked, device mismatch) yields (nil, nil). ErrUserNotFound is returned
// when the token is valid but its owner no longer exists. Any other error is
// a store failure.
func (v *Validator) CheckToken(ctx context.Context, token, ipAddress, userAgent string) (*User, error) {
	if token == "" {
		return nil, nil
	}

	claims, err := v.issuer.Parse(token)
	if err != nil {
		v.logger.WithField("reason", parseFailureReason(err)).Debug("access token rejected")
		return nil, nil
	}
	if claims.Type != TokenTypeAccess {
		v.logger.WithField("type", claims.Type).Debug("access token rejected: wrong type")
		return nil, nil
	}

	record, err := v.repos.AccessTokens().GetByToken(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		v.logger.Debug("access token rejected: not on record")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load access token: %w", err)
	}
	if !record.Usable(v.clock.Now()) {
		v.logger.WithFields(map[string]interface{}{
			"token_id": record.ID,
			"expired":  record.Expired,
			"revoked":  record.Revoked,
		}).Debug("access token rejected: no longer usable")
		return nil, nil
	}
	if !v.deviceMatches(record, ipAddress, userAgent) {
		v.logger.WithFields(map[string]interface{}{
			"token_id": record.ID,
			"binding":  string(v.binding),
		}).Warn("access token presented from a different device")
		return nil, nil
	}

	user, err := v.repos.Users().GetByUsername(ctx, claims.Username)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, claims.Username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token owner: %w", err)
	}
	return user, nil
}

func (v *Validator) deviceMatches(record *AccessToken, ipAddress, userAgent string) bool {
	switch v.binding {
	case DeviceBindingStrict:
		return record.IPAddress == ipAddress && record.UserAgent == userAgent
	case DeviceBindingUserAgent:
		return record.UserAgent == userAgent
	default:
		return true
	}
}

// parseFailureReason maps a JWT error to a log-friendly category.
func parseFailureReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unverifiable"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "missing_claim"
	default:
		return "invalid"
	}
}
