package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// TokenTypeAccess is the value of the "type" claim on access tokens.
const TokenTypeAccess = "ACCESS"

// signingMethod is the only algorithm issued and accepted.
var signingMethod = jwt.SigningMethodHS512

// AccessClaims is the JWT payload of an access token.
type AccessClaims struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	Roles    []Role `json:"roles"`
	Type     string `json:"type"`
	jwt.RegisteredClaims
}

// Issuer signs access tokens. It is stateless and safe for concurrent use.
type Issuer struct {
	secret  []byte
	subject string
	ttl     time.Duration
	clock   clockwork.Clock
}

// NewIssuer creates an issuer from cfg. An empty secret is a configuration
// error.
func NewIssuer(cfg Config, clock clockwork.Clock) (*Issuer, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.AccessTokenTTL <= 0 {
		return nil, fmt.Errorf("access token TTL must be positive, got %s", cfg.AccessTokenTTL)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Issuer{
		secret:  []byte(cfg.Secret),
		subject: cfg.Subject,
		ttl:     cfg.AccessTokenTTL,
		clock:   clock,
	}, nil
}

// TTL returns the lifetime of issued tokens
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// IssueAccessToken signs a new access token for user. It returns the signed
// token together with its expiry so the caller can persist a matching record.
func (i *Issuer) IssueAccessToken(user *User) (string, time.Time, error) {
	if user == nil {
		return "", time.Time{}, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}

	now := i.clock.Now().UTC().Truncate(time.Second)
	expiresAt := now.Add(i.ttl)

	claims := AccessClaims{
		UserID:   user.ID,
		Username: user.Username,
		Roles:    user.Roles,
		Type:     TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.subject,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			// Unique per token, so two tokens issued in the same second differ
			ID: uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// keyFunc returns the verification key, rejecting any non-HMAC algorithm.
func (i *Issuer) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return i.secret, nil
}

// Parse verifies signature and expiry of token and returns its claims.
func (i *Issuer) Parse(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(token, claims, i.keyFunc,
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
