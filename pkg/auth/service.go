package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mobilyecommerce/storefront/pkg/observability"
	"github.com/mobilyecommerce/storefront/pkg/storage"
)

var serviceTracer = otel.Tracer("storefront/auth/service")

// Input limits match the column widths of the users table. bcrypt ignores
// everything past MaxPasswordBytes and refuses to hash longer input.
const (
	MaxPasswordBytes = 72
	MaxUsernameLen   = 100
	MaxEmailLen      = 255
	MaxPhoneLen      = 32
)

// SignupRequest carries the fields of a new account
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
}

// ServiceDeps are the collaborators of Service. Store, Issuer, Refresh and
// Hasher are required.
type ServiceDeps struct {
	Store         Store
	Issuer        *Issuer
	Refresh       *RefreshTokenManager
	Hasher        PasswordHasher
	Authenticator Authenticator
	Audit         *AuditLogger
	Clock         clockwork.Clock
	Logger        *observability.Logger
	Metrics       *observability.Metrics
}

// Service implements signup, login, refresh, logout and password reset.
// Every multi-step state change runs in one store transaction.
type Service struct {
	store         Store
	issuer        *Issuer
	refresh       *RefreshTokenManager
	hasher        PasswordHasher
	authenticator Authenticator
	audit         *AuditLogger
	clock         clockwork.Clock
	logger        *observability.Logger
	metrics       *observability.Metrics
}

// NewService wires the auth service. A PasswordAuthenticator over the store
// is used when deps.Authenticator is nil.
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Store == nil || deps.Issuer == nil || deps.Refresh == nil || deps.Hasher == nil {
		return nil, fmt.Errorf("auth service requires store, issuer, refresh manager and hasher")
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	if deps.Authenticator == nil {
		deps.Authenticator = NewPasswordAuthenticator(deps.Store.Users(), deps.Hasher)
	}
	if deps.Audit == nil {
		deps.Audit = NewAuditLogger(deps.Logger, deps.Clock)
	}
	return &Service{
		store:         deps.Store,
		issuer:        deps.Issuer,
		refresh:       deps.Refresh,
		hasher:        deps.Hasher,
		authenticator: deps.Authenticator,
		audit:         deps.Audit,
		clock:         deps.Clock,
		logger:        deps.Logger.WithField("component", "auth_service"),
		metrics:       deps.Metrics,
	}, nil
}

// AccessTokenTTL returns the configured access token lifetime
func (s *Service) AccessTokenTTL() time.Duration {
	return s.issuer.TTL()
}

// RefreshTokenTTL returns the configured refresh token lifetime
func (s *Service) RefreshTokenTTL() time.Duration {
	return s.refresh.TTL()
}

// Signup registers a user with the default roles and starts a session.
func (s *Service) Signup(ctx context.Context, req SignupRequest, client ClientInfo) (pair *TokenPair, err error) {
	ctx, span := serviceTracer.Start(ctx, "Signup", trace.WithAttributes(attribute.String("username", req.Username)))
	defer s.finish(ctx, span, "signup", req.Username, client, s.clock.Now(), &err)

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: username, email and password are required", ErrInvalidInput)
	}
	if !strings.Contains(req.Email, "@") {
		return nil, fmt.Errorf("%w: email address is malformed", ErrInvalidInput)
	}
	req.Phone = strings.TrimSpace(req.Phone)
	switch {
	case utf8.RuneCountInString(req.Username) > MaxUsernameLen:
		return nil, fmt.Errorf("%w: username must be at most %d characters", ErrInvalidInput, MaxUsernameLen)
	case utf8.RuneCountInString(req.Email) > MaxEmailLen:
		return nil, fmt.Errorf("%w: email must be at most %d characters", ErrInvalidInput, MaxEmailLen)
	case utf8.RuneCountInString(req.Phone) > MaxPhoneLen:
		return nil, fmt.Errorf("%w: phone must be at most %d characters", ErrInvalidInput, MaxPhoneLen)
	}
	if err := checkPassword(req.Password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
		if err := ensureAvailable(ctx, repos.Users(), req.Username, req.Email); err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		user := &User{
			Username:     req.Username,
			Email:        req.Email,
			Phone:        req.Phone,
			PasswordHash: hash,
			Roles:        append([]Role(nil), DefaultRoles...),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := repos.Users().Create(ctx, user); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				return ErrUserAlreadyExists
			}
			return fmt.Errorf("failed to create user: %w", err)
		}

		pair, err = s.startSession(ctx, repos, user, client)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// Login verifies credentials and starts a new session. Sessions opened
// earlier stay valid.
func (s *Service) Login(ctx context.Context, identifier, password string, client ClientInfo) (pair *TokenPair, err error) {
	ctx, span := serviceTracer.Start(ctx, "Login", trace.WithAttributes(attribute.String("identifier", identifier)))
	defer s.finish(ctx, span, "login", identifier, client, s.clock.Now(), &err)

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.authenticator.Authenticate(ctx, identifier, password)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
		pair, err = s.startSession(ctx, repos, user, client)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// Refresh exchanges a valid refresh token for a new access token. All access
// tokens of the owner are revoked first; the refresh token is returned
// unchanged.
func (s *Service) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (pair *TokenPair, err error) {
	ctx, span := serviceTracer.Start(ctx, "Refresh")
	defer s.finish(ctx, span, "refresh", "", client, s.clock.Now(), &err)

	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token is required", ErrInvalidInput)
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
		record, err := s.refresh.With(repos).GetByToken(ctx, refreshToken)
		if errors.Is(err, ErrTokenNotFound) {
			return ErrTokenExpired
		}
		if err != nil {
			return err
		}
		if !record.Usable(s.clock.Now()) {
			return ErrTokenExpired
		}

		user, err := repos.Users().GetByID(ctx, record.UserID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load refresh token owner: %w", err)
		}

		revoked, err := repos.AccessTokens().RevokeAllForUser(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("failed to revoke access tokens: %w", err)
		}

		access, err := s.issueAccessToken(ctx, repos, user, client)
		if err != nil {
			return err
		}

		s.logger.WithFields(map[string]interface{}{
			"user_id": user.ID,
			"revoked": revoked,
		}).Debug("access token refreshed")
		pair = &TokenPair{AccessToken: access, RefreshToken: record.Token}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// Logout revokes every access token and deletes every refresh token of user.
func (s *Service) Logout(ctx context.Context, user *User) (err error) {
	if user == nil {
		return fmt.Errorf("%w: user is required", ErrInvalidInput)
	}

	ctx, span := serviceTracer.Start(ctx, "Logout", trace.WithAttributes(attribute.Int64("user_id", user.ID)))
	defer s.finish(ctx, span, "logout", user.Username, ClientInfo{}, s.clock.Now(), &err)

	return s.store.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
		if _, err := repos.AccessTokens().RevokeAllForUser(ctx, user.ID); err != nil {
			return fmt.Errorf("failed to revoke access tokens: %w", err)
		}
		if _, err := s.refresh.With(repos).DeleteByUser(ctx, user.ID); err != nil {
			return err
		}
		return nil
	})
}

// ResetPassword replaces the password of the user matching identifier.
func (s *Service) ResetPassword(ctx context.Context, identifier, newPassword string) (err error) {
	ctx, span := serviceTracer.Start(ctx, "ResetPassword", trace.WithAttributes(attribute.String("identifier", identifier)))
	defer s.finish(ctx, span, "reset_password", identifier, ClientInfo{}, s.clock.Now(), &err)

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || newPassword == "" {
		return fmt.Errorf("%w: identifier and new password are required", ErrInvalidInput)
	}
	if err := checkPassword(newPassword); err != nil {
		return err
	}

	return s.store.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
		user, err := repos.Users().GetByIdentifier(ctx, identifier)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}

		if s.hasher.Matches(user.PasswordHash, newPassword) {
			return ErrPasswordReused
		}

		hash, err := s.hasher.Hash(newPassword)
		if err != nil {
			return err
		}
		if err := repos.Users().UpdatePassword(ctx, user.ID, hash, s.clock.Now().UTC()); err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		return nil
	})
}

// startSession issues an access token and a refresh token for user.
func (s *Service) startSession(ctx context.Context, repos Repositories, user *User, client ClientInfo) (*TokenPair, error) {
	access, err := s.issueAccessToken(ctx, repos, user, client)
	if err != nil {
		return nil, err
	}
	refresh, err := s.refresh.With(repos).Create(ctx, user)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh.Token}, nil
}

// issueAccessToken signs a token and persists its record.
func (s *Service) issueAccessToken(ctx context.Context, repos Repositories, user *User, client ClientInfo) (string, error) {
	signed, expiresAt, err := s.issuer.IssueAccessToken(user)
	if err != nil {
		return "", err
	}

	record := &AccessToken{
		Token:     signed,
		UserID:    user.ID,
		CreatedAt: s.clock.Now().UTC(),
		ExpiresAt: expiresAt,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
	}
	if err := repos.AccessTokens().Create(ctx, record); err != nil {
		return "", fmt.Errorf("failed to store access token: %w", err)
	}
	s.metrics.RecordTokenIssued("access")
	return signed, nil
}

// checkPassword rejects passwords bcrypt cannot hash.
func checkPassword(password string) error {
	if len(password) > MaxPasswordBytes {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, MaxPasswordBytes)
	}
	return nil
}

// ensureAvailable fails with ErrUserAlreadyExists when username or email is taken.
func ensureAvailable(ctx context.Context, users UserRepository, username, email string) error {
	if _, err := users.GetByEmail(ctx, email); err == nil {
		return ErrUserAlreadyExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to check email: %w", err)
	}

	if _, err := users.GetByUsername(ctx, username); err == nil {
		return ErrUserAlreadyExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to check username: %w", err)
	}
	return nil
}

// finish records metrics, the audit entry and the span outcome of an operation.
func (s *Service) finish(ctx context.Context, span trace.Span, operation, subject string, client ClientInfo, start time.Time, errp *error) {
	defer span.End()

	err := *errp
	result := ResultLabel(err)
	s.metrics.RecordAuthOperation(operation, result, s.clock.Since(start))

	status := StatusSuccess
	entry := &AuditLog{
		Action:       "auth." + operation,
		ResourceType: "user",
		ResourceID:   subject,
		IPAddress:    client.IPAddress,
		UserAgent:    client.UserAgent,
	}
	if err != nil {
		status = StatusFailure
		entry.ErrorMessage = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		if result == "error" {
			s.logger.WithError(err).WithField("operation", operation).Error("auth operation failed")
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}
	entry.Status = status
	_ = s.audit.LogAction(ctx, entry)
}

// ResultLabel classifies an auth error for metrics and logs.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrUserAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrTokenNotFound):
		return "not_found"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case IsValidationError(err):
		return "invalid_input"
	default:
		return "error"
	}
}
