package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mobilyecommerce/storefront/pkg/observability"
	"github.com/mobilyecommerce/storefront/pkg/storage"
)

// maxGenerateAttempts bounds retries when a generated token collides.
const maxGenerateAttempts = 3

// RefreshTokenManager owns the refresh token lifecycle:
// ACTIVE -> EXPIRED (MarkExpiredTokens) -> DELETED (DeleteExpiredTokens),
// and ACTIVE -> DELETED on logout.
type RefreshTokenManager struct {
	store     Store
	repos     Repositories
	ttl       time.Duration
	generator *TokenGenerator
	clock     clockwork.Clock
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewRefreshTokenManager creates a manager issuing tokens valid for ttl.
func NewRefreshTokenManager(store Store, ttl time.Duration, clock clockwork.Clock, logger *observability.Logger, metrics *observability.Metrics) *RefreshTokenManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RefreshTokenManager{
		store:     store,
		repos:     store,
		ttl:       ttl,
		generator: NewTokenGenerator(),
		clock:     clock,
		logger:    logger.WithField("component", "refresh_tokens"),
		metrics:   metrics,
	}
}

// With returns a copy of the manager whose operations run against repos,
// typically the repositories of an open transaction.
func (m *RefreshTokenManager) With(repos Repositories) *RefreshTokenManager {
	bound := *m
	bound.store = nil
	bound.repos = repos
	return &bound
}

// TTL returns the lifetime of new refresh tokens
func (m *RefreshTokenManager) TTL() time.Duration {
	return m.ttl
}

// Create issues and persists a new refresh token for user.
func (m *RefreshTokenManager) Create(ctx context.Context, user *User) (*RefreshToken, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}

	now := m.clock.Now().UTC()
	for attempt := 1; ; attempt++ {
		code, err := m.generator.GenerateRefreshToken()
		if err != nil {
			return nil, err
		}

		token := &RefreshToken{
			Token:     code,
			UserID:    user.ID,
			CreatedAt: now,
			ExpiresAt: now.Add(m.ttl),
		}
		err = m.repos.RefreshTokens().Create(ctx, token)
		if err == nil {
			m.metrics.RecordTokenIssued("refresh")
			return token, nil
		}
		if !errors.Is(err, storage.ErrAlreadyExists) || attempt >= maxGenerateAttempts {
			return nil, fmt.Errorf("failed to store refresh token: %w", err)
		}
		m.logger.WithField("attempt", attempt).Warn("refresh token collision, regenerating")
	}
}

// GetByToken returns the stored refresh token or ErrTokenNotFound.
func (m *RefreshTokenManager) GetByToken(ctx context.Context, token string) (*RefreshToken, error) {
	record, err := m.repos.RefreshTokens().GetByToken(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}
	return record, nil
}

// IsValid reports whether token exists, is not flagged expired and has not
// reached its expiry. Store failures are logged and reported as invalid.
func (m *RefreshTokenManager) IsValid(ctx context.Context, token string) bool {
	record, err := m.repos.RefreshTokens().GetByToken(ctx, token)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.WithError(err).Error("refresh token lookup failed")
		}
		return false
	}
	return record.Usable(m.clock.Now())
}

// DeleteByUser removes every refresh token of the user.
func (m *RefreshTokenManager) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	n, err := m.repos.RefreshTokens().DeleteByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete refresh tokens of user %d: %w", userID, err)
	}
	return n, nil
}

// MarkExpiredTokens flags every active token whose expiry has passed.
func (m *RefreshTokenManager) MarkExpiredTokens(ctx context.Context) (int64, error) {
	var marked int64
	err := m.inTx(ctx, func(ctx context.Context, repos Repositories) error {
		n, err := repos.RefreshTokens().MarkExpired(ctx, m.clock.Now().UTC())
		marked = n
		return err
	})
	m.metrics.RecordTokenCleanup("refresh", "mark", marked, err)
	if err != nil {
		return 0, fmt.Errorf("failed to mark expired refresh tokens: %w", err)
	}
	if marked > 0 {
		m.logger.WithField("count", marked).Info("marked refresh tokens expired")
	}
	return marked, nil
}

// DeleteExpiredTokens removes tokens previously flagged expired. Tokens past
// their expiry but not yet flagged are left for the next mark pass.
func (m *RefreshTokenManager) DeleteExpiredTokens(ctx context.Context) (int64, error) {
	var deleted int64
	err := m.inTx(ctx, func(ctx context.Context, repos Repositories) error {
		n, err := repos.RefreshTokens().DeleteExpired(ctx)
		deleted = n
		return err
	})
	m.metrics.RecordTokenCleanup("refresh", "delete", deleted, err)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	if deleted > 0 {
		m.logger.WithField("count", deleted).Info("deleted expired refresh tokens")
	}
	return deleted, nil
}

// CleanupNow marks then deletes in two separate transactions.
func (m *RefreshTokenManager) CleanupNow(ctx context.Context) (CleanupResult, error) {
	marked, err := m.MarkExpiredTokens(ctx)
	if err != nil {
		return CleanupResult{}, err
	}
	deleted, err := m.DeleteExpiredTokens(ctx)
	if err != nil {
		return CleanupResult{Marked: marked}, err
	}
	return CleanupResult{Marked: marked, Deleted: deleted}, nil
}

func (m *RefreshTokenManager) inTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	if m.store == nil {
		return fn(ctx, m.repos)
	}
	return m.store.WithTx(ctx, fn)
}
