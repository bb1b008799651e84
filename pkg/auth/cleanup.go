package auth

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/mobilyecommerce/storefront/pkg/observability"
)

// AccessTokenCleaner flags access tokens past their expiry and removes
// flagged or revoked ones. Each call is one transaction and idempotent.
type AccessTokenCleaner struct {
	store   Store
	clock   clockwork.Clock
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewAccessTokenCleaner creates a cleaner over store
func NewAccessTokenCleaner(store Store, clock clockwork.Clock, logger *observability.Logger, metrics *observability.Metrics) *AccessTokenCleaner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AccessTokenCleaner{
		store:   store,
		clock:   clock,
		logger:  logger.WithField("component", "access_tokens"),
		metrics: metrics,
	}
}

// MarkExpiredTokens sets expired=true on every unflagged token whose expiry
// is at or before now and returns how many rows changed.
func (c *AccessTokenCleaner) MarkExpiredTokens(ctx context.Context) (int64, error) {
	var marked int64
	err := c.store.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
		n, err := repos.AccessTokens().MarkExpired(ctx, c.clock.Now().UTC())
		marked = n
		return err
	})
	c.metrics.RecordTokenCleanup("access", "mark", marked, err)
	if err != nil {
		return 0, fmt.Errorf("failed to mark expired access tokens: %w", err)
	}
	if marked > 0 {
		c.logger.WithField("count", marked).Info("marked access tokens expired")
	}
	return marked, nil
}

// DeleteExpiredTokens removes tokens flagged expired or revoked.
func (c *AccessTokenCleaner) DeleteExpiredTokens(ctx context.Context) (int64, error) {
	var deleted int64
	err := c.store.WithTx(ctx, func(ctx context.Context, repos Repositories) error {
		n, err := repos.AccessTokens().DeleteExpiredOrRevoked(ctx)
		deleted = n
		return err
	})
	c.metrics.RecordTokenCleanup("access", "delete", deleted, err)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired access tokens: %w", err)
	}
	if deleted > 0 {
		c.logger.WithField("count", deleted).Info("deleted expired access tokens")
	}
	return deleted, nil
}

// CleanupNow runs MarkExpiredTokens followed by DeleteExpiredTokens.
func (c *AccessTokenCleaner) CleanupNow(ctx context.Context) (CleanupResult, error) {
	marked, err := c.MarkExpiredTokens(ctx)
	if err != nil {
		return CleanupResult{}, err
	}
	deleted, err := c.DeleteExpiredTokens(ctx)
	if err != nil {
		return CleanupResult{Marked: marked}, err
	}
	return CleanupResult{Marked: marked, Deleted: deleted}, nil
}
