package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobilyecommerce/storefront/pkg/auth"
)

func TestAccessTokenCleaner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := f.createUser(t, "bob")
	carol := f.createUser(t, "carol")

	tokens := []*auth.AccessToken{
		{Token: "expired-by-time", UserID: bob.ID, CreatedAt: epoch.Add(-time.Hour), ExpiresAt: epoch.Add(-time.Minute)},
		{Token: "expiring-now", UserID: bob.ID, CreatedAt: epoch.Add(-time.Hour), ExpiresAt: epoch},
		{Token: "live", UserID: carol.ID, CreatedAt: epoch, ExpiresAt: epoch.Add(time.Hour)},
		{Token: "revoked", UserID: carol.ID, CreatedAt: epoch, ExpiresAt: epoch.Add(time.Hour), Revoked: true},
	}
	for _, token := range tokens {
		require.NoError(t, f.store.AccessTokens().Create(ctx, token))
	}

	marked, err := f.cleaner.MarkExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	marked, err = f.cleaner.MarkExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), marked)

	deleted, err := f.cleaner.DeleteExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	live, err := f.store.AccessTokens().GetByToken(ctx, "live")
	require.NoError(t, err)
	assert.True(t, live.Usable(f.clock.Now()))
}

func TestAccessTokenCleaner_CleanupNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.signup(t)

	result, err := f.cleaner.CleanupNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, auth.CleanupResult{}, result)

	f.clock.Advance(f.config.AccessTokenTTL)
	result, err = f.cleaner.CleanupNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, auth.CleanupResult{Marked: 1, Deleted: 1}, result)
}
