//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mobilyecommerce/storefront/pkg/auth"
	"github.com/mobilyecommerce/storefront/pkg/storage"
)

// setupPostgres starts a disposable PostgreSQL, applies the migrations and
// returns a store over it.
func setupPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	defer provider.Close()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("storefront_test"),
		tcpostgres.WithUsername("storefront"),
		tcpostgres.WithPassword("storefront_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		// fresh context: the test context may already be cancelled
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := storage.DefaultConfig()
	cfg.PostgresURL = connStr
	db, err := Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(ctx, db))
	return NewStore(db)
}

func TestIntegration_TokenLifecycle(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	user := &auth.User{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "hash",
		Roles:        []auth.Role{auth.RoleUser, auth.RoleCustomer},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, store.Users().Create(ctx, user))

	dup := *user
	assert.ErrorIs(t, store.Users().Create(ctx, &dup), storage.ErrAlreadyExists)

	loaded, err := store.Users().GetByIdentifier(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, loaded.ID)
	assert.Equal(t, []auth.Role{auth.RoleUser, auth.RoleCustomer}, loaded.Roles)

	live := &auth.AccessToken{Token: "live", UserID: user.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	stale := &auth.AccessToken{Token: "stale", UserID: user.ID, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	require.NoError(t, store.AccessTokens().Create(ctx, live))
	require.NoError(t, store.AccessTokens().Create(ctx, stale))

	marked, err := store.AccessTokens().MarkExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)

	deleted, err := store.AccessTokens().DeleteExpiredOrRevoked(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	err = store.WithTx(ctx, func(ctx context.Context, repos auth.Repositories) error {
		_, err := repos.AccessTokens().RevokeAllForUser(ctx, user.ID)
		return err
	})
	require.NoError(t, err)

	token, err := store.AccessTokens().GetByToken(ctx, "live")
	require.NoError(t, err)
	assert.True(t, token.Revoked)
	assert.True(t, token.Expired)

	refresh := &auth.RefreshToken{Token: "ABCD-EFGH-IJKL-MNOP", UserID: user.ID, CreatedAt: now, ExpiresAt: now.Add(-time.Minute)}
	require.NoError(t, store.RefreshTokens().Create(ctx, refresh))

	n, err := store.RefreshTokens().DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "unflagged tokens survive delete")

	n, err = store.RefreshTokens().MarkExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.RefreshTokens().DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestIntegration_RefreshCollisionInsideTransaction(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	user := &auth.User{Username: "bob", Email: "bob@example.com", PasswordHash: "hash", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Users().Create(ctx, user))
	require.NoError(t, store.RefreshTokens().Create(ctx, &auth.RefreshToken{
		Token: "AAAA-BBBB-CCCC-DDDD", UserID: user.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	err := store.WithTx(ctx, func(ctx context.Context, repos auth.Repositories) error {
		dup := &auth.RefreshToken{Token: "AAAA-BBBB-CCCC-DDDD", UserID: user.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
		if err := repos.RefreshTokens().Create(ctx, dup); !errors.Is(err, storage.ErrAlreadyExists) {
			return fmt.Errorf("expected ErrAlreadyExists, got %v", err)
		}
		// the transaction is still usable after the conflict
		return repos.RefreshTokens().Create(ctx, &auth.RefreshToken{
			Token: "EEEE-FFFF-GGGG-HHHH", UserID: user.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
		})
	})
	require.NoError(t, err)

	_, err = store.RefreshTokens().GetByToken(ctx, "EEEE-FFFF-GGGG-HHHH")
	assert.NoError(t, err)
}

func TestIntegration_LongClientValues(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	user := &auth.User{Username: "carol", Email: "carol@example.com", PasswordHash: "hash", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.Users().Create(ctx, user))

	token := &auth.AccessToken{
		Token:     "long-client",
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
		IPAddress: strings.Repeat("a", 512),
		UserAgent: strings.Repeat("b", 2048),
	}
	require.NoError(t, store.AccessTokens().Create(ctx, token))
}
