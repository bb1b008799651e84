package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mobilyecommerce/storefront/pkg/auth"
	"github.com/mobilyecommerce/storefront/pkg/storage/postgres"
	"github.com/mobilyecommerce/storefront/pkg/storage/storagetest"
)

const testSecret = "test-secret-with-enough-entropy-for-hs512"

var epoch = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store     *postgres.Store
	clock     *clockwork.FakeClock
	config    auth.Config
	issuer    *auth.Issuer
	refresh   *auth.RefreshTokenManager
	cleaner   *auth.AccessTokenCleaner
	hasher    *auth.BcryptHasher
	service   *auth.Service
	validator *auth.Validator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithBinding(t, auth.DeviceBindingNone)
}

func newFixtureWithBinding(t *testing.T, binding auth.DeviceBinding) *fixture {
	t.Helper()

	cfg := auth.DefaultConfig()
	cfg.Secret = testSecret
	cfg.DeviceBinding = binding

	store := storagetest.NewStore(t)
	clock := clockwork.NewFakeClockAt(epoch)

	issuer, err := auth.NewIssuer(cfg, clock)
	require.NoError(t, err)

	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	refresh := auth.NewRefreshTokenManager(store, cfg.RefreshTokenTTL, clock, nil, nil)

	service, err := auth.NewService(auth.ServiceDeps{
		Store:   store,
		Issuer:  issuer,
		Refresh: refresh,
		Hasher:  hasher,
		Clock:   clock,
	})
	require.NoError(t, err)

	return &fixture{
		store:     store,
		clock:     clock,
		config:    cfg,
		issuer:    issuer,
		refresh:   refresh,
		cleaner:   auth.NewAccessTokenCleaner(store, clock, nil, nil),
		hasher:    hasher,
		service:   service,
		validator: auth.NewValidator(issuer, store, binding, clock, nil),
	}
}

var testClient = auth.ClientInfo{IPAddress: "203.0.113.7", UserAgent: "storefront-test/1.0"}

// signup registers alice and returns her token pair.
func (f *fixture) signup(t *testing.T) *auth.TokenPair {
	t.Helper()
	pair, err := f.service.Signup(context.Background(), auth.SignupRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "correct horse",
	}, testClient)
	require.NoError(t, err)
	return pair
}

// createUser inserts a user directly, bypassing the service.
func (f *fixture) createUser(t *testing.T, username string, roles ...auth.Role) *auth.User {
	t.Helper()
	hash, err := f.hasher.Hash("password")
	require.NoError(t, err)

	now := f.clock.Now().UTC()
	user := &auth.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		Roles:        roles,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, f.store.Users().Create(context.Background(), user))
	return user
}
