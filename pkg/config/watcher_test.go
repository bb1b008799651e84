package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobilyecommerce/storefront/pkg/middleware"
)

type recordingUpdater struct {
	mu      sync.Mutex
	updates []middleware.RateLimitConfig
	err     error
}

func (u *recordingUpdater) UpdateLimits(config middleware.RateLimitConfig) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	u.updates = append(u.updates, config)
	return nil
}

func (u *recordingUpdater) last() (middleware.RateLimitConfig, int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.updates) == 0 {
		return middleware.RateLimitConfig{}, 0
	}
	return u.updates[len(u.updates)-1], len(u.updates)
}

func TestWatcher_Reload(t *testing.T) {
	path := writeFile(t, `
auth:
  jwt_secret: ignored-here
rate_limit:
  backend: memory
  general:
    capacity: 120
    window: 1h
`)
	updater := &recordingUpdater{}
	w := NewWatcher(path, updater, nil)

	require.NoError(t, w.Reload())

	got, n := updater.last()
	require.Equal(t, 1, n)
	assert.Equal(t, 120, got.General.Capacity)
	assert.Equal(t, time.Hour, got.General.Window)
	// Unset classes fall back to defaults
	assert.Equal(t, middleware.DefaultRateLimitConfig().Auth, got.Auth)
}

func TestWatcher_ReloadEnvWins(t *testing.T) {
	path := writeFile(t, "rate_limit:\n  auth:\n    capacity: 9\n")
	t.Setenv("STOREFRONT_RATE_LIMIT_AUTH_CAPACITY", "4")

	updater := &recordingUpdater{}
	require.NoError(t, NewWatcher(path, updater, nil).Reload())

	got, _ := updater.last()
	assert.Equal(t, 4, got.Auth.Capacity)
}

func TestWatcher_ReloadRejectsInvalid(t *testing.T) {
	updater := &recordingUpdater{}

	invalid := writeFile(t, "rate_limit:\n  auth:\n    capacity: 0\n")
	assert.Error(t, NewWatcher(invalid, updater, nil).Reload())

	malformed := writeFile(t, "rate_limit: [\n")
	assert.Error(t, NewWatcher(malformed, updater, nil).Reload())

	missing := filepath.Join(t.TempDir(), "missing.yaml")
	assert.Error(t, NewWatcher(missing, updater, nil).Reload())

	_, n := updater.last()
	assert.Zero(t, n, "invalid files must not reach the limiter")
}

func TestWatcher_ReloadPropagatesUpdaterError(t *testing.T) {
	path := writeFile(t, "rate_limit:\n  backend: memory\n")
	updater := &recordingUpdater{err: errors.New("rejected")}

	assert.EqualError(t, NewWatcher(path, updater, nil).Reload(), "rejected")
}

func TestWatcher_RunPicksUpChanges(t *testing.T) {
	path := writeFile(t, "rate_limit:\n  auth:\n    capacity: 3\n")
	updater := &recordingUpdater{}
	w := NewWatcher(path, updater, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// The watch is registered asynchronously; keep rewriting until seen.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("rate_limit:\n  auth:\n    capacity: 7\n"), 0o600)
		got, n := updater.last()
		return n > 0 && got.Auth.Capacity == 7
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_RunMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone", "storefront.yaml")
	err := NewWatcher(path, &recordingUpdater{}, nil).Run(context.Background())
	assert.Error(t, err)
}
