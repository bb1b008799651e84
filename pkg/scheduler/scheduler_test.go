package scheduler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobilyecommerce/storefront/pkg/observability"
)

type fakeCleaner struct {
	marks   atomic.Int64
	deletes atomic.Int64
	markErr error
	panics  bool
}

func (f *fakeCleaner) MarkExpiredTokens(ctx context.Context) (int64, error) {
	f.marks.Add(1)
	if f.panics {
		panic("store exploded")
	}
	return 2, f.markErr
}

func (f *fakeCleaner) DeleteExpiredTokens(ctx context.Context) (int64, error) {
	f.deletes.Add(1)
	return 1, nil
}

func TestDefaultSchedules_Valid(t *testing.T) {
	assert.NoError(t, DefaultSchedules().Validate())
}

func TestNew_InvalidSchedule(t *testing.T) {
	schedules := DefaultSchedules()
	schedules.RefreshDelete = "every now and then"

	_, err := New(&fakeCleaner{}, &fakeCleaner{}, schedules, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobRefreshDelete)
}

func TestCleanupScheduler_Jobs(t *testing.T) {
	s, err := New(&fakeCleaner{}, &fakeCleaner{}, DefaultSchedules(), nil)
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop(context.Background())

	jobs := s.Jobs()
	require.Len(t, jobs, 4)
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name)
		assert.False(t, j.Next.IsZero(), "%s has no next run", j.Name)
	}
	assert.ElementsMatch(t, []string{JobAccessMark, JobAccessDelete, JobRefreshMark, JobRefreshDelete}, names)
}

func TestCleanupScheduler_RunJobIsolatesFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.DebugLevel, &buf)

	failing := &fakeCleaner{markErr: errors.New("deadlock detected")}
	panicking := &fakeCleaner{panics: true}
	s, err := New(failing, panicking, DefaultSchedules(), logger)
	require.NoError(t, err)

	for _, j := range s.jobs {
		assert.NotPanics(t, func() { s.runJob(j) }, j.name)
	}

	assert.Equal(t, int64(1), failing.marks.Load())
	assert.Equal(t, int64(1), failing.deletes.Load())
	assert.Equal(t, int64(1), panicking.marks.Load())
	assert.Equal(t, int64(1), panicking.deletes.Load())

	out := buf.String()
	assert.Contains(t, out, "deadlock detected")
	assert.Contains(t, out, "PANIC recovered")
	assert.True(t, strings.Contains(out, JobRefreshDelete), "successful job logged")
}

func TestCleanupScheduler_Fires(t *testing.T) {
	cleaner := &fakeCleaner{}
	schedules := Schedules{
		AccessMark:    "@every 1s",
		AccessDelete:  "@every 1s",
		RefreshMark:   "@yearly",
		RefreshDelete: "@yearly",
	}
	s, err := New(cleaner, &fakeCleaner{}, schedules, nil)
	require.NoError(t, err)

	s.Start(context.Background())
	assert.Eventually(t, func() bool {
		return cleaner.marks.Load() > 0 && cleaner.deletes.Load() > 0
	}, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestCleanupScheduler_JobTimeout(t *testing.T) {
	s, err := New(&fakeCleaner{}, &fakeCleaner{}, DefaultSchedules(), nil, WithJobTimeout(time.Second))
	require.NoError(t, err)
	assert.Equal(t, time.Second, s.timeout)

	s, err = New(&fakeCleaner{}, &fakeCleaner{}, DefaultSchedules(), nil, WithJobTimeout(0))
	require.NoError(t, err)
	assert.Equal(t, DefaultJobTimeout, s.timeout)
}
