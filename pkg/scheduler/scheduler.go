// Package scheduler runs the periodic token cleanup jobs.
//
// Marking and deleting run on separate schedules so that a token is never
// flagged and removed in the same pass; validations racing a cleanup always
// see the flag before the row disappears.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mobilyecommerce/storefront/pkg/observability"
)

// Cleaner is one token store's two-phase cleanup
type Cleaner interface {
	MarkExpiredTokens(ctx context.Context) (int64, error)
	DeleteExpiredTokens(ctx context.Context) (int64, error)
}

// Schedules are standard five-field cron expressions, evaluated in UTC.
type Schedules struct {
	AccessMark    string `yaml:"access_mark"`
	AccessDelete  string `yaml:"access_delete"`
	RefreshMark   string `yaml:"refresh_mark"`
	RefreshDelete string `yaml:"refresh_delete"`
}

// DefaultSchedules marks access tokens every five minutes and refresh tokens
// hourly, each delete pass trailing its mark pass.
func DefaultSchedules() Schedules {
	return Schedules{
		AccessMark:    "*/5 * * * *",
		AccessDelete:  "15,45 * * * *",
		RefreshMark:   "0 * * * *",
		RefreshDelete: "30 * * * *",
	}
}

// Validate parses every expression
func (s Schedules) Validate() error {
	for name, spec := range s.byJob() {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
		}
	}
	return nil
}

func (s Schedules) byJob() map[string]string {
	return map[string]string{
		JobAccessMark:    s.AccessMark,
		JobAccessDelete:  s.AccessDelete,
		JobRefreshMark:   s.RefreshMark,
		JobRefreshDelete: s.RefreshDelete,
	}
}

// Job names
const (
	JobAccessMark    = "access_tokens.mark_expired"
	JobAccessDelete  = "access_tokens.delete_expired"
	JobRefreshMark   = "refresh_tokens.mark_expired"
	JobRefreshDelete = "refresh_tokens.delete_expired"
)

// DefaultJobTimeout bounds a single cleanup pass
const DefaultJobTimeout = 2 * time.Minute

// JobInfo describes a registered job
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev,omitempty"`
}

type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) (int64, error)
	entry    cron.EntryID
}

// CleanupScheduler drives the four cleanup passes. A failing or panicking
// pass is logged and the next tick runs as usual; overlapping ticks of the
// same job are skipped.
type CleanupScheduler struct {
	cron    *cron.Cron
	jobs    []*job
	timeout time.Duration
	logger  *observability.Logger

	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
}

// Option customizes a CleanupScheduler
type Option func(*CleanupScheduler)

// WithJobTimeout bounds each pass
func WithJobTimeout(d time.Duration) Option {
	return func(s *CleanupScheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New registers the cleanup jobs of access and refresh on schedules.
func New(access, refresh Cleaner, schedules Schedules, logger *observability.Logger, opts ...Option) (*CleanupScheduler, error) {
	if err := schedules.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	logger = logger.WithField("component", "token_cleanup")

	cronLogger := cron.PrintfLogger(logger)
	s := &CleanupScheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		timeout: DefaultJobTimeout,
		logger:  logger,
		baseCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.jobs = []*job{
		{name: JobAccessMark, schedule: schedules.AccessMark, run: access.MarkExpiredTokens},
		{name: JobAccessDelete, schedule: schedules.AccessDelete, run: access.DeleteExpiredTokens},
		{name: JobRefreshMark, schedule: schedules.RefreshMark, run: refresh.MarkExpiredTokens},
		{name: JobRefreshDelete, schedule: schedules.RefreshDelete, run: refresh.DeleteExpiredTokens},
	}
	for _, j := range s.jobs {
		j := j
		id, err := s.cron.AddFunc(j.schedule, func() { s.runJob(j) })
		if err != nil {
			return nil, fmt.Errorf("failed to schedule %s: %w", j.name, err)
		}
		j.entry = id
	}
	return s, nil
}

// Start begins firing jobs. Passes in flight are cancelled when ctx ends.
func (s *CleanupScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.WithField("jobs", len(s.jobs)).Info("token cleanup scheduler started")
}

// Stop halts scheduling and waits for running passes until ctx is done.
func (s *CleanupScheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancelRunning()
		s.logger.Info("token cleanup scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancelRunning()
		return fmt.Errorf("cleanup jobs still running: %w", ctx.Err())
	}
}

func (s *CleanupScheduler) cancelRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Jobs lists the registered jobs with their next fire time
func (s *CleanupScheduler) Jobs() []JobInfo {
	infos := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		entry := s.cron.Entry(j.entry)
		infos = append(infos, JobInfo{
			Name:     j.name,
			Schedule: j.schedule,
			Next:     entry.Next,
			Prev:     entry.Prev,
		})
	}
	return infos
}

// runJob executes one pass. Errors end here so the cron keeps running.
func (s *CleanupScheduler) runJob(j *job) {
	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, s.timeout)
	defer cancel()

	logger := s.logger.WithField("job", j.name)
	defer observability.RecoverPanic(logger, j.name)

	started := time.Now()
	n, err := j.run(ctx)
	if err != nil {
		logger.WithError(err).Error("token cleanup pass failed")
		return
	}
	logger.WithFields(map[string]interface{}{
		"rows":        n,
		"duration_ms": time.Since(started).Milliseconds(),
	}).Debug("token cleanup pass completed")
}
