// Package scheduler runs the periodic jobs: the stale ticket sweep, the daily
// digest and the backend thread cleanup.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/config"
)

// jobTimeout bounds a single job run.
const jobTimeout = 10 * time.Minute

// Job is one unit of periodic work.
type Job func(ctx context.Context) error

// Jobs holds the work to schedule. Nil entries are skipped.
type Jobs struct {
	StaleSweep    Job
	DailyDigest   Job
	ThreadCleanup Job
}

// Scheduler wraps a cron runner in the configured timezone.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// New registers jobs according to cfg. The digest is only scheduled when the
// daily summary is enabled.
func New(cfg config.ScheduleConfig, jobs Jobs, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Location()),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger: logger,
	}

	entries := []struct {
		name string
		spec string
		job  Job
	}{
		{"stale_sweep", cfg.StaleSweep, jobs.StaleSweep},
		{"thread_cleanup", cfg.ThreadCleanup, jobs.ThreadCleanup},
	}
	if cfg.DailySummary {
		entries = append(entries, struct {
			name string
			spec string
			job  Job
		}{"daily_digest", cfg.DailyStats, jobs.DailyDigest})
	}

	for _, e := range entries {
		if e.job == nil || e.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(e.spec, s.wrap(e.name, e.job)); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", e.name, e.spec, err)
		}
		logger.Info("scheduled job", zap.String("job", e.name), zap.String("spec", e.spec))
	}
	return s, nil
}

func (s *Scheduler) wrap(name string, job Job) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		start := time.Now()
		if err := job(ctx); err != nil {
			s.logger.Error("scheduled job failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.logger.Debug("scheduled job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
	}
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}
