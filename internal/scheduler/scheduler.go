// Package scheduler runs the gateway's periodic maintenance jobs.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	MediaSweepSpec     = "@every 1m"
	VideoCachePrune    = "0 * * * *"
	AnalyticsPruneSpec = "0 3 * * *"
)

// MediaSweeper drops expired media handles.
type MediaSweeper interface {
	Sweep(now time.Time) int
}

// CachePruner drops expired cache entries.
type CachePruner interface {
	Prune() int
}

// AnalyticsPruner deletes usage records older than retention.
type AnalyticsPruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// Jobs lists what the scheduler maintains. Nil fields are skipped.
type Jobs struct {
	Media     MediaSweeper
	Cache     CachePruner
	Limiter   CachePruner
	Analytics AnalyticsPruner
	Retention time.Duration
}

// Scheduler manages the maintenance cron jobs.
type Scheduler struct {
	cron *cron.Cron
	jobs Jobs
	log  *slog.Logger
	now  func() time.Time
}

// New creates a scheduler and registers every configured job.
func New(jobs Jobs, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		cron: cron.New(),
		jobs: jobs,
		log:  log.With("component", "scheduler"),
		now:  time.Now,
	}
	if jobs.Media != nil {
		if _, err := s.cron.AddFunc(MediaSweepSpec, s.sweepMedia); err != nil {
			return nil, err
		}
	}
	if jobs.Cache != nil || jobs.Limiter != nil {
		if _, err := s.cron.AddFunc(VideoCachePrune, s.pruneCaches); err != nil {
			return nil, err
		}
	}
	if jobs.Analytics != nil {
		if _, err := s.cron.AddFunc(AnalyticsPruneSpec, s.pruneAnalytics); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

func (s *Scheduler) sweepMedia() {
	if n := s.jobs.Media.Sweep(s.now()); n > 0 {
		s.log.Info("expired media handles swept", "count", n)
	}
}

func (s *Scheduler) pruneCaches() {
	if s.jobs.Cache != nil {
		if n := s.jobs.Cache.Prune(); n > 0 {
			s.log.Info("video cache pruned", "count", n)
		}
	}
	if s.jobs.Limiter != nil {
		s.jobs.Limiter.Prune()
	}
}

func (s *Scheduler) pruneAnalytics() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := s.jobs.Analytics.Prune(ctx, s.jobs.Retention)
	if err != nil {
		s.log.Error("analytics prune failed", "error", err)
		return
	}
	s.log.Info("analytics pruned", "deleted", n, "retention", s.jobs.Retention)
}
