package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// Scheduler triggers runner jobs on their schedules.
type Scheduler struct {
	runner   *Runner
	mu       sync.Mutex
	entries  map[string]*scheduledJob
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
	wg       sync.WaitGroup
}

type scheduledJob struct {
	name     string
	schedule Schedule
	next     time.Time
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithCheckInterval sets how often due jobs are checked.
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSchedulerClock overrides the scheduler time source.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler schedules every runner job that has an entry in schedules.
// A schedule for a job the runner does not know is an error.
func NewScheduler(runner *Runner, schedules map[string]Schedule, opts ...SchedulerOption) (*Scheduler, error) {
	s := &Scheduler{
		runner:   runner,
		entries:  make(map[string]*scheduledJob),
		interval: 30 * time.Second,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	for name, sched := range schedules {
		if sched == nil {
			return nil, fmt.Errorf("%w: %s has no schedule", ErrInvalidSchedule, name)
		}
		if !runner.Has(name) {
			// retry_failed_webhooks is optional
			continue
		}
		s.entries[name] = &scheduledJob{name: name, schedule: sched}
	}
	return s, nil
}

// Start checks for due jobs until ctx is cancelled, then waits for running jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	count := len(s.entries)
	now := s.now()
	for _, e := range s.entries {
		e.next = e.schedule.Next(now)
		s.logger.Info("scheduled billing job",
			logger.Job(e.name),
			slog.String("schedule", e.schedule.String()),
			slog.Time("next_run", e.next))
	}
	s.mu.Unlock()

	if count == 0 {
		return ErrNoJobs
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("billing scheduler shutting down")
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.checkJobs(ctx)
		}
	}
}

// NextRuns returns the next planned run of each scheduled job.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.entries))
	for name, e := range s.entries {
		out[name] = e.next
	}
	return out
}

func (s *Scheduler) checkJobs(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []string
	for _, e := range s.entries {
		if e.next.IsZero() || e.next.After(now) {
			continue
		}
		due = append(due, e.name)
		// missed ticks collapse into one run
		for !e.next.After(now) {
			e.next = e.schedule.Next(e.next)
		}
	}
	s.mu.Unlock()

	for _, name := range due {
		s.wg.Add(1)
		go func(name string) {
			defer s.wg.Done()
			s.runJob(ctx, name)
		}(name)
	}
}

func (s *Scheduler) runJob(ctx context.Context, name string) {
	// failures are logged by the runner
	if _, err := s.runner.Run(ctx, name, RunOptions{}); errors.Is(err, ErrJobRunning) {
		s.logger.DebugContext(ctx, "billing job still running, tick skipped", logger.Job(name))
	}
}
