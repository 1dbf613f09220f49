package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/locker"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// Runner executes registered jobs by name. A job never runs twice at the same
// time in one process; with a shared Locker it also never overlaps across instances.
type Runner struct {
	mu      sync.Mutex
	jobs    map[string]Job
	running map[string]bool
	locker  locker.Locker
	timeout time.Duration
	logger  *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunLocker serializes runs of the same job across processes.
func WithRunLocker(l locker.Locker) RunnerOption {
	return func(r *Runner) {
		r.locker = l
	}
}

// WithJobTimeout bounds a single run. Zero disables the bound.
func WithJobTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner registers jobs. Two jobs with the same name is an error.
func NewRunner(jobs []Job, opts ...RunnerOption) (*Runner, error) {
	r := &Runner{
		jobs:    make(map[string]Job, len(jobs)),
		running: make(map[string]bool, len(jobs)),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, j := range jobs {
		if _, ok := r.jobs[j.Name()]; ok {
			return nil, fmt.Errorf("%w: %s", ErrJobAlreadyRegistered, j.Name())
		}
		r.jobs[j.Name()] = j
	}
	return r, nil
}

// Names returns the registered job names in sorted order.
func (r *Runner) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a job is registered under name.
func (r *Runner) Has(name string) bool {
	_, ok := r.jobs[name]
	return ok
}

// RunJob runs the named job now. It returns ErrJobNotFound for an unknown
// name and ErrJobRunning when the job is already in progress.
func (r *Runner) RunJob(ctx context.Context, name string, dryRun bool) (Report, error) {
	return r.Run(ctx, name, RunOptions{DryRun: dryRun})
}

// Run runs the named job with explicit options.
func (r *Runner) Run(ctx context.Context, name string, opts RunOptions) (Report, error) {
	job, ok := r.jobs[name]
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	r.mu.Lock()
	if r.running[name] {
		r.mu.Unlock()
		return Report{}, fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	r.running[name] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.running, name)
		r.mu.Unlock()
	}()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if r.locker != nil {
		release, err := r.locker.Lock(ctx, "billing:job:"+name)
		if err != nil {
			return Report{}, fmt.Errorf("lock job %s: %w", name, err)
		}
		defer release()
	}

	start := time.Now()
	rep, err := job.Run(ctx, opts)
	attrs := []any{
		logger.Job(name),
		slog.Bool("dry_run", opts.DryRun),
		slog.Int("affected", rep.AffectedCount),
		slog.Int("failed", rep.FailedCount),
		logger.Duration(time.Since(start)),
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "billing job failed", append(attrs, logger.Error(err))...)
		return rep, err
	}
	if rep.AffectedCount > 0 || rep.FailedCount > 0 {
		r.logger.InfoContext(ctx, "billing job finished", attrs...)
	} else {
		r.logger.DebugContext(ctx, "billing job finished", attrs...)
	}
	return rep, nil
}
