// Package scheduler runs the pipeline's periodic jobs.
//
// Each job gets its own goroutine and ticker; runs of the same job never
// overlap because the goroutine executes them sequentially. A failing run
// is logged and counted, never fatal: the next tick tries again.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/fleettrack/pkg/logger"
	"github.com/okian/fleettrack/pkg/metrics"
)

// Job is one periodic unit of work.
type Job struct {
	// Name identifies the job in logs and metrics.
	Name string

	// Every is the interval between run starts.
	Every time.Duration

	// Run performs one iteration of the job.
	Run func(ctx context.Context) error
}

// Runner drives a set of jobs until shut down.
type Runner struct {
	jobs   []Job
	logger logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool

	wg sync.WaitGroup
}

// Option applies a configuration option to the Runner.
type Option func(*Runner)

// WithLogger sets a custom logger for the runner.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner creates a runner for the given jobs.
func NewRunner(jobs []Job, opts ...Option) *Runner {
	r := &Runner{jobs: jobs}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Get().Named("scheduler")
	}
	return r
}

// Start launches every job. Each job runs once immediately, then on its
// interval. Start is idempotent.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	for _, job := range r.jobs {
		r.wg.Add(1)
		go r.loop(runCtx, job)
	}
}

// Shutdown stops all jobs and waits for in-flight runs, bounded by ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown timed out: %w", ctx.Err())
	}
}

func (r *Runner) loop(ctx context.Context, job Job) {
	defer r.wg.Done()

	ticker := time.NewTicker(job.Every)
	defer ticker.Stop()

	r.runOnce(ctx, job)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx, job)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}

	metrics.RecordJobRun(job.Name)
	start := time.Now()
	err := job.Run(ctx)
	metrics.RecordJobDuration(job.Name, time.Since(start).Seconds())

	if err != nil {
		metrics.RecordJobFailure(job.Name)
		r.logger.Error(ctx, "job run failed",
			logger.String("job", job.Name),
			logger.Error(err),
		)
	}
}
