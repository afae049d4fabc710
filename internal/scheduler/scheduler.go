// Package scheduler runs background interval jobs. Every job carries an
// overlap guard: a tick that fires while the previous execution is
// still in flight is skipped, never queued.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is either a fixed interval or a cron expression.
type Schedule struct {
	// Every runs the job at a fixed interval when positive.
	Every time.Duration

	// Cron is a standard 5-field cron expression, used when Every is
	// zero.
	Cron string

	parsed cron.Schedule
}

// next returns the next run time strictly after now.
func (s *Schedule) next(now time.Time) time.Time {
	if s.Every > 0 {
		return now.Add(s.Every)
	}
	if s.parsed != nil {
		return s.parsed.Next(now)
	}
	return time.Time{}
}

// Handler is one job execution.
type Handler func(ctx context.Context)

// Job is a registered background job.
type Job struct {
	Name     string
	Schedule Schedule

	// StartupDelay schedules one extra run shortly after Start.
	StartupDelay time.Duration

	Handler Handler

	nextRun time.Time
	running atomic.Bool
}

// Scheduler ticks once a second and fires due jobs in their own
// goroutines. It stops with its context and holds no process-keepalive
// resources beyond the ticker goroutine.
type Scheduler struct {
	jobs         []*Job
	logger       *slog.Logger
	nowFunc      func() time.Time
	tickInterval time.Duration

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.nowFunc = now
		}
	}
}

// WithTickInterval overrides the tick cadence for tests.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// New creates an empty scheduler.
func New(logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		logger:       logger.With("component", "scheduler"),
		nowFunc:      time.Now,
		tickInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a job. Must be called before Start.
func (s *Scheduler) Add(job *Job) error {
	if job == nil || job.Handler == nil {
		return fmt.Errorf("scheduler: job needs a handler")
	}
	if expr := strings.TrimSpace(job.Schedule.Cron); expr != "" {
		parsed, err := cron.ParseStandard(expr)
		if err != nil {
			return fmt.Errorf("scheduler: %s: invalid cron expression: %w", job.Name, err)
		}
		job.Schedule.parsed = parsed
	} else if job.Schedule.Every <= 0 {
		return fmt.Errorf("scheduler: %s: schedule is required", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler: already started")
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Start begins ticking until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	now := s.nowFunc()
	for _, job := range s.jobs {
		job.nextRun = job.Schedule.next(now)
		if job.StartupDelay > 0 {
			job.nextRun = now.Add(job.StartupDelay)
		}
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
}

// Stop waits for the tick loop to exit (running handlers finish on
// their own).
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunDue fires every due job once; exposed for tests.
func (s *Scheduler) RunDue(ctx context.Context) int {
	return s.runDue(ctx)
}

func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.nowFunc()
	fired := 0

	s.mu.Lock()
	due := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if job.nextRun.IsZero() || job.nextRun.After(now) {
			continue
		}
		job.nextRun = job.Schedule.next(now)
		due = append(due, job)
	}
	s.mu.Unlock()

	for _, job := range due {
		if !job.running.CompareAndSwap(false, true) {
			s.logger.Debug("job still running, tick skipped", "job", job.Name)
			continue
		}
		fired++
		go func(j *Job) {
			defer j.running.Store(false)
			start := s.nowFunc()
			j.Handler(ctx)
			s.logger.Debug("job finished", "job", j.Name, "duration", s.nowFunc().Sub(start))
		}(job)
	}
	return fired
}
