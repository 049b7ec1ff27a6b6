// Package schedule triggers retention runs for every organization on a cron
// schedule.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"chronicle/internal/retention"
)

// Runner runs retention for every organization with a policy.
type Runner interface {
	RunAll(ctx context.Context, reference time.Time) ([]*retention.Execution, error)
}

const defaultTimeout = 10 * time.Minute

type Scheduler struct {
	runner   Runner
	schedule cron.Schedule
	spec     string
	cron     *cron.Cron
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithTimeout bounds a single tick.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// ParseSchedule accepts five-field cron expressions and descriptors such as
// "@daily" or "@every 1h".
func ParseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", spec, err)
	}
	return schedule, nil
}

func New(runner Runner, spec string, opts ...Option) (*Scheduler, error) {
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		runner:   runner,
		schedule: schedule,
		spec:     spec,
		cron:     cron.New(cron.WithLocation(time.UTC)),
		timeout:  defaultTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron.Schedule(schedule, cron.FuncJob(s.tick))
	return s, nil
}

// Next reports when the schedule fires after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	_ = s.RunOnce(ctx)
}

// RunOnce runs retention for all organizations with the current time as
// reference.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	executions, err := s.runner.RunAll(ctx, time.Time{})
	if err != nil {
		s.logger.WarnContext(ctx, "scheduled retention run failed",
			"executions", len(executions),
			"error", err,
			"duration", time.Since(start),
		)
		return err
	}
	s.logger.InfoContext(ctx, "scheduled retention run completed",
		"executions", len(executions),
		"duration", time.Since(start),
	)
	return nil
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	s.logger.Info("retention scheduler started", "schedule", s.spec)
}

// Stop cancels the running tick, if any, and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.ctx = nil
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}
