package sla

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the sweep every five minutes.
const DefaultSchedule = "@every 5m"

// Scanner is implemented by Monitor.
type Scanner interface {
	ScanForBreaches(ctx context.Context) (int, error)
}

// Locker guards a sweep so only one scheduler replica runs it at a time.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type Scheduler struct {
	scanner  Scanner
	schedule string
	locker   Locker
	timeout  time.Duration
	cron     *cron.Cron
	logger   *slog.Logger
}

type SchedulerOption func(*Scheduler)

func WithLocker(locker Locker) SchedulerOption {
	return func(s *Scheduler) { s.locker = locker }
}

// WithRunTimeout bounds a single sweep.
func WithRunTimeout(timeout time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.timeout = timeout }
}

func NewScheduler(scanner Scanner, schedule string, logger *slog.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid SLA schedule %q: %w", schedule, err)
	}

	s := &Scheduler{
		scanner:  scanner,
		schedule: schedule,
		timeout:  time.Minute,
		logger:   logger.With("module", "sla_scheduler", "schedule", schedule),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Start schedules the sweep. Runs stop being scheduled once ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	cronLogger := &slogCronLogger{logger: s.logger}

	s.cron = cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(
			cron.SkipIfStillRunning(cronLogger),
			cron.Recover(cronLogger),
		),
	)

	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule SLA sweep: %w", err)
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "SLA scheduler started")

	return nil
}

// Stop waits for a running sweep to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}

	s.logger.InfoContext(ctx, "SLA scheduler stopped")
}

// RunOnce performs one guarded sweep and returns the breach count. Errors are logged.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.locker != nil {
		acquired, err := s.locker.Acquire(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to acquire SLA sweep lock", "error", err)

			return 0
		}

		if !acquired {
			s.logger.DebugContext(ctx, "SLA sweep already running elsewhere")

			return 0
		}

		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.ErrorContext(ctx, "Failed to release SLA sweep lock", "error", err)
			}
		}()
	}

	count, err := s.scanner.ScanForBreaches(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "SLA sweep failed", "error", err)

		return 0
	}

	if count > 0 {
		s.logger.InfoContext(ctx, "SLA sweep complete", "breaches", count)
	} else {
		s.logger.DebugContext(ctx, "SLA sweep complete", "breaches", count)
	}

	return count
}

type slogCronLogger struct {
	logger *slog.Logger
}

func (l *slogCronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *slogCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
