package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowgate/pkg/eventbus"
	"github.com/dukex/flowgate/pkg/notification"
	"github.com/dukex/flowgate/pkg/persistence"
	"github.com/dukex/flowgate/pkg/sla"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

// sweepLockTTL outlives the default sweep timeout so a slow run keeps the lock.
const sweepLockTTL = 2 * time.Minute

// SchedulerConfig configures NewSLAScheduler.
type SchedulerConfig struct {
	Schedule    string
	AdminEmails []string
	Redis       redis.UniversalClient
	Tracer      trace.Tracer
}

// NewSLAScheduler builds the breach monitor and its cron scheduler.
// With a redis client only one replica sweeps at a time.
func NewSLAScheduler(
	p persistence.Persistence,
	dispatcher notification.Dispatcher,
	cfg SchedulerConfig,
	logger *slog.Logger,
) (*sla.Scheduler, error) {
	monitorOpts := []sla.Option{sla.WithAdminEmails(cfg.AdminEmails...)}
	if cfg.Tracer != nil {
		monitorOpts = append(monitorOpts, sla.WithTracer(cfg.Tracer))
	}

	monitor := sla.NewMonitor(p, dispatcher, logger, monitorOpts...)

	var schedulerOpts []sla.SchedulerOption
	if cfg.Redis != nil {
		schedulerOpts = append(schedulerOpts, sla.WithLocker(sla.NewRedisLocker(cfg.Redis, sweepLockTTL)))
	}

	scheduler, err := sla.NewScheduler(monitor, cfg.Schedule, logger, schedulerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SLA scheduler: %w", err)
	}

	return scheduler, nil
}

// NotifierConfig configures StartNotifier.
type NotifierConfig struct {
	FrontendURL string
	From        string
	Redis       redis.UniversalClient
}

// StartNotifier registers a notification worker on bus and starts consuming.
func StartNotifier(
	ctx context.Context,
	store persistence.Store,
	bus eventbus.EventBus,
	cfg NotifierConfig,
	logger *slog.Logger,
) error {
	var opts []notification.WorkerOption

	if cfg.FrontendURL != "" {
		opts = append(opts, notification.WithFrontendURL(cfg.FrontendURL))
	}

	if cfg.From != "" {
		opts = append(opts, notification.WithSender(cfg.From))
	}

	if cfg.Redis != nil {
		opts = append(opts, notification.WithDeduper(notification.NewRedisDeduper(cfg.Redis, notification.DefaultDedupeTTL)))
	}

	worker := notification.NewWorker(store, notification.NewLogMailer(logger), logger, opts...)

	if err := worker.Register(bus); err != nil {
		return err
	}

	if err := bus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe notification worker: %w", err)
	}

	return nil
}
