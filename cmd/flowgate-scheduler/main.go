// Package main runs the SLA breach sweep on a cron schedule.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/flowgate/pkg/cmd"
	"github.com/dukex/flowgate/pkg/log"
	"github.com/dukex/flowgate/pkg/notification"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "flowgate-scheduler"

func main() {
	flags := append(cmd.CommonFlags(), cmd.SchedulerFlags()...)
	flags = append(flags, &cli.BoolFlag{
		Name:  "once",
		Usage: "Run a single sweep and exit",
	})

	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Detect SLA breaches and escalate them",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("scheduler")

			logger.InfoContext(ctx, "Initializing Flowgate SLA scheduler")

			tracer, shutdownTracer, err := cmd.NewTracer(ctx, command.Bool("otel"), serviceName, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdownTracer(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
				}
			}()

			persistence, err := cmd.NewSharedPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}
			defer func() {
				if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), serviceName, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			redisClient, err := cmd.NewRedisClient(ctx, command.String("redis-url"))
			if err != nil {
				return err
			}

			if redisClient != nil {
				defer func() {
					if err := redisClient.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close redis client", "error", err)
					}
				}()
			}

			scheduler, err := cmd.NewSLAScheduler(
				persistence,
				notification.NewEventBusDispatcher(eventBus, logger),
				cmd.SchedulerConfig{
					Schedule:    command.String("sla-schedule"),
					AdminEmails: command.StringSlice("admin-emails"),
					Redis:       redisClient,
					Tracer:      tracer,
				},
				logger,
			)
			if err != nil {
				return err
			}

			if command.Bool("once") {
				scheduler.RunOnce(ctx)

				return nil
			}

			if err := scheduler.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			logger.InfoContext(ctx, "Shutting down gracefully...")
			scheduler.Stop(context.WithoutCancel(ctx))

			return nil
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := command.Run(ctx, os.Args)
	if err != nil {
		stop()
		panic(err)
	}
}
