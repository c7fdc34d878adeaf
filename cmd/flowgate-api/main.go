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

const (
	serviceName = "flowgate-api"
	defaultPort = 9091
)

func main() {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.BoolFlag{
			Name:    "embedded-workers",
			Usage:   "Run the notification worker and the SLA scheduler inside the API process",
			Sources: cli.EnvVars("EMBEDDED_WORKERS"),
		},
	}
	flags = append(flags, cmd.CommonFlags()...)
	flags = append(flags, cmd.SchedulerFlags()...)
	flags = append(flags, cmd.NotifierFlags()...)

	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Author workflow templates and drive approval requests",
		EnableShellCompletion: true,
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing Flowgate API")

			tracer, shutdownTracer, err := cmd.NewTracer(ctx, command.Bool("otel"), serviceName, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdownTracer(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
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

			dispatcher := notification.NewEventBusDispatcher(eventBus, logger)

			if command.Bool("embedded-workers") {
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

				err = cmd.StartNotifier(ctx, persistence, eventBus, cmd.NotifierConfig{
					FrontendURL: command.String("frontend-url"),
					From:        command.String("email-from"),
					Redis:       redisClient,
				}, logger)
				if err != nil {
					return err
				}

				scheduler, err := cmd.NewSLAScheduler(persistence, dispatcher, cmd.SchedulerConfig{
					Schedule:    command.String("sla-schedule"),
					AdminEmails: command.StringSlice("admin-emails"),
					Redis:       redisClient,
					Tracer:      tracer,
				}, logger)
				if err != nil {
					return err
				}

				if err := scheduler.Start(ctx); err != nil {
					return err
				}
				defer scheduler.Stop(context.WithoutCancel(ctx))
			} else if command.String("event-bus") == "gochannel" {
				logger.WarnContext(ctx, "gochannel event bus without embedded workers, notifications will not be delivered")
			}

			api := NewAPI(logger, persistence, dispatcher, tracer)

			if err := api.Start(ctx, command.Int("port")); err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)

				return err
			}

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
