// Package main consumes notification events and delivers the rendered emails.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/flowgate/pkg/cmd"
	"github.com/dukex/flowgate/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "flowgate-notifier"

func main() {
	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Deliver assignment and SLA breach notifications",
		EnableShellCompletion: true,
		Flags:                 append(cmd.CommonFlags(), cmd.NotifierFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("notifier")

			logger.InfoContext(ctx, "Initializing Flowgate notifier")

			if command.String("event-bus") == "gochannel" {
				logger.WarnContext(ctx, "gochannel event bus only receives events published by this process")
			}

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

			err = cmd.StartNotifier(ctx, persistence, eventBus, cmd.NotifierConfig{
				FrontendURL: command.String("frontend-url"),
				From:        command.String("email-from"),
				Redis:       redisClient,
			}, logger)
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Notifier started")

			<-ctx.Done()
			logger.InfoContext(ctx, "Shutting down gracefully...")

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
