package cmd

import (
	cli "github.com/urfave/cli/v3"
)

// CommonFlags are accepted by every flowgate binary.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (postgres:// or a file path)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the SLA sweep lock and notification de-duplication",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
		&cli.BoolFlag{
			Name:    "otel",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
	}
}

// SchedulerFlags configure the SLA sweep.
func SchedulerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "sla-schedule",
			Usage:   "Cron spec of the SLA breach sweep",
			Value:   "@every 5m",
			Sources: cli.EnvVars("SLA_SCHEDULE"),
		},
		&cli.StringSliceFlag{
			Name:    "admin-emails",
			Usage:   "Recipients of SLA breach notices",
			Value:   []string{"admin@workflow-platform.com"},
			Sources: cli.EnvVars("ADMIN_EMAILS"),
		},
	}
}

// NotifierFlags configure rendered notification emails.
func NotifierFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "frontend-url",
			Usage:   "Base URL used for links in notification emails",
			Value:   "http://localhost:3000",
			Sources: cli.EnvVars("FRONTEND_URL"),
		},
		&cli.StringFlag{
			Name:    "email-from",
			Usage:   "Sender address of notification emails",
			Value:   "noreply@workflow-platform.com",
			Sources: cli.EnvVars("EMAIL_FROM"),
		},
	}
}
