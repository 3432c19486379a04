package cmd

import (
	"time"

	"github.com/dukex/nurture/pkg/dispatch"
	"github.com/dukex/nurture/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

// CommonFlags are shared by every nurture binary.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (file://<dir> or postgres://...)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka broker addresses",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the dispatch ledger and stats counters (in-process stores when empty)",
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
			Name:    "tracing",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
	}
}

// SchedulerFlags configure the tick loop, the engine and email dispatch.
func SchedulerFlags() []cli.Flag {
	defaults := scheduler.DefaultConfig()
	retry := dispatch.DefaultRetryPolicy()

	return []cli.Flag{
		&cli.DurationFlag{
			Name:    "tick-interval",
			Usage:   "Time between scheduler ticks",
			Value:   defaults.TickInterval,
			Sources: cli.EnvVars("TICK_INTERVAL"),
		},
		&cli.IntFlag{
			Name:    "batch-size",
			Usage:   "Maximum enrollments claimed per tick",
			Value:   defaults.BatchSize,
			Sources: cli.EnvVars("BATCH_SIZE"),
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "Enrollments advanced concurrently",
			Value:   defaults.Workers,
			Sources: cli.EnvVars("WORKERS"),
		},
		&cli.DurationFlag{
			Name:    "lease",
			Usage:   "How long a claim is held before another scheduler may take it",
			Value:   defaults.Lease,
			Sources: cli.EnvVars("CLAIM_LEASE"),
		},
		&cli.DurationFlag{
			Name:    "step-timeout",
			Usage:   "Deadline of one enrollment step",
			Value:   defaults.StepTimeout,
			Sources: cli.EnvVars("STEP_TIMEOUT"),
		},
		&cli.IntFlag{
			Name:    "max-steps",
			Usage:   "Nodes one enrollment may execute in a single step",
			Value:   500,
			Sources: cli.EnvVars("MAX_STEPS"),
		},
		&cli.IntFlag{
			Name:    "retry-attempts",
			Usage:   "Send attempts before an enrollment fails",
			Value:   retry.MaxAttempts,
			Sources: cli.EnvVars("RETRY_ATTEMPTS"),
		},
		&cli.DurationFlag{
			Name:    "retry-initial-interval",
			Usage:   "Backoff after the first failed send",
			Value:   retry.InitialInterval,
			Sources: cli.EnvVars("RETRY_INITIAL_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    "retry-max-interval",
			Usage:   "Backoff cap between sends",
			Value:   retry.MaxInterval,
			Sources: cli.EnvVars("RETRY_MAX_INTERVAL"),
		},
		&cli.StringFlag{
			Name:    "timezone",
			Usage:   "IANA timezone used for absolute delays",
			Value:   "UTC",
			Sources: cli.EnvVars("TIMEZONE"),
		},
		&cli.StringFlag{
			Name:    "provider-endpoint",
			Usage:   "Email provider send endpoint (messages are only logged when empty)",
			Sources: cli.EnvVars("PROVIDER_ENDPOINT"),
		},
		&cli.StringFlag{
			Name:    "provider-api-key",
			Usage:   "Email provider API key",
			Sources: cli.EnvVars("PROVIDER_API_KEY"),
		},
		&cli.DurationFlag{
			Name:    "provider-timeout",
			Usage:   "Timeout of one provider request",
			Value:   10 * time.Second,
			Sources: cli.EnvVars("PROVIDER_TIMEOUT"),
		},
	}
}
