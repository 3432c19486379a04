// Package main provides the scheduler that advances due enrollments.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/dukex/nurture/pkg/cmd"
	"github.com/dukex/nurture/pkg/log"
	"github.com/dukex/nurture/pkg/scheduler"
	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultJanitorSchedule = "@hourly"
	defaultRetention       = 90 * 24 * time.Hour
)

func janitorFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "retention-schedule",
			Usage:   "Cron schedule of the retention sweep (empty disables it)",
			Value:   defaultJanitorSchedule,
			Sources: cli.EnvVars("RETENTION_SCHEDULE"),
		},
		&cli.DurationFlag{
			Name:    "retention",
			Usage:   "How long finished enrollments are kept",
			Value:   defaultRetention,
			Sources: cli.EnvVars("ENROLLMENT_RETENTION"),
		},
	}
}

func main() {
	flags := append(cmd.CommonFlags(), cmd.SchedulerFlags()...)
	flags = append(flags, janitorFlags()...)

	command := &cli.Command{
		Name:                  "nurture-scheduler",
		Usage:                 "Advance due enrollments through their flows",
		EnableShellCompletion: true,
		Flags:                 flags,
		Commands: []*cli.Command{
			NewTickCommand(),
			NewValidateCommand(),
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))
			logger := log.WithModule("scheduler")

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "Initializing Nurture scheduler")

			tracer, shutdownTracer, err := cmd.NewTracer(ctx, command.Bool("tracing"), "nurture-scheduler", logger)
			if err != nil {
				return fmt.Errorf("failed to create tracer: %w", err)
			}
			defer shutdownTracer(context.Background())

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(context.Background()); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), "scheduler", logger)
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
				defer func() { _ = redisClient.Close() }()
			}

			sched, err := cmd.NewScheduler(command, persistence, eventBus, redisClient, tracer, logger)
			if err != nil {
				return err
			}

			if schedule := command.String("retention-schedule"); schedule != "" {
				janitor := scheduler.NewJanitor(
					persistence.EnrollmentRepository(),
					command.Duration("retention"),
					clockwork.NewRealClock(),
					logger,
				)

				if err := janitor.Start(ctx, schedule); err != nil {
					return err
				}
				defer janitor.Stop()
			}

			return sched.Run(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
