package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/nurture/pkg/cmd"
	"github.com/dukex/nurture/pkg/log"
	"github.com/dukex/nurture/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
)

// NewTickCommand runs a single scheduler tick and exits. It is meant for cron
// driven deployments and for draining a backlog by hand.
func NewTickCommand() *cli.Command {
	return &cli.Command{
		Name:  "tick",
		Usage: "Advance the currently due enrollments once and exit",
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))
			logger := log.WithModule("scheduler").With("action", "tick")

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
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

			sched, err := cmd.NewScheduler(command, persistence, eventBus, redisClient, otelhelper.NoopTracer(), logger)
			if err != nil {
				return err
			}

			processed, err := sched.Tick(ctx)
			if err != nil {
				return fmt.Errorf("tick failed: %w", err)
			}

			_, _ = fmt.Fprintf(os.Stdout, "Processed %d enrollments\n", processed)

			return nil
		},
	}
}
