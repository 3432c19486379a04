package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dukex/nurture/pkg/cmd"
	"github.com/dukex/nurture/pkg/log"
	"github.com/dukex/nurture/pkg/stats"
	cli "github.com/urfave/cli/v3"
)

var ErrNoFlows = errors.New("at least one --flow-id is required")

func NewRebuildCommand() *cli.Command {
	return &cli.Command{
		Name:  "rebuild",
		Usage: "Recompute the counters of flows from their recorded events",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "flow-id",
				Usage: "Flow to rebuild, repeatable",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))
			logger := log.WithModule("stats").With("action", "rebuild")

			flowIDs := command.StringSlice("flow-id")
			if len(flowIDs) == 0 {
				return ErrNoFlows
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			redisClient, err := cmd.NewRedisClient(ctx, command.String("redis-url"))
			if err != nil {
				return err
			}

			if redisClient != nil {
				defer func() { _ = redisClient.Close() }()
			}

			aggregator := stats.NewAggregator(cmd.NewCounterStore(redisClient), persistence.EventRepository(), logger)

			return rebuild(ctx, os.Stdout, aggregator, flowIDs)
		},
	}
}

type rebuilder interface {
	Rebuild(ctx context.Context, flowID string) (int, error)
}

func rebuild(ctx context.Context, out io.Writer, aggregator rebuilder, flowIDs []string) error {
	var errs []error

	for _, flowID := range flowIDs {
		replayed, err := aggregator.Rebuild(ctx, flowID)
		if err != nil {
			_, _ = fmt.Fprintf(out, "❌ %s: %v\n", flowID, err)
			errs = append(errs, fmt.Errorf("flow %s: %w", flowID, err))

			continue
		}

		_, _ = fmt.Fprintf(out, "✅ %s: replayed %d events\n", flowID, replayed)
	}

	return errors.Join(errs...)
}
