package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/dukex/nurture/pkg/cmd"
	"github.com/dukex/nurture/pkg/log"
	"github.com/dukex/nurture/pkg/stats"
	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const defaultPort = 9091

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
			Name:    "embedded",
			Usage:   "Run the scheduler and the stats aggregator in this process",
			Sources: cli.EnvVars("EMBEDDED"),
		},
	}
	flags = append(flags, cmd.CommonFlags()...)
	flags = append(flags, cmd.SchedulerFlags()...)

	command := &cli.Command{
		Name:                  "nurture-api",
		Usage:                 "Author flows, enroll members and read flow statistics",
		EnableShellCompletion: true,
		Flags:                 flags,
		Commands: []*cli.Command{
			NewValidateCommand(),
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))
			logger := log.WithModule("api")

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "Initializing Nurture API", "embedded", command.Bool("embedded"))

			tracer, shutdownTracer, err := cmd.NewTracer(ctx, command.Bool("tracing"), "nurture-api", logger)
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

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), "api", logger)
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

			aggregator := stats.NewAggregator(cmd.NewCounterStore(redisClient), persistence.EventRepository(), logger)

			g, ctx := errgroup.WithContext(ctx)

			// The in-process bus has no other consumer, so its events are
			// aggregated here.
			if command.Bool("embedded") || command.String("event-bus") == "gochannel" {
				if err := aggregator.Register(eventBus); err != nil {
					return fmt.Errorf("failed to register stats aggregator: %w", err)
				}

				if err := eventBus.Subscribe(ctx); err != nil {
					return fmt.Errorf("failed to subscribe to event bus: %w", err)
				}
			}

			if command.Bool("embedded") {
				sched, err := cmd.NewScheduler(command, persistence, eventBus, redisClient, tracer, logger)
				if err != nil {
					return err
				}

				g.Go(func() error {
					return sched.Run(ctx)
				})
			}

			api := NewAPI(logger, persistence, aggregator, eventBus, clockwork.NewRealClock())
			app := api.App()

			g.Go(func() error {
				<-ctx.Done()

				return app.ShutdownWithContext(context.Background())
			})

			g.Go(func() error {
				err := app.Listen(fmt.Sprintf(":%d", command.Int("port")))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to start API server", "error", err)
				}

				stop()

				return err
			})

			return g.Wait()
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
