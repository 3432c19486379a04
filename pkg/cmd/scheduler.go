package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/nurture/pkg/delay"
	"github.com/dukex/nurture/pkg/dispatch"
	"github.com/dukex/nurture/pkg/engine"
	"github.com/dukex/nurture/pkg/eventbus"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/scheduler"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

// NewScheduler assembles provider, ledger, state machine and tick loop from
// the SchedulerFlags of command.
func NewScheduler(
	command *cli.Command,
	p persistence.Persistence,
	bus eventbus.EventBus,
	redisClient redis.UniversalClient,
	tracer trace.Tracer,
	logger *slog.Logger,
) (*scheduler.Scheduler, error) {
	location, err := time.LoadLocation(command.String("timezone"))
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}

	clock := clockwork.NewRealClock()

	provider := NewEmailProvider(
		command.String("provider-endpoint"),
		command.String("provider-api-key"),
		command.Duration("provider-timeout"),
		logger,
	)

	adapter := dispatch.NewAdapter(provider, NewLedger(redisClient, clock), logger, dispatch.AdapterConfig{
		RequestTimeout: command.Duration("provider-timeout"),
	})

	machine := engine.NewMachine(adapter, p.MemberRepository(), delay.Locations{Default: location}, logger, engine.Config{
		MaxSteps: int(command.Int("max-steps")),
		Retry: dispatch.RetryPolicy{
			MaxAttempts:     int(command.Int("retry-attempts")),
			InitialInterval: command.Duration("retry-initial-interval"),
			MaxInterval:     command.Duration("retry-max-interval"),
			Multiplier:      2,
		},
	})

	return scheduler.New(p, machine, bus, clock, tracer, logger, scheduler.Config{
		TickInterval: command.Duration("tick-interval"),
		BatchSize:    int(command.Int("batch-size")),
		Workers:      int(command.Int("workers")),
		Lease:        command.Duration("lease"),
		StepTimeout:  command.Duration("step-timeout"),
	}), nil
}
