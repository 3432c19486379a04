package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dukex/nurture/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

// ErrInvalidRetention is returned for a non-positive retention.
var ErrInvalidRetention = errors.New("retention must be positive")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate the scheduler configuration without connecting to anything",
		Action: func(_ context.Context, command *cli.Command) error {
			err := validateConfig(command.String("retention-schedule"), command.String("timezone"), command.Duration("retention"))
			if err != nil {
				_, _ = fmt.Fprintf(os.Stdout, "❌ INVALID: %v\n", err)

				return err
			}

			_, _ = fmt.Fprintln(os.Stdout, "✅ VALID")

			return nil
		},
	}
}

func validateConfig(schedule, timezone string, retention time.Duration) error {
	if schedule != "" {
		if err := scheduler.ValidateSchedule(schedule); err != nil {
			return err
		}
	}

	if _, err := time.LoadLocation(timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}

	if retention <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRetention, retention)
	}

	return nil
}
