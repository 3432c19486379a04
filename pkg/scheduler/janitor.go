package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/nurture/pkg/persistence"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

// Janitor deletes finished enrollments once they are older than the
// retention period.
type Janitor struct {
	enrollments persistence.EnrollmentRepository
	retention   time.Duration
	clock       clockwork.Clock
	logger      *slog.Logger
	cron        *cron.Cron
}

func NewJanitor(enrollments persistence.EnrollmentRepository, retention time.Duration, clock clockwork.Clock, logger *slog.Logger) *Janitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Janitor{
		enrollments: enrollments,
		retention:   retention,
		clock:       clock,
		logger:      logger.With("module", "janitor"),
	}
}

// Sweep removes terminal enrollments completed before now minus retention.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	cutoff := j.clock.Now().UTC().Add(-j.retention)

	deleted, err := j.enrollments.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished enrollments: %w", err)
	}

	j.logger.InfoContext(ctx, "Retention sweep finished", "deleted", deleted, "cutoff", cutoff)

	return deleted, nil
}

// Start runs Sweep on the given cron schedule until Stop is called.
func (j *Janitor) Start(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithLocation(time.UTC))

	_, err := c.AddFunc(schedule, func() {
		_, err := j.Sweep(ctx)
		if err != nil {
			j.logger.ErrorContext(ctx, "Retention sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}

	j.cron = c
	c.Start()

	j.logger.InfoContext(ctx, "Retention janitor started", "schedule", schedule, "retention", j.retention)

	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}

	<-j.cron.Stop().Done()
}

// ValidateSchedule reports whether schedule is a valid cron expression.
func ValidateSchedule(schedule string) error {
	_, err := cron.ParseStandard(schedule)
	if err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}

	return nil
}
