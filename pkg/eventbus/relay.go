package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/jonboulle/clockwork"
)

const defaultRelayBatch = 500

// Outbox is the stored side of the relay: events persisted but not yet
// confirmed on the bus.
type Outbox interface {
	Unpublished(ctx context.Context, limit int) ([]*models.ExecutionEvent, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
}

// Relay moves persisted execution events onto the bus. An event stays in
// the outbox until a publish of it succeeded, so a broker outage delays
// delivery instead of losing it. Delivery is at least once; consumers dedup
// by event id.
type Relay struct {
	bus    EventBus
	outbox Outbox
	clock  clockwork.Clock
	logger *slog.Logger
	batch  int
}

func NewRelay(bus EventBus, outbox Outbox, clock clockwork.Clock, logger *slog.Logger, batch int) *Relay {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if batch <= 0 {
		batch = defaultRelayBatch
	}

	return &Relay{
		bus:    bus,
		outbox: outbox,
		clock:  clock,
		logger: logger.With("module", "relay"),
		batch:  batch,
	}
}

// Deliver publishes events that were just persisted and marks the ones that
// made it. Events left unmarked are picked up by a later Flush.
func (r *Relay) Deliver(ctx context.Context, evs ...*models.ExecutionEvent) error {
	if len(evs) == 0 {
		return nil
	}

	published, pubErr := r.publish(ctx, evs)

	return errors.Join(pubErr, r.mark(ctx, published))
}

// Flush drains the outbox in batches and returns how many events it
// published. It stops at the first publish failure.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	total := 0

	for {
		pending, err := r.outbox.Unpublished(ctx, r.batch)
		if err != nil {
			return total, fmt.Errorf("failed to read outbox: %w", err)
		}

		if len(pending) == 0 {
			return total, nil
		}

		published, pubErr := r.publish(ctx, pending)

		err = errors.Join(pubErr, r.mark(ctx, published))
		total += len(published)

		if err != nil {
			return total, err
		}

		if len(pending) < r.batch {
			return total, nil
		}
	}
}

// publish stops at the first failure so per-enrollment order holds.
func (r *Relay) publish(ctx context.Context, evs []*models.ExecutionEvent) ([]string, error) {
	published := make([]string, 0, len(evs))

	for _, ev := range evs {
		err := PublishExecutionEvents(ctx, r.bus, ev)
		if err != nil {
			return published, err
		}

		published = append(published, ev.ID)
	}

	return published, nil
}

func (r *Relay) mark(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	err := r.outbox.MarkPublished(context.WithoutCancel(ctx), ids, r.clock.Now().UTC())
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to mark events published, they will be sent again", "count", len(ids), "error", err)

		return fmt.Errorf("failed to mark events published: %w", err)
	}

	return nil
}
