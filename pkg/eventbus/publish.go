package eventbus

import (
	"context"
	"fmt"

	"github.com/dukex/nurture/pkg/events"
	"github.com/dukex/nurture/pkg/models"
)

// PublishExecutionEvents announces persisted execution events in order,
// keyed by enrollment. It stops at the first failure.
func PublishExecutionEvents(ctx context.Context, bus EventBus, evs ...*models.ExecutionEvent) error {
	for _, ev := range evs {
		err := bus.Publish(ctx, ev.EnrollmentID, events.NewExecutionRecorded(bus.GenerateID(), ev))
		if err != nil {
			return fmt.Errorf("failed to publish %s event %s: %w", ev.Kind, ev.ID, err)
		}
	}

	return nil
}
