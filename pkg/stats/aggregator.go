// Package stats materializes per-flow and per-node counters from the
// execution event stream.
package stats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/nurture/pkg/eventbus"
	"github.com/dukex/nurture/pkg/events"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
)

// Increments maps an execution event to the counter changes it causes.
func Increments(ev *models.ExecutionEvent) []Increment {
	switch ev.Kind {
	case models.EventEntered:
		incs := []Increment{{Field: nodeField(ev.NodeID, CounterProcessed), N: 1}}

		if nodeType, _ := ev.Payload["node_type"].(string); nodeType == string(models.NodeTypeTrigger) {
			incs = append(incs, Increment{Field: CounterActive, N: 1})
		}

		return incs
	case models.EventDelivered:
		return []Increment{{Field: nodeField(ev.NodeID, CounterDelivered), N: 1}}
	case models.EventOpened:
		return []Increment{{Field: nodeField(ev.NodeID, CounterOpened), N: 1}}
	case models.EventClicked:
		return []Increment{{Field: nodeField(ev.NodeID, CounterClicked), N: 1}}
	case models.EventBounced:
		return []Increment{{Field: nodeField(ev.NodeID, CounterBounced), N: 1}}
	case models.EventUnsubscribed:
		return []Increment{{Field: nodeField(ev.NodeID, CounterUnsubscribed), N: 1}}
	case models.EventCompleted:
		return []Increment{{Field: CounterCompleted, N: 1}, {Field: CounterActive, N: -1}}
	case models.EventFailed:
		return []Increment{{Field: CounterFailed, N: 1}, {Field: CounterActive, N: -1}}
	case models.EventCancelled:
		return []Increment{{Field: CounterCancelled, N: 1}, {Field: CounterActive, N: -1}}
	default:
		return nil
	}
}

type Aggregator struct {
	store  CounterStore
	events persistence.EventRepository
	logger *slog.Logger
}

func NewAggregator(store CounterStore, events persistence.EventRepository, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		events: events,
		logger: logger.With("module", "stats"),
	}
}

// Record applies one event. Events already applied are ignored.
func (a *Aggregator) Record(ctx context.Context, ev *models.ExecutionEvent) error {
	incs := Increments(ev)
	if len(incs) == 0 {
		return nil
	}

	applied, err := a.store.Apply(ctx, ev.FlowID, ev.ID, incs)
	if err != nil {
		return err
	}

	if !applied {
		a.logger.DebugContext(ctx, "Skipping duplicate event", "flow_id", ev.FlowID, "event_id", ev.ID)
	}

	return nil
}

// Query returns the materialized counters of a flow.
func (a *Aggregator) Query(ctx context.Context, flowID string) (*models.FlowStats, error) {
	return a.store.Load(ctx, flowID)
}

// Rebuild drops the counters of a flow and replays its persisted event log.
// The counters are reset before the log is read, so an event consumed live
// in between is either in the log or already counted; the seen set absorbs
// the overlap.
func (a *Aggregator) Rebuild(ctx context.Context, flowID string) (int, error) {
	err := a.store.Reset(ctx, flowID)
	if err != nil {
		return 0, err
	}

	evs, err := a.events.ByFlow(ctx, flowID)
	if err != nil {
		return 0, fmt.Errorf("failed to read events of flow %s: %w", flowID, err)
	}

	for _, ev := range evs {
		err = a.Record(ctx, ev)
		if err != nil {
			return 0, fmt.Errorf("failed to replay event %s: %w", ev.ID, err)
		}
	}

	a.logger.InfoContext(ctx, "Stats rebuilt", "flow_id", flowID, "events", len(evs))

	return len(evs), nil
}

// Register subscribes the aggregator to execution and rebuild events.
func (a *Aggregator) Register(bus eventbus.EventSubscriber) error {
	err := bus.Handle(events.ExecutionRecordedEvent, a.handleExecutionRecorded)
	if err != nil {
		return err
	}

	return bus.Handle(events.StatsRebuildRequestedEvent, a.handleRebuildRequested)
}

func (a *Aggregator) handleExecutionRecorded(ctx context.Context, event any) error {
	recorded, ok := event.(*events.ExecutionRecorded)
	if !ok {
		a.logger.ErrorContext(ctx, "Invalid event type for ExecutionRecorded")

		return nil
	}

	return a.Record(ctx, &recorded.Event)
}

func (a *Aggregator) handleRebuildRequested(ctx context.Context, event any) error {
	requested, ok := event.(*events.StatsRebuildRequested)
	if !ok {
		a.logger.ErrorContext(ctx, "Invalid event type for StatsRebuildRequested")

		return nil
	}

	_, err := a.Rebuild(ctx, requested.FlowID)

	return err
}
