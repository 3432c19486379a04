// Package events defines the messages published on the nurture event bus.
package events

import (
	"time"

	"github.com/dukex/nurture/pkg/models"
)

type EventType string

// Topic carries every bus message. Messages are keyed by enrollment id so
// partitioned transports keep the per-enrollment order.
const Topic = "nurture.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// ExecutionRecordedEvent announces an execution event that was persisted.
	ExecutionRecordedEvent EventType = "execution.recorded"
	// StatsRebuildRequestedEvent asks the stats consumer to replay a flow's log.
	StatsRebuildRequestedEvent EventType = "stats.rebuild_requested"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	FlowID    string    `json:"flow_id"`
}

type ExecutionRecorded struct {
	BaseEvent

	Event models.ExecutionEvent `json:"event"`
}

func (e ExecutionRecorded) GetType() EventType {
	return ExecutionRecordedEvent
}

// NewExecutionRecorded wraps a persisted execution event for publishing.
func NewExecutionRecorded(id string, ev *models.ExecutionEvent) ExecutionRecorded {
	return ExecutionRecorded{
		BaseEvent: BaseEvent{
			ID:        id,
			Type:      ExecutionRecordedEvent,
			Timestamp: time.Now().UTC(),
			FlowID:    ev.FlowID,
		},
		Event: *ev,
	}
}

type StatsRebuildRequested struct {
	BaseEvent

	RequestedBy string `json:"requested_by,omitempty"`
}

func (e StatsRebuildRequested) GetType() EventType {
	return StatsRebuildRequestedEvent
}
