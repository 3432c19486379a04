package models

import "time"

// EventKind classifies an execution event.
type EventKind string

const (
	EventEntered         EventKind = "entered"
	EventSent            EventKind = "sent"
	EventDelivered       EventKind = "delivered"
	EventOpened          EventKind = "opened"
	EventClicked         EventKind = "clicked"
	EventBounced         EventKind = "bounced"
	EventUnsubscribed    EventKind = "unsubscribed"
	EventConditionResult EventKind = "condition_result"
	EventError           EventKind = "error"
	EventCompleted       EventKind = "completed"
	EventFailed          EventKind = "failed"
	EventCancelled       EventKind = "cancelled"
)

// ProviderFeedback reports whether the kind is reported by the email
// provider out of band rather than produced by the engine.
func (k EventKind) ProviderFeedback() bool {
	switch k {
	case EventDelivered, EventOpened, EventClicked, EventBounced, EventUnsubscribed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the kind closes an enrollment.
func (k EventKind) Terminal() bool {
	return k == EventCompleted || k == EventFailed || k == EventCancelled
}

// ExecutionEvent is an immutable, append-only record of something that
// happened to an enrollment at a node.
type ExecutionEvent struct {
	ID           string         `json:"id"`
	FlowID       string         `json:"flow_id"`
	EnrollmentID string         `json:"enrollment_id"`
	NodeID       string         `json:"node_id"`
	Kind         EventKind      `json:"kind"`
	At           time.Time      `json:"at"`
	Payload      map[string]any `json:"payload,omitempty"`
}
