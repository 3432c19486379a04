package stats

import (
	"context"
	"strings"
	"sync"

	"github.com/dukex/nurture/pkg/models"
)

// Counter names. Node counters are stored as "node:<node_id>:<name>".
const (
	CounterActive    = "active"
	CounterCompleted = "completed"
	CounterFailed    = "failed"
	CounterCancelled = "cancelled"

	CounterProcessed    = "processed"
	CounterDelivered    = "delivered"
	CounterOpened       = "opened"
	CounterClicked      = "clicked"
	CounterBounced      = "bounced"
	CounterUnsubscribed = "unsubscribed"

	nodePrefix = "node:"
)

// Increment adds N to one counter.
type Increment struct {
	Field string
	N     int64
}

func nodeField(nodeID, name string) string {
	return nodePrefix + nodeID + ":" + name
}

// CounterStore holds materialized counters per flow.
type CounterStore interface {
	// Apply adds the increments unless eventID was already applied to the
	// flow. It reports whether the increments were applied.
	Apply(ctx context.Context, flowID, eventID string, incs []Increment) (bool, error)
	Load(ctx context.Context, flowID string) (*models.FlowStats, error)
	Reset(ctx context.Context, flowID string) error
}

// fromFields builds the read model from raw counter fields.
func fromFields(flowID string, fields map[string]int64) *models.FlowStats {
	out := &models.FlowStats{FlowID: flowID, Stats: make(map[string]models.NodeStats)}

	for field, n := range fields {
		switch field {
		case CounterActive:
			out.TriggerActive = n
		case CounterCompleted:
			out.Completed = n
		case CounterFailed:
			out.Failed = n
		case CounterCancelled:
			out.Cancelled = n
		default:
			rest, ok := strings.CutPrefix(field, nodePrefix)
			if !ok {
				continue
			}

			idx := strings.LastIndex(rest, ":")
			if idx <= 0 {
				continue
			}

			nodeID, name := rest[:idx], rest[idx+1:]
			node := out.Stats[nodeID]

			switch name {
			case CounterProcessed:
				node.Processed = n
			case CounterDelivered:
				node.Delivered = n
			case CounterOpened:
				node.Opened = n
			case CounterClicked:
				node.Clicked = n
			case CounterBounced:
				node.Bounced = n
			case CounterUnsubscribed:
				node.Unsubscribed = n
			default:
				continue
			}

			out.Stats[nodeID] = node
		}
	}

	return out
}

type flowCounters struct {
	fields map[string]int64
	seen   map[string]struct{}
}

// MemoryStore is an in-process CounterStore.
type MemoryStore struct {
	mu    sync.Mutex
	flows map[string]*flowCounters
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flows: make(map[string]*flowCounters)}
}

func (s *MemoryStore) Apply(_ context.Context, flowID, eventID string, incs []Increment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fc, ok := s.flows[flowID]
	if !ok {
		fc = &flowCounters{fields: make(map[string]int64), seen: make(map[string]struct{})}
		s.flows[flowID] = fc
	}

	if _, dup := fc.seen[eventID]; dup {
		return false, nil
	}

	fc.seen[eventID] = struct{}{}

	for _, inc := range incs {
		fc.fields[inc.Field] += inc.N
	}

	return true, nil
}

func (s *MemoryStore) Load(_ context.Context, flowID string) (*models.FlowStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fc, ok := s.flows[flowID]
	if !ok {
		return fromFields(flowID, nil), nil
	}

	return fromFields(flowID, fc.fields), nil
}

func (s *MemoryStore) Reset(_ context.Context, flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.flows, flowID)

	return nil
}
