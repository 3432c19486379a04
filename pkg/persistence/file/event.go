package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
)

// EventRepository keeps one append-only document per enrollment. Every new
// event is also queued as its own document under outbox/ until it is marked
// published.
type EventRepository struct {
	store *store
}

func eventsPath(s *store, enrollmentID string) string {
	return s.path("events", enrollmentID+".json")
}

func outboxPath(s *store, eventID string) string {
	return s.path("outbox", eventID+".json")
}

func readEvents(s *store, enrollmentID string) ([]*models.ExecutionEvent, error) {
	var events []*models.ExecutionEvent

	err := s.read(eventsPath(s, enrollmentID), &events)
	if errors.Is(err, os.ErrNotExist) {
		return []*models.ExecutionEvent{}, nil
	}

	if err != nil {
		return nil, err
	}

	return events, nil
}

// appendEvents must be called with the store mutex held.
func appendEvents(s *store, events []*models.ExecutionEvent) error {
	grouped := make(map[string][]*models.ExecutionEvent)
	order := make([]string, 0)

	for _, ev := range events {
		if _, ok := grouped[ev.EnrollmentID]; !ok {
			order = append(order, ev.EnrollmentID)
		}

		grouped[ev.EnrollmentID] = append(grouped[ev.EnrollmentID], ev)
	}

	for _, enrollmentID := range order {
		if err := validateID(enrollmentID); err != nil {
			return persistence.NewEnrollmentError("AppendEvents", enrollmentID, err)
		}

		existing, err := readEvents(s, enrollmentID)
		if err != nil {
			return err
		}

		seen := make(map[string]bool, len(existing))
		for _, ev := range existing {
			seen[ev.ID] = true
		}

		added := make([]*models.ExecutionEvent, 0, len(grouped[enrollmentID]))

		for _, ev := range grouped[enrollmentID] {
			if seen[ev.ID] {
				continue
			}

			if err := validateID(ev.ID); err != nil {
				return fmt.Errorf("invalid event id: %w", err)
			}

			seen[ev.ID] = true
			existing = append(existing, ev)
			added = append(added, ev)
		}

		if err := s.write(eventsPath(s, enrollmentID), existing); err != nil {
			return err
		}

		for _, ev := range added {
			if err := s.write(outboxPath(s, ev.ID), ev); err != nil {
				return err
			}
		}
	}

	return nil
}

func (r *EventRepository) Append(_ context.Context, events ...*models.ExecutionEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return appendEvents(r.store, events)
}

func (r *EventRepository) ByEnrollment(_ context.Context, enrollmentID string) ([]*models.ExecutionEvent, error) {
	if err := validateID(enrollmentID); err != nil {
		return nil, persistence.NewEnrollmentError("ByEnrollment", enrollmentID, err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return readEvents(r.store, enrollmentID)
}

// ByFlow returns every event of a flow ordered by time.
func (r *EventRepository) ByFlow(_ context.Context, flowID string) ([]*models.ExecutionEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	ids, err := r.store.list(r.store.path("events"))
	if err != nil {
		return nil, err
	}

	out := make([]*models.ExecutionEvent, 0)

	for _, id := range ids {
		events, err := readEvents(r.store, id)
		if err != nil {
			return nil, err
		}

		for _, ev := range events {
			if ev.FlowID == flowID {
				out = append(out, ev)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })

	return out, nil
}

// Unpublished returns queued outbox events ordered by time.
func (r *EventRepository) Unpublished(_ context.Context, limit int) ([]*models.ExecutionEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	ids, err := r.store.list(r.store.path("outbox"))
	if err != nil {
		return nil, err
	}

	out := make([]*models.ExecutionEvent, 0, len(ids))

	for _, id := range ids {
		var ev models.ExecutionEvent

		err := r.store.read(outboxPath(r.store, id), &ev)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}

		if err != nil {
			return nil, err
		}

		out = append(out, &ev)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].ID < out[j].ID
		}

		return out[i].At.Before(out[j].At)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

// MarkPublished drops the events from the outbox.
func (r *EventRepository) MarkPublished(_ context.Context, ids []string, _ time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, id := range ids {
		if err := validateID(id); err != nil {
			return fmt.Errorf("invalid event id: %w", err)
		}

		err := os.Remove(outboxPath(r.store, id))
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove outbox entry %s: %w", id, err)
		}
	}

	return nil
}
