package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/lib/pq"
)

// EventRepository is the append-only execution_events table.
type EventRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *sql.DB, logger *slog.Logger) *EventRepository {
	return &EventRepository{db: db, logger: logger}
}

func insertEvents(ctx context.Context, exec execer, events []*models.ExecutionEvent) error {
	query := `
		INSERT INTO execution_events (id, flow_id, enrollment_id, node_id, kind, at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	for _, ev := range events {
		var payload any

		if len(ev.Payload) > 0 {
			data, err := json.Marshal(ev.Payload)
			if err != nil {
				return fmt.Errorf("failed to marshal event payload: %w", err)
			}

			payload = data
		}

		_, err := exec.ExecContext(ctx, query,
			ev.ID,
			ev.FlowID,
			ev.EnrollmentID,
			ev.NodeID,
			ev.Kind,
			ev.At,
			payload,
		)
		if err != nil {
			return fmt.Errorf("failed to insert event %s: %w", ev.ID, err)
		}
	}

	return nil
}

func (r *EventRepository) Append(ctx context.Context, events ...*models.ExecutionEvent) error {
	return insertEvents(ctx, r.db, events)
}

func (r *EventRepository) ByEnrollment(ctx context.Context, enrollmentID string) ([]*models.ExecutionEvent, error) {
	return r.query(ctx, `
		SELECT id, flow_id, enrollment_id, node_id, kind, at, payload
		FROM execution_events
		WHERE enrollment_id = $1
		ORDER BY at, id
	`, enrollmentID)
}

func (r *EventRepository) ByFlow(ctx context.Context, flowID string) ([]*models.ExecutionEvent, error) {
	return r.query(ctx, `
		SELECT id, flow_id, enrollment_id, node_id, kind, at, payload
		FROM execution_events
		WHERE flow_id = $1
		ORDER BY at, id
	`, flowID)
}

func (r *EventRepository) Unpublished(ctx context.Context, limit int) ([]*models.ExecutionEvent, error) {
	return r.query(ctx, `
		SELECT id, flow_id, enrollment_id, node_id, kind, at, payload
		FROM execution_events
		WHERE published_at IS NULL
		ORDER BY at, id
		LIMIT $1
	`, limit)
}

func (r *EventRepository) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE execution_events SET published_at = $2
		WHERE id = ANY($1) AND published_at IS NULL
	`, pq.Array(ids), at)
	if err != nil {
		return fmt.Errorf("failed to mark events published: %w", err)
	}

	return nil
}

func (r *EventRepository) query(ctx context.Context, query string, arg any) ([]*models.ExecutionEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	events := make([]*models.ExecutionEvent, 0)

	for rows.Next() {
		var (
			ev      models.ExecutionEvent
			payload []byte
		)

		err := rows.Scan(&ev.ID, &ev.FlowID, &ev.EnrollmentID, &ev.NodeID, &ev.Kind, &ev.At, &payload)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		if len(payload) > 0 {
			err = json.Unmarshal(payload, &ev.Payload)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
			}
		}

		events = append(events, &ev)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}
