package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/lib/pq"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// EnrollmentRepository handles enrollment rows and the scheduler claim protocol.
type EnrollmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEnrollmentRepository creates a new enrollment repository.
func NewEnrollmentRepository(db *sql.DB, logger *slog.Logger) *EnrollmentRepository {
	return &EnrollmentRepository{db: db, logger: logger}
}

const enrollmentColumns = `
			id
		  , flow_id
		  , flow_version
		  , owner_id
		  , member_id
		  , current_node_id
		  , status
		  , next_run_at
		  , entered_at
		  , updated_at
		  , completed_at
		  , last_event_id
		  , attempts
		  , steps
		  , visit
		  , claim_token
		  , claimed_until`

func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment, events []*models.ExecutionEvent) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO enrollments (id, flow_id, flow_version, owner_id, member_id, current_node_id, status,
			next_run_at, entered_at, updated_at, completed_at, last_event_id, attempts, steps, visit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		enrollment.ID,
		enrollment.FlowID,
		enrollment.FlowVersion,
		enrollment.OwnerID,
		enrollment.MemberID,
		enrollment.CurrentNodeID,
		enrollment.Status,
		enrollment.NextRunAt,
		enrollment.EnteredAt,
		enrollment.UpdatedAt,
		enrollment.CompletedAt,
		enrollment.LastEventID,
		enrollment.Attempts,
		enrollment.Steps,
		enrollment.Visit,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewEnrollmentError("Create", enrollment.ID, persistence.ErrAlreadyEnrolled)
		}

		return persistence.NewEnrollmentError("Create", enrollment.ID, err)
	}

	err = insertEvents(ctx, tx, events)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *EnrollmentRepository) Enrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT` + enrollmentColumns + `
		FROM enrollments
		WHERE id = $1
	`

	enrollment, err := r.scanEnrollment(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewEnrollmentError("Enrollment", id, persistence.ErrEnrollmentNotFound)
	}

	if err != nil {
		return nil, persistence.NewEnrollmentError("Enrollment", id, err)
	}

	return enrollment, nil
}

// ListByFlow returns the enrollments of a flow, optionally filtered by status.
func (r *EnrollmentRepository) ListByFlow(ctx context.Context, flowID string, status models.EnrollmentStatus) ([]*models.Enrollment, error) {
	query := `SELECT` + enrollmentColumns + `
		FROM enrollments
		WHERE flow_id = $1 AND ($2::text = '' OR status = $2)
		ORDER BY entered_at
	`

	rows, err := r.db.QueryContext(ctx, query, flowID, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}

	return r.collect(ctx, rows)
}

// ClaimDue stamps up to limit due enrollments with token. Rows locked by a
// concurrent claim are skipped rather than waited on.
func (r *EnrollmentRepository) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration, token string) ([]*models.Enrollment, error) {
	query := `
		UPDATE enrollments
		SET claim_token = $1, claimed_until = $2
		WHERE id IN (
			SELECT id FROM enrollments
			WHERE status IN ('active', 'waiting')
			  AND next_run_at <= $3
			  AND (claim_token = '' OR claimed_until IS NULL OR claimed_until <= $3)
			ORDER BY next_run_at, id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING` + enrollmentColumns

	rows, err := r.db.QueryContext(ctx, query, token, now.Add(lease), now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim enrollments: %w", err)
	}

	claimed, err := r.collect(ctx, rows)
	if err != nil {
		return nil, err
	}

	// RETURNING does not keep the sub-select order.
	sort.SliceStable(claimed, func(i, j int) bool {
		if claimed[i].NextRunAt.Equal(claimed[j].NextRunAt) {
			return claimed[i].ID < claimed[j].ID
		}

		return claimed[i].NextRunAt.Before(claimed[j].NextRunAt)
	})

	return claimed, nil
}

func (r *EnrollmentRepository) SaveStep(ctx context.Context, enrollment *models.Enrollment, token string, events []*models.ExecutionEvent) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE enrollments
		SET current_node_id = $3,
			status = $4,
			next_run_at = $5,
			updated_at = $6,
			completed_at = $7,
			last_event_id = $8,
			attempts = $9,
			steps = $10,
			visit = $11,
			claim_token = '',
			claimed_until = NULL
		WHERE id = $1 AND claim_token = $2 AND status IN ('active', 'waiting')
	`,
		enrollment.ID,
		token,
		enrollment.CurrentNodeID,
		enrollment.Status,
		enrollment.NextRunAt,
		enrollment.UpdatedAt,
		enrollment.CompletedAt,
		enrollment.LastEventID,
		enrollment.Attempts,
		enrollment.Steps,
		enrollment.Visit,
	)
	if err != nil {
		return persistence.NewEnrollmentError("SaveStep", enrollment.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewEnrollmentError("SaveStep", enrollment.ID, err)
	}

	if affected == 0 {
		err = persistence.NewEnrollmentError("SaveStep", enrollment.ID, persistence.ErrClaimLost)

		return err
	}

	err = insertEvents(ctx, tx, events)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *EnrollmentRepository) ReleaseClaim(ctx context.Context, id, token string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE enrollments SET claim_token = '', claimed_until = NULL WHERE id = $1 AND claim_token = $2`,
		id, token,
	)
	if err != nil {
		return persistence.NewEnrollmentError("ReleaseClaim", id, err)
	}

	return nil
}

func (r *EnrollmentRepository) Cancel(ctx context.Context, id string, at time.Time, event *models.ExecutionEvent) (_ *models.Enrollment, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	lastEventID := ""
	if event != nil {
		lastEventID = event.ID
	}

	query := `
		UPDATE enrollments
		SET status = 'cancelled',
			updated_at = $2,
			completed_at = $2,
			last_event_id = CASE WHEN $3::text = '' THEN last_event_id ELSE $3 END,
			claim_token = '',
			claimed_until = NULL
		WHERE id = $1 AND status IN ('active', 'waiting')
		RETURNING` + enrollmentColumns

	enrollment, err := r.scanEnrollment(tx.QueryRowContext(ctx, query, id, at, lastEventID))
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool

		err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM enrollments WHERE id = $1)`, id).Scan(&exists)
		if err != nil {
			return nil, persistence.NewEnrollmentError("Cancel", id, err)
		}

		if exists {
			err = persistence.NewEnrollmentError("Cancel", id, persistence.ErrEnrollmentFinished)
		} else {
			err = persistence.NewEnrollmentError("Cancel", id, persistence.ErrEnrollmentNotFound)
		}

		return nil, err
	}

	if err != nil {
		return nil, persistence.NewEnrollmentError("Cancel", id, err)
	}

	if event != nil {
		err = insertEvents(ctx, tx, []*models.ExecutionEvent{event})
		if err != nil {
			return nil, err
		}
	}

	err = tx.Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return enrollment, nil
}

func (r *EnrollmentRepository) PinnedVersions(ctx context.Context, flowID string) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT flow_version FROM enrollments
		WHERE flow_id = $1 AND status IN ('active', 'waiting')
		ORDER BY flow_version
	`, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pinned versions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	versions := make([]int, 0)

	for rows.Next() {
		var v int

		err := rows.Scan(&v)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}

		versions = append(versions, v)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating pinned versions: %w", err)
	}

	return versions, nil
}

func (r *EnrollmentRepository) DeleteFinishedBefore(ctx context.Context, t time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM enrollments
		WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < $1
	`, t)
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished enrollments: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted enrollments: %w", err)
	}

	return deleted, nil
}

func (r *EnrollmentRepository) collect(ctx context.Context, rows *sql.Rows) ([]*models.Enrollment, error) {
	defer closeRows(ctx, r.logger, rows)

	enrollments := make([]*models.Enrollment, 0)

	for rows.Next() {
		enrollment, err := r.scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}

		enrollments = append(enrollments, enrollment)
	}

	err := rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}

	return enrollments, nil
}

func (r *EnrollmentRepository) scanEnrollment(scanner interface {
	Scan(dest ...any) error
},
) (*models.Enrollment, error) {
	var e models.Enrollment

	err := scanner.Scan(
		&e.ID,
		&e.FlowID,
		&e.FlowVersion,
		&e.OwnerID,
		&e.MemberID,
		&e.CurrentNodeID,
		&e.Status,
		&e.NextRunAt,
		&e.EnteredAt,
		&e.UpdatedAt,
		&e.CompletedAt,
		&e.LastEventID,
		&e.Attempts,
		&e.Steps,
		&e.Visit,
		&e.ClaimToken,
		&e.ClaimedUntil,
	)
	if err != nil {
		return nil, err
	}

	return &e, nil
}
