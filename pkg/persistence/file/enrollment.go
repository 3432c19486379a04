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

// EnrollmentRepository handles enrollment documents and their claims.
type EnrollmentRepository struct {
	store *store
}

// enrollmentRecord adds the claim columns that the model keeps out of API payloads.
type enrollmentRecord struct {
	models.Enrollment

	ClaimToken   string     `json:"claim_token,omitempty"`
	ClaimedUntil *time.Time `json:"claimed_until,omitempty"`
}

func toRecord(e *models.Enrollment) enrollmentRecord {
	return enrollmentRecord{Enrollment: *e, ClaimToken: e.ClaimToken, ClaimedUntil: e.ClaimedUntil}
}

func (rec enrollmentRecord) model() *models.Enrollment {
	e := rec.Enrollment
	e.ClaimToken = rec.ClaimToken
	e.ClaimedUntil = rec.ClaimedUntil

	return &e
}

func (r *EnrollmentRepository) path(id string) string {
	return r.store.path("enrollments", id+".json")
}

func (r *EnrollmentRepository) read(id string) (*models.Enrollment, error) {
	var rec enrollmentRecord

	err := r.store.read(r.path(id), &rec)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewEnrollmentError("Enrollment", id, persistence.ErrEnrollmentNotFound)
	}

	if err != nil {
		return nil, persistence.NewEnrollmentError("Enrollment", id, err)
	}

	return rec.model(), nil
}

func (r *EnrollmentRepository) write(e *models.Enrollment) error {
	return r.store.write(r.path(e.ID), toRecord(e))
}

func (r *EnrollmentRepository) all() ([]*models.Enrollment, error) {
	ids, err := r.store.list(r.store.path("enrollments"))
	if err != nil {
		return nil, err
	}

	out := make([]*models.Enrollment, 0, len(ids))

	for _, id := range ids {
		e, err := r.read(id)
		if err != nil {
			return nil, err
		}

		out = append(out, e)
	}

	return out, nil
}

func (r *EnrollmentRepository) Create(_ context.Context, enrollment *models.Enrollment, events []*models.ExecutionEvent) error {
	if err := validateID(enrollment.ID); err != nil {
		return persistence.NewEnrollmentError("Create", enrollment.ID, err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	existing, err := r.all()
	if err != nil {
		return err
	}

	for _, e := range existing {
		if e.FlowID == enrollment.FlowID && e.MemberID == enrollment.MemberID && !e.Status.Terminal() {
			return persistence.NewEnrollmentError("Create", enrollment.ID, persistence.ErrAlreadyEnrolled)
		}
	}

	if err := r.write(enrollment); err != nil {
		return persistence.NewEnrollmentError("Create", enrollment.ID, err)
	}

	return appendEvents(r.store, events)
}

func (r *EnrollmentRepository) Enrollment(_ context.Context, id string) (*models.Enrollment, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewEnrollmentError("Enrollment", id, err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.read(id)
}

// ListByFlow returns the enrollments of a flow, optionally filtered by status.
func (r *EnrollmentRepository) ListByFlow(_ context.Context, flowID string, status models.EnrollmentStatus) ([]*models.Enrollment, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	all, err := r.all()
	if err != nil {
		return nil, err
	}

	out := make([]*models.Enrollment, 0)

	for _, e := range all {
		if e.FlowID != flowID || (status != "" && e.Status != status) {
			continue
		}

		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].EnteredAt.Before(out[j].EnteredAt) })

	return out, nil
}

func (r *EnrollmentRepository) ClaimDue(_ context.Context, now time.Time, limit int, lease time.Duration, token string) ([]*models.Enrollment, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	all, err := r.all()
	if err != nil {
		return nil, err
	}

	due := make([]*models.Enrollment, 0)

	for _, e := range all {
		if e.Due(now) && e.Claimable(now) {
			due = append(due, e)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		if due[i].NextRunAt.Equal(due[j].NextRunAt) {
			return due[i].ID < due[j].ID
		}

		return due[i].NextRunAt.Before(due[j].NextRunAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	until := now.Add(lease)

	for _, e := range due {
		e.ClaimToken = token
		e.ClaimedUntil = &until

		if err := r.write(e); err != nil {
			return nil, fmt.Errorf("failed to claim enrollment %s: %w", e.ID, err)
		}
	}

	return due, nil
}

func (r *EnrollmentRepository) SaveStep(_ context.Context, enrollment *models.Enrollment, token string, events []*models.ExecutionEvent) error {
	if err := validateID(enrollment.ID); err != nil {
		return persistence.NewEnrollmentError("SaveStep", enrollment.ID, err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, err := r.read(enrollment.ID)
	if err != nil {
		return err
	}

	if current.ClaimToken != token || !current.Status.Runnable() {
		return persistence.NewEnrollmentError("SaveStep", enrollment.ID, persistence.ErrClaimLost)
	}

	next := enrollment.Clone()
	next.ClaimToken = ""
	next.ClaimedUntil = nil

	if err := r.write(next); err != nil {
		return persistence.NewEnrollmentError("SaveStep", enrollment.ID, err)
	}

	return appendEvents(r.store, events)
}

func (r *EnrollmentRepository) ReleaseClaim(_ context.Context, id, token string) error {
	if err := validateID(id); err != nil {
		return persistence.NewEnrollmentError("ReleaseClaim", id, err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, err := r.read(id)
	if err != nil {
		return err
	}

	if current.ClaimToken != token {
		return nil
	}

	current.ClaimToken = ""
	current.ClaimedUntil = nil

	return r.write(current)
}

func (r *EnrollmentRepository) Cancel(_ context.Context, id string, at time.Time, event *models.ExecutionEvent) (*models.Enrollment, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewEnrollmentError("Cancel", id, err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, err := r.read(id)
	if err != nil {
		return nil, err
	}

	if current.Status.Terminal() {
		return nil, persistence.NewEnrollmentError("Cancel", id, persistence.ErrEnrollmentFinished)
	}

	current.Status = models.EnrollmentStatusCancelled
	current.UpdatedAt = at
	current.CompletedAt = &at
	current.ClaimToken = ""
	current.ClaimedUntil = nil

	if event != nil {
		current.LastEventID = event.ID
	}

	if err := r.write(current); err != nil {
		return nil, persistence.NewEnrollmentError("Cancel", id, err)
	}

	if event != nil {
		if err := appendEvents(r.store, []*models.ExecutionEvent{event}); err != nil {
			return nil, err
		}
	}

	return current, nil
}

func (r *EnrollmentRepository) PinnedVersions(_ context.Context, flowID string) ([]int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	all, err := r.all()
	if err != nil {
		return nil, err
	}

	seen := make(map[int]bool)
	versions := make([]int, 0)

	for _, e := range all {
		if e.FlowID != flowID || e.Status.Terminal() || seen[e.FlowVersion] {
			continue
		}

		seen[e.FlowVersion] = true
		versions = append(versions, e.FlowVersion)
	}

	sort.Ints(versions)

	return versions, nil
}

func (r *EnrollmentRepository) DeleteFinishedBefore(_ context.Context, t time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	all, err := r.all()
	if err != nil {
		return 0, err
	}

	var deleted int64

	for _, e := range all {
		if !e.Status.Terminal() || e.CompletedAt == nil || !e.CompletedAt.Before(t) {
			continue
		}

		if err := os.Remove(r.path(e.ID)); err != nil && !os.IsNotExist(err) {
			return deleted, fmt.Errorf("failed to delete enrollment %s: %w", e.ID, err)
		}

		deleted++
	}

	return deleted, nil
}
