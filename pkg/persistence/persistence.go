// Package persistence provides the data storage abstraction layer for flows, enrollments and events.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/nurture/pkg/models"
)

type Persistence interface {
	FlowRepository() FlowRepository
	EnrollmentRepository() EnrollmentRepository
	EventRepository() EventRepository
	MemberRepository() MemberRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// FlowRepository stores flow headers, their drafts and their published versions.
type FlowRepository interface {
	SaveFlow(ctx context.Context, flow *models.Flow) error
	Flow(ctx context.Context, id string) (*models.Flow, error)
	ListFlows(ctx context.Context, ownerID string) ([]*models.Flow, error)

	// SaveDraft stores draft when its revision is exactly one past the stored
	// one (or the draft is new with revision 1). Otherwise ErrDraftConflict.
	SaveDraft(ctx context.Context, draft *models.Draft) error
	Draft(ctx context.Context, flowID string) (*models.Draft, error)

	// PublishVersion appends def and advances the flow's latest version in one
	// step. It fails with ErrVersionConflict when def.Version is not next.
	PublishVersion(ctx context.Context, def *models.FlowDefinition) error
	Version(ctx context.Context, flowID string, version int) (*models.FlowDefinition, error)
	Versions(ctx context.Context, flowID string) ([]int, error)
	DeleteVersion(ctx context.Context, flowID string, version int) error
}

// EnrollmentRepository owns enrollment rows and the claim protocol used by
// the scheduler to partition due work between workers.
type EnrollmentRepository interface {
	// Create stores a new enrollment with its initial events. A member has at
	// most one non-terminal enrollment per flow (ErrAlreadyEnrolled).
	Create(ctx context.Context, enrollment *models.Enrollment, events []*models.ExecutionEvent) error
	Enrollment(ctx context.Context, id string) (*models.Enrollment, error)
	ListByFlow(ctx context.Context, flowID string, status models.EnrollmentStatus) ([]*models.Enrollment, error)

	// ClaimDue atomically selects up to limit runnable enrollments whose
	// next_run_at <= now and that hold no live lease, oldest due first, and
	// stamps them with token until now+lease.
	ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration, token string) ([]*models.Enrollment, error)

	// SaveStep persists the outcome of a step and releases the claim. The
	// write only happens if the row still carries token and is runnable,
	// otherwise ErrClaimLost.
	SaveStep(ctx context.Context, enrollment *models.Enrollment, token string, events []*models.ExecutionEvent) error

	// ReleaseClaim drops the lease without changing the enrollment.
	ReleaseClaim(ctx context.Context, id, token string) error

	// Cancel moves a runnable enrollment to cancelled and records event.
	Cancel(ctx context.Context, id string, at time.Time, event *models.ExecutionEvent) (*models.Enrollment, error)

	// PinnedVersions returns the flow versions referenced by non-terminal enrollments.
	PinnedVersions(ctx context.Context, flowID string) ([]int, error)

	// DeleteFinishedBefore removes terminal enrollments completed before t.
	DeleteFinishedBefore(ctx context.Context, t time.Time) (int64, error)
}

// EventRepository is the append-only execution event log.
type EventRepository interface {
	// Append stores events, ignoring ids that already exist.
	Append(ctx context.Context, events ...*models.ExecutionEvent) error
	ByEnrollment(ctx context.Context, enrollmentID string) ([]*models.ExecutionEvent, error)
	ByFlow(ctx context.Context, flowID string) ([]*models.ExecutionEvent, error)

	// Unpublished returns up to limit stored events not yet delivered to the
	// event bus, oldest first.
	Unpublished(ctx context.Context, limit int) ([]*models.ExecutionEvent, error)
	// MarkPublished records that the events with ids reached the event bus.
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
}

// MemberRepository is the member/lead store consumed by condition evaluation.
type MemberRepository interface {
	SaveMember(ctx context.Context, member *models.Member) error
	Member(ctx context.Context, id string) (*models.Member, error)
	AddInteraction(ctx context.Context, interaction *models.Interaction) error
	Interactions(ctx context.Context, memberID string) ([]models.Interaction, error)
}
