package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/nurture/pkg/eventbus"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// providerEventNamespace seeds deterministic ids for provider feedback
// items that carry no id of their own.
var providerEventNamespace = uuid.MustParse("6f1c9a52-4b7e-4d8a-9a61-3f0c2d7e8b14")

// Enrollment starts, inspects and cancels member journeys.
type Enrollment struct {
	persistence persistence.Persistence
	relay       *eventbus.Relay
	clock       clockwork.Clock
	logger      *slog.Logger
}

// NewEnrollment creates a new enrollment service. bus may be nil, in which
// case stored events wait in the outbox for the scheduler's relay.
func NewEnrollment(persistence persistence.Persistence, bus eventbus.EventBus, clock clockwork.Clock, logger *slog.Logger) *Enrollment {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	var relay *eventbus.Relay
	if bus != nil {
		relay = eventbus.NewRelay(bus, persistence.EventRepository(), clock, logger, 0)
	}

	return &Enrollment{
		persistence: persistence,
		relay:       relay,
		clock:       clock,
		logger:      logger.With("module", "enrollment_service"),
	}
}

// publish hands stored events to the bus. Failures leave them in the outbox.
func (e *Enrollment) publish(ctx context.Context, evs ...*models.ExecutionEvent) {
	if e.relay == nil {
		return
	}

	err := e.relay.Deliver(ctx, evs...)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish execution events, left in outbox", "error", err)
	}
}

// Enroll starts memberID at the trigger of the flow's latest published
// version. The enrollment stays pinned to that version.
func (e *Enrollment) Enroll(ctx context.Context, ownerID, flowID, memberID string) (*models.Enrollment, error) {
	if strings.TrimSpace(memberID) == "" {
		return nil, NewValidationError("Enroll", "member_required", "member_id is required", ErrInvalidRequest)
	}

	flow, err := e.persistence.FlowRepository().Flow(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if flow.OwnerID != ownerID {
		return nil, ErrNotOwner
	}

	if flow.LatestVersion == 0 {
		return nil, ErrFlowNotPublished
	}

	member, err := e.persistence.MemberRepository().Member(ctx, memberID)
	if err != nil {
		return nil, err
	}

	if member.OwnerID != ownerID {
		return nil, ErrMemberOwnerDiffer
	}

	def, err := e.persistence.FlowRepository().Version(ctx, flowID, flow.LatestVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest version: %w", err)
	}

	trigger, ok := def.Graph.Trigger()
	if !ok {
		return nil, fmt.Errorf("flow %s@v%d has no trigger", flowID, def.Version)
	}

	now := e.clock.Now().UTC()
	enrollment := &models.Enrollment{
		ID:            newID(),
		FlowID:        flowID,
		FlowVersion:   def.Version,
		OwnerID:       ownerID,
		MemberID:      memberID,
		CurrentNodeID: trigger.ID,
		Status:        models.EnrollmentStatusActive,
		NextRunAt:     now,
		EnteredAt:     now,
		UpdatedAt:     now,
	}

	entered := &models.ExecutionEvent{
		ID:           newID(),
		FlowID:       flowID,
		EnrollmentID: enrollment.ID,
		NodeID:       trigger.ID,
		Kind:         models.EventEntered,
		At:           now,
		Payload:      map[string]any{"node_type": string(models.NodeTypeTrigger)},
	}
	enrollment.LastEventID = entered.ID

	err = e.persistence.EnrollmentRepository().Create(ctx, enrollment, []*models.ExecutionEvent{entered})
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Member enrolled",
		"flow_id", flowID,
		"flow_version", def.Version,
		"enrollment_id", enrollment.ID,
		"member_id", memberID,
	)

	e.publish(ctx, entered)

	return enrollment, nil
}

// EnrollmentView is an enrollment with its event log.
type EnrollmentView struct {
	*models.Enrollment

	Events []*models.ExecutionEvent `json:"events"`
}

// Get returns an enrollment of ownerID with its events.
func (e *Enrollment) Get(ctx context.Context, ownerID, enrollmentID string) (*EnrollmentView, error) {
	enrollment, err := e.persistence.EnrollmentRepository().Enrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}

	if enrollment.OwnerID != ownerID {
		return nil, ErrNotOwner
	}

	evs, err := e.persistence.EventRepository().ByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}

	return &EnrollmentView{Enrollment: enrollment, Events: evs}, nil
}

// Cancel stops a running enrollment. The scheduler skips it from the next
// step on.
func (e *Enrollment) Cancel(ctx context.Context, ownerID, enrollmentID string) (*models.Enrollment, error) {
	current, err := e.persistence.EnrollmentRepository().Enrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}

	if current.OwnerID != ownerID {
		return nil, ErrNotOwner
	}

	now := e.clock.Now().UTC()
	cancelled := &models.ExecutionEvent{
		ID:           newID(),
		FlowID:       current.FlowID,
		EnrollmentID: current.ID,
		NodeID:       current.CurrentNodeID,
		Kind:         models.EventCancelled,
		At:           now,
	}

	enrollment, err := e.persistence.EnrollmentRepository().Cancel(ctx, enrollmentID, now, cancelled)
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Enrollment cancelled", "flow_id", enrollment.FlowID, "enrollment_id", enrollment.ID)

	e.publish(ctx, cancelled)

	return enrollment, nil
}

// ProviderEvent is one item of the email provider's feedback feed.
type ProviderEvent struct {
	ID           string           `json:"id,omitempty"`
	EnrollmentID string           `json:"enrollment_id" validate:"required"`
	NodeID       string           `json:"node_id"       validate:"required"`
	Kind         models.EventKind `json:"kind"          validate:"required,oneof=delivered opened clicked bounced unsubscribed"`
	At           time.Time        `json:"at"            validate:"required"`
}

func (p ProviderEvent) eventID() string {
	if p.ID != "" {
		return p.ID
	}

	name := strings.Join([]string{p.EnrollmentID, p.NodeID, string(p.Kind), p.At.UTC().Format(time.RFC3339Nano)}, "|")

	return uuid.NewSHA1(providerEventNamespace, []byte(name)).String()
}

// RecordProviderEvents appends provider feedback to the event log. Items of
// unknown enrollments are skipped. Redelivered items keep their id, so they
// are stored and counted once.
func (e *Enrollment) RecordProviderEvents(ctx context.Context, items []ProviderEvent) (int, error) {
	evs := make([]*models.ExecutionEvent, 0, len(items))
	flows := make(map[string]string)

	for _, item := range items {
		if !item.Kind.ProviderFeedback() {
			return 0, fmt.Errorf("%w: %q", ErrInvalidEventKind, item.Kind)
		}

		flowID, ok := flows[item.EnrollmentID]
		if !ok {
			enrollment, err := e.persistence.EnrollmentRepository().Enrollment(ctx, item.EnrollmentID)
			if persistence.IsEnrollmentNotFound(err) {
				e.logger.WarnContext(ctx, "Dropping provider event of unknown enrollment", "enrollment_id", item.EnrollmentID)

				continue
			}

			if err != nil {
				return 0, err
			}

			flowID = enrollment.FlowID
			flows[item.EnrollmentID] = flowID
		}

		evs = append(evs, &models.ExecutionEvent{
			ID:           item.eventID(),
			FlowID:       flowID,
			EnrollmentID: item.EnrollmentID,
			NodeID:       item.NodeID,
			Kind:         item.Kind,
			At:           item.At.UTC(),
		})
	}

	if len(evs) == 0 {
		return 0, nil
	}

	err := e.persistence.EventRepository().Append(ctx, evs...)
	if err != nil {
		return 0, fmt.Errorf("failed to append provider events: %w", err)
	}

	e.publish(ctx, evs...)

	return len(evs), nil
}
