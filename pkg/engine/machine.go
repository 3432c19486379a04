// Package engine advances enrollments through their pinned flow version one
// node at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/nurture/pkg/condition"
	"github.com/dukex/nurture/pkg/delay"
	"github.com/dukex/nurture/pkg/dispatch"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/google/uuid"
)

// DefaultMaxSteps bounds the steps one enrollment may execute.
const DefaultMaxSteps = 500

// dispatchNamespace derives event ids for send outcomes from the dispatch
// idempotency key, so one send is never logged twice.
var dispatchNamespace = uuid.MustParse("8f3b6c2e-4a1d-5e7f-9b0c-2d4e6f8a1c3e")

// Dispatcher sends email steps.
type Dispatcher interface {
	Send(ctx context.Context, req dispatch.SendRequest) (dispatch.Result, error)
}

// MemberSource reads the member store.
type MemberSource interface {
	Member(ctx context.Context, id string) (*models.Member, error)
	Interactions(ctx context.Context, memberID string) ([]models.Interaction, error)
}

// Config tunes a Machine.
type Config struct {
	Retry    dispatch.RetryPolicy
	MaxSteps int
}

// Machine is the enrollment state machine. It holds no enrollment state:
// every call to Advance works on the enrollment it is given.
type Machine struct {
	dispatcher Dispatcher
	members    MemberSource
	locations  delay.LocationLookup
	retry      dispatch.RetryPolicy
	maxSteps   int
	logger     *slog.Logger
}

func NewMachine(
	dispatcher Dispatcher,
	members MemberSource,
	locations delay.LocationLookup,
	logger *slog.Logger,
	cfg Config,
) *Machine {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}

	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = dispatch.DefaultRetryPolicy()
	}

	if locations == nil {
		locations = delay.Locations{}
	}

	return &Machine{
		dispatcher: dispatcher,
		members:    members,
		locations:  locations,
		retry:      cfg.Retry,
		maxSteps:   cfg.MaxSteps,
		logger:     logger.With("module", "engine"),
	}
}

// step is the working state of one Advance call.
type step struct {
	flow   *models.FlowDefinition
	next   *models.Enrollment
	now    time.Time
	events []*models.ExecutionEvent
}

func (s *step) record(nodeID string, kind models.EventKind, payload map[string]any) {
	s.recordAs(newEventID(), nodeID, kind, payload)
}

func (s *step) recordAs(id, nodeID string, kind models.EventKind, payload map[string]any) {
	ev := &models.ExecutionEvent{
		ID:           id,
		FlowID:       s.next.FlowID,
		EnrollmentID: s.next.ID,
		NodeID:       nodeID,
		Kind:         kind,
		At:           s.now,
		Payload:      payload,
	}

	s.events = append(s.events, ev)
	s.next.LastEventID = ev.ID
}

func (s *step) fail(nodeID string, cause error) {
	s.record(nodeID, models.EventError, map[string]any{"error": cause.Error()})
	s.finish(nodeID, models.EnrollmentStatusFailed, models.EventFailed)
}

func (s *step) finish(nodeID string, status models.EnrollmentStatus, kind models.EventKind) {
	now := s.now

	s.next.Status = status
	s.next.CompletedAt = &now
	s.record(nodeID, kind, nil)
}

// follow moves the enrollment along the edge leaving from with handle, or
// completes it when there is none.
func (s *step) follow(from string, handle models.Handle) {
	target, ok := s.flow.Graph.Successor(from, handle)
	if !ok {
		s.finish(from, models.EnrollmentStatusCompleted, models.EventCompleted)

		return
	}

	node, _ := s.flow.Graph.Node(target)

	s.next.CurrentNodeID = target
	s.next.Status = models.EnrollmentStatusActive
	s.next.NextRunAt = s.now
	s.next.Attempts = 0
	s.next.Visit++
	s.record(target, models.EventEntered, map[string]any{"node_type": string(node.Type)})
}

// Advance executes the enrollment's current node and returns the updated
// enrollment with the events it produced. The input enrollment is not
// modified. When a store the step depends on fails, the node is scheduled
// again under the retry policy and the enrollment fails once it is
// exhausted. A returned error means the step could not run at all and
// nothing should be persisted.
func (m *Machine) Advance(
	ctx context.Context,
	enrollment *models.Enrollment,
	flow *models.FlowDefinition,
	now time.Time,
) (*models.Enrollment, []*models.ExecutionEvent, error) {
	if !enrollment.Status.Runnable() {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrNotRunnable, enrollment.ID, enrollment.Status)
	}

	if flow.ID != enrollment.FlowID || flow.Version != enrollment.FlowVersion {
		return nil, nil, fmt.Errorf("%w: %s@v%d", ErrVersionMismatch, flow.ID, flow.Version)
	}

	s := &step{flow: flow, next: enrollment.Clone(), now: now}
	s.next.UpdatedAt = now
	s.next.Steps++

	nodeID := enrollment.CurrentNodeID
	logger := m.logger.With("flow_id", flow.ID, "enrollment_id", enrollment.ID, "node_id", nodeID)

	if enrollment.Steps >= m.maxSteps {
		logger.WarnContext(ctx, "enrollment exceeded step limit", "steps", enrollment.Steps)
		s.fail(nodeID, ErrStepLimit)

		return s.next, s.events, nil
	}

	node, ok := flow.Graph.Node(nodeID)
	if !ok {
		s.fail(nodeID, ErrUnknownNode)

		return s.next, s.events, nil
	}

	parsed, err := models.ParseStep(node)
	if err != nil {
		s.fail(nodeID, err)

		return s.next, s.events, nil
	}

	switch st := parsed.(type) {
	case models.TriggerStep:
		s.follow(st.ID, models.HandleNone)
	case models.EmailStep:
		err = m.email(ctx, logger, s, st)
	case models.DelayStep:
		err = m.delay(ctx, logger, s, st)
	case models.ConditionStep:
		err = m.condition(ctx, logger, s, st)
	}

	if err != nil {
		stepErr := &StepError{EnrollmentID: enrollment.ID, NodeID: nodeID, Err: err}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, nil, stepErr
		}

		next, events := m.retryLater(ctx, logger, enrollment, flow, now, stepErr)

		return next, events, nil
	}

	return s.next, s.events, nil
}

// retryLater drops the partial step and schedules the same node again after
// the retry backoff, or fails the enrollment when attempts are exhausted.
func (m *Machine) retryLater(
	ctx context.Context,
	logger *slog.Logger,
	enrollment *models.Enrollment,
	flow *models.FlowDefinition,
	now time.Time,
	cause error,
) (*models.Enrollment, []*models.ExecutionEvent) {
	s := &step{flow: flow, next: enrollment.Clone(), now: now}
	s.next.UpdatedAt = now
	s.next.Steps++
	s.next.Attempts++

	if m.retry.Exhausted(s.next.Attempts) {
		logger.ErrorContext(ctx, "step failed permanently", "attempts", s.next.Attempts, "error", cause)
		s.fail(enrollment.CurrentNodeID, cause)

		return s.next, s.events
	}

	wait := m.retry.Delay(s.next.Attempts)
	logger.WarnContext(ctx, "step failed, retrying", "attempts", s.next.Attempts, "retry_in", wait, "error", cause)

	s.next.NextRunAt = now.Add(wait)

	return s.next, nil
}

// member loads the enrolled member. A missing member fails the enrollment
// and returns nil with no error.
func (m *Machine) member(ctx context.Context, s *step, nodeID string) (*models.Member, error) {
	member, err := m.members.Member(ctx, s.next.MemberID)
	if persistence.IsMemberNotFound(err) {
		s.fail(nodeID, err)

		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load member %s: %w", s.next.MemberID, err)
	}

	return member, nil
}

func (m *Machine) email(ctx context.Context, logger *slog.Logger, s *step, st models.EmailStep) error {
	member, err := m.member(ctx, s, st.ID)
	if err != nil || member == nil {
		return err
	}

	req := dispatch.SendRequest{
		TemplateRef:  st.TemplateRef,
		Member:       member,
		EnrollmentID: s.next.ID,
		NodeID:       st.ID,
		Visit:        s.next.Visit,
	}

	res, err := m.dispatcher.Send(ctx, req)
	if err != nil {
		s.next.Attempts++

		if m.retry.Exhausted(s.next.Attempts) {
			logger.ErrorContext(ctx, "email dispatch failed permanently", "attempts", s.next.Attempts, "error", err)
			s.fail(st.ID, err)

			return nil
		}

		wait := m.retry.Delay(s.next.Attempts)
		logger.WarnContext(ctx, "email dispatch failed, retrying", "attempts", s.next.Attempts, "retry_in", wait, "error", err)

		s.next.Status = models.EnrollmentStatusActive
		s.next.NextRunAt = s.now.Add(wait)

		return nil
	}

	key := req.IdempotencyKey()

	if !res.Accepted {
		logger.InfoContext(ctx, "email rejected by provider", "reason", res.Reason, "duplicate", res.Duplicate)
		s.recordAs(dispatchEventID(key, models.EventError), st.ID, models.EventError, outcome(res, map[string]any{
			"error":        "message rejected",
			"reason":       res.Reason,
			"template_ref": st.TemplateRef,
		}))
		s.follow(st.ID, models.HandleNone)

		return nil
	}

	if res.Duplicate {
		logger.InfoContext(ctx, "email already sent for this visit", "message_id", res.MessageID)
	}

	s.recordAs(dispatchEventID(key, models.EventSent), st.ID, models.EventSent, outcome(res, map[string]any{
		"template_ref": st.TemplateRef,
		"message_id":   res.MessageID,
	}))
	s.follow(st.ID, models.HandleNone)

	return nil
}

func (m *Machine) delay(ctx context.Context, logger *slog.Logger, s *step, st models.DelayStep) error {
	if s.next.Status == models.EnrollmentStatusWaiting {
		s.follow(st.ID, models.HandleNone)

		return nil
	}

	loc, err := m.locations.Location(ctx, s.next.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to resolve owner location: %w", err)
	}

	fireAt, err := delay.Resolve(st.Delay, s.now, loc)
	if err != nil {
		logger.WarnContext(ctx, "delay could not be resolved, firing now", "error", err)
		s.record(st.ID, models.EventError, map[string]any{"error": err.Error()})
		s.follow(st.ID, models.HandleNone)

		return nil
	}

	s.next.Status = models.EnrollmentStatusWaiting
	s.next.NextRunAt = fireAt

	return nil
}

func (m *Machine) condition(ctx context.Context, logger *slog.Logger, s *step, st models.ConditionStep) error {
	member, err := m.members.Member(ctx, s.next.MemberID)
	if persistence.IsMemberNotFound(err) {
		logger.WarnContext(ctx, "member not found, taking no", "member_id", s.next.MemberID)
		s.record(st.ID, models.EventError, map[string]any{"error": err.Error()})
		s.branch(st, models.HandleNo)

		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to load member %s: %w", s.next.MemberID, err)
	}

	interactions, err := m.members.Interactions(ctx, member.ID)
	if err != nil {
		return fmt.Errorf("failed to load interactions of %s: %w", member.ID, err)
	}

	result, evalErr := condition.Evaluate(st.Condition, member, interactions, s.now)

	handle := models.HandleNo
	if evalErr == nil && result {
		handle = models.HandleYes
	}

	if evalErr != nil {
		logger.WarnContext(ctx, "condition could not be evaluated, taking no", "error", evalErr)
		s.record(st.ID, models.EventError, map[string]any{"error": evalErr.Error()})
	}

	s.branch(st, handle)

	return nil
}

func (s *step) branch(st models.ConditionStep, handle models.Handle) {
	s.record(st.ID, models.EventConditionResult, map[string]any{
		"kind":   string(st.Condition.Kind),
		"result": handle == models.HandleYes,
		"handle": string(handle),
	})
	s.follow(st.ID, handle)
}

// outcome marks payload as a replay when the ledger already held the result.
func outcome(res dispatch.Result, payload map[string]any) map[string]any {
	if res.Duplicate {
		payload["duplicate"] = true
	}

	return payload
}

func dispatchEventID(key string, kind models.EventKind) string {
	return uuid.NewSHA1(dispatchNamespace, []byte(key+"|"+string(kind))).String()
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

// IsStepError reports whether err is an infrastructure failure of a step.
func IsStepError(err error) bool {
	var stepErr *StepError

	return errors.As(err, &stepErr)
}
