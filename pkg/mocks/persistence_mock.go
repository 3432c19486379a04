package mocks

import (
	"context"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) FlowRepository() persistence.FlowRepository {
	args := m.Called()

	return args.Get(0).(persistence.FlowRepository)
}

func (m *MockPersistence) EnrollmentRepository() persistence.EnrollmentRepository {
	args := m.Called()

	return args.Get(0).(persistence.EnrollmentRepository)
}

func (m *MockPersistence) EventRepository() persistence.EventRepository {
	args := m.Called()

	return args.Get(0).(persistence.EventRepository)
}

func (m *MockPersistence) MemberRepository() persistence.MemberRepository {
	args := m.Called()

	return args.Get(0).(persistence.MemberRepository)
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockFlowRepository is a mock implementation of persistence.FlowRepository interface.
type MockFlowRepository struct {
	mock.Mock
}

func (m *MockFlowRepository) SaveFlow(ctx context.Context, flow *models.Flow) error {
	args := m.Called(ctx, flow)

	return args.Error(0)
}

func (m *MockFlowRepository) Flow(ctx context.Context, id string) (*models.Flow, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Flow), args.Error(1)
}

func (m *MockFlowRepository) ListFlows(ctx context.Context, ownerID string) ([]*models.Flow, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Flow), args.Error(1)
}

func (m *MockFlowRepository) SaveDraft(ctx context.Context, draft *models.Draft) error {
	args := m.Called(ctx, draft)

	return args.Error(0)
}

func (m *MockFlowRepository) Draft(ctx context.Context, flowID string) (*models.Draft, error) {
	args := m.Called(ctx, flowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Draft), args.Error(1)
}

func (m *MockFlowRepository) PublishVersion(ctx context.Context, def *models.FlowDefinition) error {
	args := m.Called(ctx, def)

	return args.Error(0)
}

func (m *MockFlowRepository) Version(ctx context.Context, flowID string, version int) (*models.FlowDefinition, error) {
	args := m.Called(ctx, flowID, version)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.FlowDefinition), args.Error(1)
}

func (m *MockFlowRepository) Versions(ctx context.Context, flowID string) ([]int, error) {
	args := m.Called(ctx, flowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]int), args.Error(1)
}

func (m *MockFlowRepository) DeleteVersion(ctx context.Context, flowID string, version int) error {
	args := m.Called(ctx, flowID, version)

	return args.Error(0)
}

// MockEnrollmentRepository is a mock implementation of persistence.EnrollmentRepository interface.
type MockEnrollmentRepository struct {
	mock.Mock
}

func (m *MockEnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment, events []*models.ExecutionEvent) error {
	args := m.Called(ctx, enrollment, events)

	return args.Error(0)
}

func (m *MockEnrollmentRepository) Enrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Enrollment), args.Error(1)
}

func (m *MockEnrollmentRepository) ListByFlow(ctx context.Context, flowID string, status models.EnrollmentStatus) ([]*models.Enrollment, error) {
	args := m.Called(ctx, flowID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Enrollment), args.Error(1)
}

func (m *MockEnrollmentRepository) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration, token string) ([]*models.Enrollment, error) {
	args := m.Called(ctx, now, limit, lease, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Enrollment), args.Error(1)
}

func (m *MockEnrollmentRepository) SaveStep(ctx context.Context, enrollment *models.Enrollment, token string, events []*models.ExecutionEvent) error {
	args := m.Called(ctx, enrollment, token, events)

	return args.Error(0)
}

func (m *MockEnrollmentRepository) ReleaseClaim(ctx context.Context, id, token string) error {
	args := m.Called(ctx, id, token)

	return args.Error(0)
}

func (m *MockEnrollmentRepository) Cancel(ctx context.Context, id string, at time.Time, event *models.ExecutionEvent) (*models.Enrollment, error) {
	args := m.Called(ctx, id, at, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Enrollment), args.Error(1)
}

func (m *MockEnrollmentRepository) PinnedVersions(ctx context.Context, flowID string) ([]int, error) {
	args := m.Called(ctx, flowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]int), args.Error(1)
}

func (m *MockEnrollmentRepository) DeleteFinishedBefore(ctx context.Context, t time.Time) (int64, error) {
	args := m.Called(ctx, t)

	return args.Get(0).(int64), args.Error(1)
}

// MockEventRepository is a mock implementation of persistence.EventRepository interface.
type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) Append(ctx context.Context, events ...*models.ExecutionEvent) error {
	args := m.Called(ctx, events)

	return args.Error(0)
}

func (m *MockEventRepository) ByEnrollment(ctx context.Context, enrollmentID string) ([]*models.ExecutionEvent, error) {
	args := m.Called(ctx, enrollmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ExecutionEvent), args.Error(1)
}

func (m *MockEventRepository) ByFlow(ctx context.Context, flowID string) ([]*models.ExecutionEvent, error) {
	args := m.Called(ctx, flowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ExecutionEvent), args.Error(1)
}

func (m *MockEventRepository) Unpublished(ctx context.Context, limit int) ([]*models.ExecutionEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ExecutionEvent), args.Error(1)
}

func (m *MockEventRepository) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	args := m.Called(ctx, ids, at)

	return args.Error(0)
}

// MockMemberRepository is a mock implementation of persistence.MemberRepository interface.
type MockMemberRepository struct {
	mock.Mock
}

func (m *MockMemberRepository) SaveMember(ctx context.Context, member *models.Member) error {
	args := m.Called(ctx, member)

	return args.Error(0)
}

func (m *MockMemberRepository) Member(ctx context.Context, id string) (*models.Member, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Member), args.Error(1)
}

func (m *MockMemberRepository) AddInteraction(ctx context.Context, interaction *models.Interaction) error {
	args := m.Called(ctx, interaction)

	return args.Error(0)
}

func (m *MockMemberRepository) Interactions(ctx context.Context, memberID string) ([]models.Interaction, error) {
	args := m.Called(ctx, memberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]models.Interaction), args.Error(1)
}
