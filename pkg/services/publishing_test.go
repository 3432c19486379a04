package services

import (
	"errors"
	"testing"

	"github.com/dukex/nurture/pkg/graph"
	"github.com/dukex/nurture/pkg/mocks"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/dukex/nurture/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func twoEmailGraph() models.Graph {
	return testutil.CreateTestGraph(
		testutil.WithNodes(testutil.TriggerNode("start"), testutil.EmailNode("welcome", "tpl-welcome"), testutil.EmailNode("tips", "tpl-tips")),
		testutil.WithEdges(testutil.Link("start", "welcome"), testutil.Link("welcome", "tips")),
	)
}

func TestPublishing_Publish(t *testing.T) {
	f := newFixture(t)

	view, err := f.flows.Create(t.Context(), "owner-1", CreateFlowRequest{Name: "Welcome", Graph: testutil.CreateTestGraph()})
	require.NoError(t, err)

	def, err := f.publishing.Publish(t.Context(), "owner-1", view.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, def.Version)
	assert.Equal(t, testNow, def.PublishedAt)

	def, err = f.publishing.Publish(t.Context(), "owner-1", view.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, def.Version)

	flow, err := f.flows.Get(t.Context(), "owner-1", view.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, flow.LatestVersion)
}

func TestPublishing_PublishInvalidDraftWritesNothing(t *testing.T) {
	f := newFixture(t)

	view, err := f.flows.Create(t.Context(), "owner-1", CreateFlowRequest{
		Name:  "Broken",
		Graph: testutil.CreateTestGraph(testutil.WithEdges()),
	})
	require.NoError(t, err)

	_, err = f.publishing.Publish(t.Context(), "owner-1", view.ID)
	require.ErrorIs(t, err, graph.ErrInvalidGraph)
	assert.True(t, IsValidationError(err))

	versions, err := f.persistence.FlowRepository().Versions(t.Context(), view.ID)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestPublishing_PublishRequiresOwner(t *testing.T) {
	f := newFixture(t)

	template, err := f.flows.Create(t.Context(), "owner-2", CreateFlowRequest{Name: "T", IsTemplate: true, Graph: testutil.CreateTestGraph()})
	require.NoError(t, err)

	_, err = f.publishing.Publish(t.Context(), "owner-1", template.ID)
	require.ErrorIs(t, err, ErrNotOwner)

	def, err := f.publishing.Publish(t.Context(), "owner-2", template.ID)
	require.NoError(t, err)
	assert.True(t, def.IsTemplate)
}

func TestPublishing_PublishVersionConflict(t *testing.T) {
	flow := &models.Flow{ID: "flow-1", OwnerID: "owner-1", Name: "Welcome", LatestVersion: 3}

	flows := &mocks.MockFlowRepository{}
	flows.On("Flow", mock.Anything, "flow-1").Return(flow, nil)
	flows.On("Draft", mock.Anything, "flow-1").Return(&models.Draft{FlowID: "flow-1", Revision: 4, Graph: testutil.CreateTestGraph()}, nil)
	flows.On("PublishVersion", mock.Anything, mock.MatchedBy(func(def *models.FlowDefinition) bool {
		return def.Version == 4
	})).Return(persistence.NewVersionError("PublishVersion", "flow-1", 4, persistence.ErrVersionConflict))

	p := &mocks.MockPersistence{}
	p.On("FlowRepository").Return(flows)

	publishing := NewPublishing(p, NewFlow(p, nil, discardLogger()), nil, discardLogger())

	_, err := publishing.Publish(t.Context(), "owner-1", "flow-1")
	require.ErrorIs(t, err, persistence.ErrVersionConflict)
	flows.AssertExpectations(t)
}

func TestPublishing_Save(t *testing.T) {
	f := newFixture(t)

	view, err := f.flows.Create(t.Context(), "owner-1", CreateFlowRequest{Name: "Welcome", Graph: testutil.CreateTestGraph()})
	require.NoError(t, err)

	def, err := f.publishing.Save(t.Context(), "owner-1", view.ID, twoEmailGraph())
	require.NoError(t, err)
	assert.Equal(t, 1, def.Version)
	assert.Len(t, def.Graph.Nodes, 3)

	got, err := f.flows.Get(t.Context(), "owner-1", view.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Draft.Revision)
	assert.Len(t, got.Draft.Graph.Nodes, 3)

	t.Run("invalid graph is rejected", func(t *testing.T) {
		_, err := f.publishing.Save(t.Context(), "owner-1", view.ID, testutil.CreateTestGraph(testutil.WithEdges()))
		require.ErrorIs(t, err, graph.ErrInvalidGraph)

		got, err := f.flows.Get(t.Context(), "owner-1", view.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Draft.Revision)
		assert.Equal(t, 1, got.LatestVersion)
	})

	t.Run("other owner is forbidden", func(t *testing.T) {
		_, err := f.publishing.Save(t.Context(), "owner-2", view.ID, twoEmailGraph())
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("templates are read only", func(t *testing.T) {
		template, err := f.flows.Create(t.Context(), "owner-1", CreateFlowRequest{Name: "T", IsTemplate: true, Graph: testutil.CreateTestGraph()})
		require.NoError(t, err)

		_, err = f.publishing.Save(t.Context(), "owner-1", template.ID, twoEmailGraph())
		assert.ErrorIs(t, err, ErrTemplateReadOnly)
	})
}

func TestPublishing_SaveAs(t *testing.T) {
	f := newFixture(t)

	template, err := f.flows.Create(t.Context(), "owner-2", CreateFlowRequest{Name: "Onboarding", IsTemplate: true, Graph: twoEmailGraph()})
	require.NoError(t, err)

	private, err := f.flows.Create(t.Context(), "owner-2", CreateFlowRequest{Name: "Private", Graph: twoEmailGraph()})
	require.NoError(t, err)

	t.Run("copies a template", func(t *testing.T) {
		def, err := f.publishing.SaveAs(t.Context(), "owner-1", template.ID, SaveAsRequest{})
		require.NoError(t, err)

		assert.NotEqual(t, template.ID, def.ID)
		assert.Equal(t, "owner-1", def.OwnerID)
		assert.Equal(t, "Onboarding (copy)", def.Name)
		assert.Equal(t, 1, def.Version)
		assert.False(t, def.IsTemplate)
		assert.Len(t, def.Graph.Nodes, 3)
	})

	t.Run("uses the given graph and name", func(t *testing.T) {
		g := testutil.CreateTestGraph()

		def, err := f.publishing.SaveAs(t.Context(), "owner-1", template.ID, SaveAsRequest{Name: "Mine", Graph: &g})
		require.NoError(t, err)
		assert.Equal(t, "Mine", def.Name)
		assert.Len(t, def.Graph.Nodes, 2)
	})

	t.Run("other owner's flow is forbidden", func(t *testing.T) {
		_, err := f.publishing.SaveAs(t.Context(), "owner-1", private.ID, SaveAsRequest{})
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("source stays untouched", func(t *testing.T) {
		got, err := f.flows.Get(t.Context(), "owner-2", template.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.LatestVersion)
		assert.Equal(t, 1, got.Draft.Revision)
	})
}

func TestPublishing_PruneVersions(t *testing.T) {
	f := newFixture(t)

	view, err := f.flows.Create(t.Context(), "owner-1", CreateFlowRequest{Name: "Welcome", Graph: testutil.CreateTestGraph()})
	require.NoError(t, err)

	for range 3 {
		_, err = f.publishing.Publish(t.Context(), "owner-1", view.ID)
		require.NoError(t, err)
	}

	def, err := f.flows.Version(t.Context(), "owner-1", view.ID, 1)
	require.NoError(t, err)

	member := testutil.CreateTestMember()
	require.NoError(t, f.persistence.MemberRepository().SaveMember(t.Context(), member))

	enrollment := testutil.CreateTestEnrollment(def, member.ID, testNow)
	require.NoError(t, f.persistence.EnrollmentRepository().Create(t.Context(), enrollment, nil))

	deleted, err := f.publishing.PruneVersions(t.Context(), "owner-1", view.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, deleted)

	versions, err := f.persistence.FlowRepository().Versions(t.Context(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, versions)

	_, err = f.publishing.PruneVersions(t.Context(), "owner-2", view.ID)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestPublishing_PruneVersionsStopsOnDeleteError(t *testing.T) {
	flows := &mocks.MockFlowRepository{}
	flows.On("Flow", mock.Anything, "flow-1").Return(&models.Flow{ID: "flow-1", OwnerID: "owner-1", LatestVersion: 3}, nil)
	flows.On("Versions", mock.Anything, "flow-1").Return([]int{1, 2, 3}, nil)
	flows.On("DeleteVersion", mock.Anything, "flow-1", 1).Return(nil)
	flows.On("DeleteVersion", mock.Anything, "flow-1", 2).Return(errors.New("io error"))

	enrollments := &mocks.MockEnrollmentRepository{}
	enrollments.On("PinnedVersions", mock.Anything, "flow-1").Return([]int{}, nil)

	p := &mocks.MockPersistence{}
	p.On("FlowRepository").Return(flows)
	p.On("EnrollmentRepository").Return(enrollments)

	publishing := NewPublishing(p, NewFlow(p, nil, discardLogger()), nil, discardLogger())

	deleted, err := publishing.PruneVersions(t.Context(), "owner-1", "flow-1")
	require.Error(t, err)
	assert.Equal(t, []int{1}, deleted)
	flows.AssertExpectations(t)
}
