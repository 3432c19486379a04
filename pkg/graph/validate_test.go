package graph_test

import (
	"errors"
	"testing"

	"github.com/dukex/nurture/pkg/graph"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vipCondition(id string) models.Node {
	return testutil.ConditionNode(id, map[string]any{"kind": "tag_exists", "tag": "VIP"})
}

func TestValidate_AcceptsWellFormedGraphs(t *testing.T) {
	tests := []struct {
		name  string
		graph models.Graph
	}{
		{"trigger only", testutil.CreateTestGraph(testutil.WithNodes(testutil.TriggerNode("t")), testutil.WithEdges())},
		{"trigger and email", testutil.CreateTestGraph()},
		{
			"welcome series",
			testutil.CreateTestGraph(
				testutil.WithNodes(
					testutil.TriggerNode("t"),
					testutil.EmailNode("e1", "welcome"),
					testutil.DelayNode("d", 1, models.DelayUnitDay),
					testutil.EmailNode("e2", "follow-up"),
				),
				testutil.WithEdges(testutil.Link("t", "e1"), testutil.Link("e1", "d"), testutil.Link("d", "e2")),
			),
		},
		{
			"condition with both branches",
			testutil.CreateTestGraph(
				testutil.WithNodes(testutil.TriggerNode("t"), vipCondition("c"), testutil.EmailNode("a", "A"), testutil.EmailNode("b", "B")),
				testutil.WithEdges(testutil.Link("t", "c"), testutil.Branch("c", "a", models.HandleYes), testutil.Branch("c", "b", models.HandleNo)),
			),
		},
		{
			"nurture loop through a delay",
			testutil.CreateTestGraph(
				testutil.WithNodes(testutil.TriggerNode("t"), testutil.EmailNode("e", "weekly"), testutil.DelayNode("d", 1, models.DelayUnitWeek)),
				testutil.WithEdges(testutil.Link("t", "e"), testutil.Link("e", "d"), testutil.Link("d", "e")),
			),
		},
		{
			"branches rejoin",
			testutil.CreateTestGraph(
				testutil.WithNodes(testutil.TriggerNode("t"), vipCondition("c"), testutil.EmailNode("a", "A"), testutil.EmailNode("b", "B"), testutil.EmailNode("end", "bye")),
				testutil.WithEdges(
					testutil.Link("t", "c"),
					testutil.Branch("c", "a", models.HandleYes),
					testutil.Branch("c", "b", models.HandleNo),
					testutil.Link("a", "end"),
					testutil.Link("b", "end"),
				),
			),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, graph.Validate(tt.graph))
			assert.Empty(t, graph.ValidateAll(tt.graph))
		})
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		graph    models.Graph
		wantKind graph.ErrorKind
		wantNode string
	}{
		{
			"no trigger",
			testutil.CreateTestGraph(testutil.WithNodes(testutil.EmailNode("e", "x")), testutil.WithEdges()),
			graph.KindMissingTrigger, "",
		},
		{
			"empty graph",
			models.Graph{},
			graph.KindMissingTrigger, "",
		},
		{
			"two triggers",
			testutil.CreateTestGraph(
				testutil.WithNodes(testutil.TriggerNode("t1"), testutil.TriggerNode("t2"), testutil.EmailNode("e", "x")),
				testutil.WithEdges(testutil.Link("t1", "e"), testutil.Link("t2", "e")),
			),
			graph.KindDuplicateTrigger, "t2",
		},
		{
			"orphan",
			testutil.CreateTestGraph(
				testutil.WithNodes(testutil.TriggerNode("t"), testutil.EmailNode("e", "x"), testutil.EmailNode("lost", "y")),
				testutil.WithEdges(testutil.Link("t", "e")),
			),
			graph.KindOrphanNode, "lost",
		},
		{
			"condition missing no branch",
			testutil.CreateTestGraph(
				testutil.WithNodes(testutil.TriggerNode("t"), vipCondition("c"), testutil.EmailNode("a", "A")),
				testutil.WithEdges(testutil.Link("t", "c"), testutil.Branch("c", "a", models.HandleYes)),
			),
			graph.KindConditionBranching, "c",
		},
		{
			"condition with two yes branches",
			testutil.CreateTestGraph(
				testutil.WithNodes(testutil.TriggerNode("t"), vipCondition("c"), testutil.EmailNode("a", "A"), testutil.EmailNode("b", "B")),
				testutil.WithEdges(testutil.Link("t", "c"), testutil.Branch("c", "a", models.HandleYes), testutil.Branch("c", "b", models.HandleYes)),
			),
			graph.KindConditionBranching, "c",
		},
		{
			"email fan-out",
			testutil.CreateTestGraph(
				testutil.WithNodes(testutil.TriggerNode("t"), testutil.EmailNode("a", "A"), testutil.EmailNode("b", "B")),
				testutil.WithEdges(testutil.Link("t", "a"), testutil.Link("t", "b")),
			),
			graph.KindAmbiguousFanout, "t",
		},
		{
			"handle on email edge",
			testutil.CreateTestGraph(
				testutil.WithNodes(testutil.TriggerNode("t"), testutil.EmailNode("a", "A")),
				testutil.WithEdges(testutil.Branch("t", "a", models.HandleYes)),
			),
			graph.KindInvalidHandle, "t",
		},
		{
			"self reference",
			testutil.CreateTestGraph(
				testutil.WithNodes(testutil.TriggerNode("t"), testutil.DelayNode("d", 1, models.DelayUnitDay)),
				testutil.WithEdges(testutil.Link("t", "d"), testutil.Link("d", "d")),
			),
			graph.KindSelfReference, "d",
		},
		{
			"cycle without delay",
			testutil.CreateTestGraph(
				testutil.WithNodes(testutil.TriggerNode("t"), testutil.EmailNode("a", "A"), testutil.EmailNode("b", "B")),
				testutil.WithEdges(testutil.Link("t", "a"), testutil.Link("a", "b"), testutil.Link("b", "a")),
			),
			graph.KindUnsafeCycle, "a",
		},
		{
			"unresolvable delay",
			testutil.CreateTestGraph(
				testutil.WithNodes(testutil.TriggerNode("t"), testutil.DelayNode("d", 0, models.DelayUnitDay)),
				testutil.WithEdges(testutil.Link("t", "d")),
			),
			graph.KindUnresolvableDelay, "d",
		},
		{
			"email without template",
			testutil.CreateTestGraph(
				testutil.WithNodes(testutil.TriggerNode("t"), models.Node{ID: "e", Type: models.NodeTypeEmail}),
				testutil.WithEdges(testutil.Link("t", "e")),
			),
			graph.KindInvalidConfig, "e",
		},
		{
			"unknown node type",
			testutil.CreateTestGraph(
				testutil.WithNodes(testutil.TriggerNode("t"), models.Node{ID: "s", Type: "sms"}),
				testutil.WithEdges(testutil.Link("t", "s")),
			),
			graph.KindUnknownNodeType, "s",
		},
		{
			"dangling edge",
			testutil.CreateTestGraph(testutil.WithEdges(testutil.Link("start", "ghost"))),
			graph.KindDanglingEdge, "start",
		},
		{
			"edge into trigger",
			testutil.CreateTestGraph(
				testutil.WithNodes(testutil.TriggerNode("t"), testutil.DelayNode("d", 1, models.DelayUnitDay)),
				testutil.WithEdges(testutil.Link("t", "d"), testutil.Link("d", "t")),
			),
			graph.KindTriggerIncoming, "t",
		},
		{
			"duplicate node id",
			testutil.CreateTestGraph(
				testutil.WithNodes(testutil.TriggerNode("t"), testutil.EmailNode("e", "A"), testutil.EmailNode("e", "B")),
				testutil.WithEdges(testutil.Link("t", "e")),
			),
			graph.KindDuplicateNode, "e",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := graph.Validate(tt.graph)
			require.Error(t, err)
			assert.True(t, errors.Is(err, graph.ErrInvalidGraph))

			var found bool

			for _, ge := range graph.ValidateAll(tt.graph) {
				if ge.Kind == tt.wantKind && ge.NodeID == tt.wantNode {
					found = true
				}
			}

			assert.True(t, found, "expected %s at %q, got %v", tt.wantKind, tt.wantNode, graph.ValidateAll(tt.graph))
		})
	}
}

// A graph with a single trigger and full reachability is accepted, and
// removing the trigger or disconnecting a node flips the outcome.
func TestValidate_TriggerAndReachabilityProperty(t *testing.T) {
	base := testutil.CreateTestGraph(
		testutil.WithNodes(
			testutil.TriggerNode("t"),
			testutil.EmailNode("e1", "a"),
			testutil.DelayNode("d", 2, models.DelayUnitHour),
			testutil.EmailNode("e2", "b"),
		),
		testutil.WithEdges(testutil.Link("t", "e1"), testutil.Link("e1", "d"), testutil.Link("d", "e2")),
	)
	require.NoError(t, graph.Validate(base))

	for i := range base.Edges {
		g := base.Clone()
		g.Edges = append(g.Edges[:i:i], g.Edges[i+1:]...)

		err := graph.Validate(g)
		require.Error(t, err, "dropping edge %d must orphan a node", i)

		ge, ok := graph.AsGraphError(err)
		require.True(t, ok)
		assert.Equal(t, graph.KindOrphanNode, ge.Kind)
	}

	g := base.Clone()
	g.Nodes[0].Type = models.NodeTypeEmail
	g.Nodes[0].Config = map[string]any{"template_ref": "x"}
	ge, ok := graph.AsGraphError(graph.Validate(g))
	require.True(t, ok)
	assert.Equal(t, graph.KindMissingTrigger, ge.Kind)
}

func TestErrors_Message(t *testing.T) {
	errs := graph.Errors{
		{Kind: graph.KindOrphanNode, NodeID: "a", Detail: "unreachable"},
		{Kind: graph.KindOrphanNode, NodeID: "b"},
	}

	assert.Equal(t, "orphan_node at node a: unreachable (and 1 more)", errs.Error())
	assert.True(t, errors.Is(errs, graph.ErrInvalidGraph))
}
