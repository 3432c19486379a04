// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/google/uuid"
)

// TriggerNode returns a trigger node.
func TriggerNode(id string) models.Node {
	return models.Node{ID: id, Type: models.NodeTypeTrigger}
}

// EmailNode returns an email node sending templateRef.
func EmailNode(id, templateRef string) models.Node {
	return models.Node{ID: id, Type: models.NodeTypeEmail, Config: map[string]any{"template_ref": templateRef}}
}

// DelayNode returns a relative delay node.
func DelayNode(id string, amount int, unit models.DelayUnit) models.Node {
	return models.Node{ID: id, Type: models.NodeTypeDelay, Config: map[string]any{
		"mode":   string(models.DelayModeRelative),
		"amount": amount,
		"unit":   string(unit),
	}}
}

// ConditionNode returns a condition node with the given config.
func ConditionNode(id string, config map[string]any) models.Node {
	return models.Node{ID: id, Type: models.NodeTypeCondition, Config: config}
}

// Link returns an unhandled edge.
func Link(source, target string) models.Edge {
	return models.Edge{Source: source, Target: target}
}

// Branch returns a condition output edge.
func Branch(source, target string, handle models.Handle) models.Edge {
	return models.Edge{Source: source, Target: target, Handle: handle}
}

// CreateTestGraph creates trigger -> email, overridable.
func CreateTestGraph(overrides ...func(*models.Graph)) models.Graph {
	g := models.Graph{
		Nodes: []models.Node{TriggerNode("start"), EmailNode("welcome", "tpl-welcome")},
		Edges: []models.Edge{Link("start", "welcome")},
	}

	for _, override := range overrides {
		override(&g)
	}

	return g
}

// WithNodes replaces the graph nodes.
func WithNodes(nodes ...models.Node) func(*models.Graph) {
	return func(g *models.Graph) {
		g.Nodes = nodes
	}
}

// WithEdges replaces the graph edges.
func WithEdges(edges ...models.Edge) func(*models.Graph) {
	return func(g *models.Graph) {
		g.Edges = edges
	}
}

// CreateTestDefinition creates a published version around graph.
func CreateTestDefinition(graph models.Graph, overrides ...func(*models.FlowDefinition)) *models.FlowDefinition {
	def := &models.FlowDefinition{
		ID:          uuid.New().String(),
		OwnerID:     "owner-1",
		Name:        "Test Flow",
		Version:     1,
		Graph:       graph,
		PublishedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	for _, override := range overrides {
		override(def)
	}

	return def
}

// CreateTestMember creates a member with default values that can be overridden.
func CreateTestMember(overrides ...func(*models.Member)) *models.Member {
	member := &models.Member{
		ID:      uuid.New().String(),
		OwnerID: "owner-1",
		Email:   "lead@example.com",
		Tags:    []string{},
		Fields:  map[string]string{"first_name": "Ana"},
	}

	for _, override := range overrides {
		override(member)
	}

	return member
}

// WithTags sets member tags.
func WithTags(tags ...string) func(*models.Member) {
	return func(m *models.Member) {
		m.Tags = tags
	}
}

// CreateTestEnrollment creates an active enrollment at the trigger of def.
func CreateTestEnrollment(def *models.FlowDefinition, memberID string, now time.Time) *models.Enrollment {
	trigger, _ := def.Graph.Trigger()

	return &models.Enrollment{
		ID:            uuid.New().String(),
		FlowID:        def.ID,
		FlowVersion:   def.Version,
		OwnerID:       def.OwnerID,
		MemberID:      memberID,
		CurrentNodeID: trigger.ID,
		Status:        models.EnrollmentStatusActive,
		NextRunAt:     now,
		EnteredAt:     now,
		UpdatedAt:     now,
	}
}
