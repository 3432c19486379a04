// Package models defines the core domain models for marketing automation flows.
package models

import "time"

// NodeType identifies the variant of a flow node.
type NodeType string

const (
	NodeTypeTrigger   NodeType = "trigger"
	NodeTypeEmail     NodeType = "email"
	NodeTypeDelay     NodeType = "delay"
	NodeTypeCondition NodeType = "condition"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeTrigger, NodeTypeEmail, NodeTypeDelay, NodeTypeCondition:
		return true
	default:
		return false
	}
}

// Handle labels the outputs of a condition node.
type Handle string

const (
	HandleNone Handle = ""
	HandleYes  Handle = "yes"
	HandleNo   Handle = "no"
)

// Node is a typed step of a flow graph. Config is kept in its wire form and
// decoded into a Step by ParseStep.
type Node struct {
	ID     string         `json:"id"               yaml:"id"               validate:"required"`
	Type   NodeType       `json:"type"             yaml:"type"             validate:"required"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Edge connects two nodes. Handle is set only on condition outputs.
type Edge struct {
	Source string `json:"source"           yaml:"source"           validate:"required"`
	Target string `json:"target"           yaml:"target"           validate:"required"`
	Handle Handle `json:"handle,omitempty" yaml:"handle,omitempty"`
}

// Graph is the node/edge structure shared by drafts and published versions.
type Graph struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}

	return Node{}, false
}

// Trigger returns the first trigger node of the graph.
func (g *Graph) Trigger() (Node, bool) {
	for _, n := range g.Nodes {
		if n.Type == NodeTypeTrigger {
			return n, true
		}
	}

	return Node{}, false
}

// Outgoing returns the edges leaving the given node, in declaration order.
func (g *Graph) Outgoing(id string) []Edge {
	var out []Edge

	for _, e := range g.Edges {
		if e.Source == id {
			out = append(out, e)
		}
	}

	return out
}

// Successor returns the target of the edge leaving source with the given handle.
func (g *Graph) Successor(source string, handle Handle) (string, bool) {
	for _, e := range g.Edges {
		if e.Source == source && e.Handle == handle {
			return e.Target, true
		}
	}

	return "", false
}

// Clone returns a deep copy of the graph structure. Config maps are copied
// one level deep, which is enough since configs hold scalar operands.
func (g Graph) Clone() Graph {
	out := Graph{
		Nodes: make([]Node, len(g.Nodes)),
		Edges: make([]Edge, len(g.Edges)),
	}

	for i, n := range g.Nodes {
		cfg := make(map[string]any, len(n.Config))
		for k, v := range n.Config {
			cfg[k] = v
		}

		out.Nodes[i] = Node{ID: n.ID, Type: n.Type, Config: cfg}
	}

	copy(out.Edges, g.Edges)

	return out
}

// Flow is the mutable header of an automation. Published graphs hang off it
// as immutable FlowDefinition versions.
type Flow struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"owner_id"       validate:"required"`
	Name          string     `json:"name"           validate:"required,min=1,max=255"`
	IsTemplate    bool       `json:"is_template"`
	LatestVersion int        `json:"latest_version"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// Draft is the editable graph of a flow. The engine never reads drafts.
type Draft struct {
	FlowID    string    `json:"flow_id"`
	OwnerID   string    `json:"owner_id"`
	Revision  int       `json:"revision"`
	Graph     Graph     `json:"graph"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FlowDefinition is one published, immutable version of a flow.
type FlowDefinition struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	IsTemplate  bool      `json:"is_template"`
	Version     int       `json:"version"`
	Graph       Graph     `json:"graph"`
	PublishedAt time.Time `json:"published_at"`
}
