package graph

import (
	"fmt"

	"github.com/dukex/nurture/pkg/condition"
	"github.com/dukex/nurture/pkg/delay"
	"github.com/dukex/nurture/pkg/models"
)

// Validate returns the first problem found in g as a *GraphError, or nil.
func Validate(g models.Graph) error {
	if errs := ValidateAll(g); len(errs) > 0 {
		return errs[0]
	}

	return nil
}

// ValidateAll returns every problem found in g, in a stable order.
func ValidateAll(g models.Graph) Errors {
	v := &validator{graph: g, nodes: make(map[string]models.Node, len(g.Nodes))}

	v.checkNodes()
	v.checkTrigger()
	v.checkEdges()
	v.checkBranching()
	v.checkReachability()
	v.checkCycles()

	return v.errs
}

type validator struct {
	graph   models.Graph
	nodes   map[string]models.Node
	trigger string
	errs    Errors
}

func (v *validator) fail(kind ErrorKind, nodeID, format string, args ...any) {
	v.errs = append(v.errs, &GraphError{Kind: kind, NodeID: nodeID, Detail: fmt.Sprintf(format, args...)})
}

func (v *validator) checkNodes() {
	for _, n := range v.graph.Nodes {
		if _, dup := v.nodes[n.ID]; dup {
			v.fail(KindDuplicateNode, n.ID, "node id is used more than once")

			continue
		}

		v.nodes[n.ID] = n

		if !n.Type.Valid() {
			v.fail(KindUnknownNodeType, n.ID, "unknown node type %q", n.Type)

			continue
		}

		step, err := models.ParseStep(n)
		if err != nil {
			v.fail(KindInvalidConfig, n.ID, "%v", err)

			continue
		}

		switch s := step.(type) {
		case models.DelayStep:
			if err := delay.Check(s.Delay); err != nil {
				v.fail(KindUnresolvableDelay, n.ID, "%v", err)
			}
		case models.ConditionStep:
			if err := condition.Check(s.Condition); err != nil {
				v.fail(KindInvalidConfig, n.ID, "%v", err)
			}
		}
	}
}

func (v *validator) checkTrigger() {
	for _, n := range v.graph.Nodes {
		if n.Type != models.NodeTypeTrigger {
			continue
		}

		if v.trigger != "" {
			v.fail(KindDuplicateTrigger, n.ID, "flow already has trigger %s", v.trigger)

			continue
		}

		v.trigger = n.ID
	}

	if v.trigger == "" {
		v.fail(KindMissingTrigger, "", "flow has no trigger node")
	}
}

func (v *validator) checkEdges() {
	for _, e := range v.graph.Edges {
		source, okSource := v.nodes[e.Source]
		target, okTarget := v.nodes[e.Target]

		if !okSource || !okTarget {
			v.fail(KindDanglingEdge, e.Source, "edge %s -> %s references an unknown node", e.Source, e.Target)

			continue
		}

		if e.Source == e.Target {
			v.fail(KindSelfReference, e.Source, "edge points back to its own node")

			continue
		}

		if target.Type == models.NodeTypeTrigger {
			v.fail(KindTriggerIncoming, target.ID, "trigger cannot have incoming edges")
		}

		if source.Type == models.NodeTypeCondition {
			if e.Handle != models.HandleYes && e.Handle != models.HandleNo {
				v.fail(KindInvalidHandle, source.ID, "condition edge needs a yes or no handle, got %q", e.Handle)
			}
		} else if e.Handle != models.HandleNone {
			v.fail(KindInvalidHandle, source.ID, "only condition edges carry a handle, got %q", e.Handle)
		}
	}
}

func (v *validator) checkBranching() {
	done := make(map[string]bool, len(v.graph.Nodes))

	for _, n := range v.graph.Nodes {
		if done[n.ID] {
			continue
		}

		done[n.ID] = true
		out := v.graph.Outgoing(n.ID)

		if n.Type != models.NodeTypeCondition {
			if len(out) > 1 {
				v.fail(KindAmbiguousFanout, n.ID, "node has %d outgoing edges, at most one is allowed", len(out))
			}

			continue
		}

		var yes, no int

		for _, e := range out {
			switch e.Handle {
			case models.HandleYes:
				yes++
			case models.HandleNo:
				no++
			}
		}

		if yes != 1 || no != 1 {
			v.fail(KindConditionBranching, n.ID, "condition needs exactly one yes and one no edge, has %d yes and %d no", yes, no)
		}
	}
}

func (v *validator) checkReachability() {
	if v.trigger == "" {
		return
	}

	seen := map[string]bool{v.trigger: true}
	queue := []string{v.trigger}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, e := range v.graph.Outgoing(id) {
			if _, ok := v.nodes[e.Target]; !ok || seen[e.Target] {
				continue
			}

			seen[e.Target] = true
			queue = append(queue, e.Target)
		}
	}

	reported := make(map[string]bool)

	for _, n := range v.graph.Nodes {
		if !seen[n.ID] && !reported[n.ID] {
			reported[n.ID] = true
			v.fail(KindOrphanNode, n.ID, "node is not reachable from the trigger")
		}
	}
}

// checkCycles rejects any cycle that does not pass through a delay node.
// Delay nodes are removed from the graph and the remainder must be acyclic.
func (v *validator) checkCycles() {
	const (
		white = iota
		grey
		black
	)

	color := make(map[string]int, len(v.nodes))
	adjacency := make(map[string][]string, len(v.nodes))

	for _, e := range v.graph.Edges {
		if e.Source == e.Target {
			continue // reported as self_reference
		}

		src, okSrc := v.nodes[e.Source]
		dst, okDst := v.nodes[e.Target]

		if !okSrc || !okDst || src.Type == models.NodeTypeDelay || dst.Type == models.NodeTypeDelay {
			continue
		}

		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
	}

	reported := make(map[string]bool)

	var visit func(id string)
	visit = func(id string) {
		color[id] = grey

		for _, next := range adjacency[id] {
			switch color[next] {
			case grey:
				if !reported[next] {
					reported[next] = true
					v.fail(KindUnsafeCycle, next, "cycle through %s does not pass a delay node", id)
				}
			case white:
				visit(next)
			}
		}

		color[id] = black
	}

	for _, n := range v.graph.Nodes {
		if color[n.ID] == white {
			visit(n.ID)
		}
	}
}
