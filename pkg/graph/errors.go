// Package graph validates flow graphs before they can be published.
package graph

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a graph validation failure.
type ErrorKind string

const (
	KindMissingTrigger     ErrorKind = "missing_trigger"
	KindDuplicateTrigger   ErrorKind = "duplicate_trigger"
	KindTriggerIncoming    ErrorKind = "trigger_incoming"
	KindOrphanNode         ErrorKind = "orphan_node"
	KindConditionBranching ErrorKind = "condition_branching"
	KindAmbiguousFanout    ErrorKind = "ambiguous_fanout"
	KindInvalidHandle      ErrorKind = "invalid_handle"
	KindUnsafeCycle        ErrorKind = "unsafe_cycle"
	KindSelfReference      ErrorKind = "self_reference"
	KindUnresolvableDelay  ErrorKind = "unresolvable_delay"
	KindInvalidConfig      ErrorKind = "invalid_config"
	KindDuplicateNode      ErrorKind = "duplicate_node"
	KindUnknownNodeType    ErrorKind = "unknown_node_type"
	KindDanglingEdge       ErrorKind = "dangling_edge"
)

// ErrInvalidGraph is matched by every *GraphError through errors.Is.
var ErrInvalidGraph = errors.New("invalid flow graph")

// GraphError reports why a graph cannot be published.
type GraphError struct {
	Kind   ErrorKind `json:"kind"`
	NodeID string    `json:"node_id,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

func (e *GraphError) Error() string {
	msg := string(e.Kind)
	if e.NodeID != "" {
		msg = fmt.Sprintf("%s at node %s", msg, e.NodeID)
	}

	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}

	return msg
}

func (e *GraphError) Is(target error) bool {
	return target == ErrInvalidGraph
}

// Errors is the full list of problems found in a graph.
type Errors []*GraphError

func (e Errors) Error() string {
	if len(e) == 0 {
		return "no graph errors"
	}

	if len(e) == 1 {
		return e[0].Error()
	}

	return fmt.Sprintf("%s (and %d more)", e[0].Error(), len(e)-1)
}

func (e Errors) Is(target error) bool {
	return len(e) > 0 && target == ErrInvalidGraph
}

// AsGraphError extracts the first GraphError from err.
func AsGraphError(err error) (*GraphError, bool) {
	var ge *GraphError
	if errors.As(err, &ge) {
		return ge, true
	}

	var list Errors
	if errors.As(err, &list) && len(list) > 0 {
		return list[0], true
	}

	return nil, false
}
