// Package web provides HTTP request and response types for the flow API.
package web

import (
	"time"

	"github.com/dukex/nurture/pkg/graph"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/services"
)

// OwnerHeader carries the caller's account id.
const OwnerHeader = "X-Owner-ID"

// CreateFlowRequest represents the request body for creating a new flow.
type CreateFlowRequest struct {
	Name       string       `json:"name"        validate:"required,min=1,max=255"`
	IsTemplate bool         `json:"is_template"`
	Graph      models.Graph `json:"graph"`
}

// UpdateDraftRequest replaces the draft graph. Revision is the draft
// revision the client edited.
type UpdateDraftRequest struct {
	Revision int          `json:"revision" validate:"required,min=1"`
	Graph    models.Graph `json:"graph"`
}

// SaveFlowRequest represents the request body for saving a flow as a new version.
type SaveFlowRequest struct {
	Graph models.Graph `json:"graph"`
}

// SaveAsRequest copies a flow. Without a graph the source graph is copied.
type SaveAsRequest struct {
	Name  string        `json:"name,omitempty"  validate:"omitempty,max=255"`
	Graph *models.Graph `json:"graph,omitempty"`
}

// ValidateFlowResponse lists every problem of a graph.
type ValidateFlowResponse struct {
	Valid    bool         `json:"valid"`
	Problems graph.Errors `json:"problems"`
}

// EnrollRequest represents the request body for enrolling a member.
type EnrollRequest struct {
	MemberID string `json:"member_id" validate:"required"`
}

// ProviderEventsRequest is a batch of the email provider's feedback feed.
type ProviderEventsRequest struct {
	Events []services.ProviderEvent `json:"events" validate:"required,min=1,dive"`
}

// SaveMemberRequest represents the request body for upserting a member.
type SaveMemberRequest struct {
	Email  string            `json:"email"            validate:"required,email"`
	Tags   []string          `json:"tags,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// AddInteractionRequest represents one entry of a member's interaction log.
type AddInteractionRequest struct {
	Kind       models.InteractionKind `json:"kind"                 validate:"required"`
	Ref        string                 `json:"ref,omitempty"`
	At         *time.Time             `json:"at,omitempty"`
	Properties map[string]any         `json:"properties,omitempty"`
}

// StatsRebuildResponse reports how a stats rebuild was handled.
type StatsRebuildResponse struct {
	FlowID   string `json:"flow_id"`
	Queued   bool   `json:"queued"`
	Replayed int    `json:"replayed,omitempty"`
}
