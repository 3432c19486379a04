package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/nurture/pkg/exchange"
	"github.com/dukex/nurture/pkg/graph"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Flow manages flow headers, drafts and the import/export surface.
type Flow struct {
	persistence persistence.Persistence
	clock       clockwork.Clock
	logger      *slog.Logger
}

// NewFlow creates a new flow service.
func NewFlow(persistence persistence.Persistence, clock clockwork.Clock, logger *slog.Logger) *Flow {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Flow{
		persistence: persistence,
		clock:       clock,
		logger:      logger.With("module", "flow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (f *Flow) HealthCheck(ctx context.Context) (string, bool) {
	if f.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := f.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// FlowView is a flow header with its current draft.
type FlowView struct {
	*models.Flow

	Draft *models.Draft `json:"draft,omitempty"`
}

// CreateFlowRequest contains the data for a new flow.
type CreateFlowRequest struct {
	Name       string
	IsTemplate bool
	Graph      models.Graph
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

// Create stores a new flow owned by ownerID with revision 1 of its draft.
func (f *Flow) Create(ctx context.Context, ownerID string, req CreateFlowRequest) (*FlowView, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrEmptyOwnerID
	}

	if strings.TrimSpace(req.Name) == "" {
		return nil, ErrFlowNameRequired
	}

	now := f.clock.Now().UTC()
	flow := &models.Flow{
		ID:         newID(),
		OwnerID:    ownerID,
		Name:       req.Name,
		IsTemplate: req.IsTemplate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := f.persistence.FlowRepository().SaveFlow(ctx, flow)
	if err != nil {
		return nil, fmt.Errorf("failed to create flow: %w", err)
	}

	draft := &models.Draft{
		FlowID:    flow.ID,
		OwnerID:   ownerID,
		Revision:  1,
		Graph:     req.Graph,
		UpdatedAt: now,
	}

	err = f.persistence.FlowRepository().SaveDraft(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("failed to create draft: %w", err)
	}

	f.logger.InfoContext(ctx, "Flow created", "flow_id", flow.ID, "owner_id", ownerID)

	return &FlowView{Flow: flow, Draft: draft}, nil
}

// readable loads a flow the caller may read: its own flows and templates.
func (f *Flow) readable(ctx context.Context, ownerID, flowID string) (*models.Flow, error) {
	flow, err := f.persistence.FlowRepository().Flow(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if flow.OwnerID != ownerID && !flow.IsTemplate {
		return nil, ErrNotOwner
	}

	return flow, nil
}

// writable loads a flow the caller may modify.
func (f *Flow) writable(ctx context.Context, ownerID, flowID string) (*models.Flow, error) {
	flow, err := f.persistence.FlowRepository().Flow(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if flow.IsTemplate {
		return nil, ErrTemplateReadOnly
	}

	if flow.OwnerID != ownerID {
		return nil, ErrNotOwner
	}

	return flow, nil
}

// Get returns a flow with its draft.
func (f *Flow) Get(ctx context.Context, ownerID, flowID string) (*FlowView, error) {
	flow, err := f.readable(ctx, ownerID, flowID)
	if err != nil {
		return nil, err
	}

	draft, err := f.persistence.FlowRepository().Draft(ctx, flowID)
	if err != nil && !persistence.IsDraftNotFound(err) {
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}

	return &FlowView{Flow: flow, Draft: draft}, nil
}

// List returns the flows of an owner.
func (f *Flow) List(ctx context.Context, ownerID string) ([]*models.Flow, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrEmptyOwnerID
	}

	flows, err := f.persistence.FlowRepository().ListFlows(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	return flows, nil
}

// UpdateDraft replaces the draft graph. revision is the draft revision the
// caller edited; a stale revision fails with persistence.ErrDraftConflict.
func (f *Flow) UpdateDraft(ctx context.Context, ownerID, flowID string, revision int, g models.Graph) (*models.Draft, error) {
	if _, err := f.writable(ctx, ownerID, flowID); err != nil {
		return nil, err
	}

	draft := &models.Draft{
		FlowID:    flowID,
		OwnerID:   ownerID,
		Revision:  revision + 1,
		Graph:     g,
		UpdatedAt: f.clock.Now().UTC(),
	}

	err := f.persistence.FlowRepository().SaveDraft(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("failed to save draft: %w", err)
	}

	return draft, nil
}

// Version returns one published version.
func (f *Flow) Version(ctx context.Context, ownerID, flowID string, version int) (*models.FlowDefinition, error) {
	if _, err := f.readable(ctx, ownerID, flowID); err != nil {
		return nil, err
	}

	return f.persistence.FlowRepository().Version(ctx, flowID, version)
}

// Validate returns every problem of a graph.
func (f *Flow) Validate(g models.Graph) graph.Errors {
	return graph.ValidateAll(g)
}

// Export returns the latest published version of a flow, or its draft when
// nothing was published yet.
func (f *Flow) Export(ctx context.Context, ownerID, flowID string) (*exchange.Document, error) {
	flow, err := f.readable(ctx, ownerID, flowID)
	if err != nil {
		return nil, err
	}

	if flow.LatestVersion > 0 {
		def, err := f.persistence.FlowRepository().Version(ctx, flowID, flow.LatestVersion)
		if err != nil {
			return nil, fmt.Errorf("failed to get latest version: %w", err)
		}

		return exchange.FromDefinition(def), nil
	}

	draft, err := f.persistence.FlowRepository().Draft(ctx, flowID)
	if err != nil {
		return nil, err
	}

	return exchange.FromDraft(flow.Name, draft), nil
}

// ImportResult is the flow created by Import and the graph problems that
// will block publishing it.
type ImportResult struct {
	*FlowView

	Problems graph.Errors `json:"problems"`
}

// Import creates a new flow owned by ownerID from an exchange document.
func (f *Flow) Import(ctx context.Context, ownerID string, data []byte, format exchange.Format, regenerateIDs bool) (*ImportResult, error) {
	doc, err := exchange.Decode(data, format)
	if err != nil {
		return nil, NewValidationError("Import", "invalid_document", err.Error(), ErrInvalidRequest)
	}

	if regenerateIDs {
		doc = exchange.RegenerateIDs(doc)
	}

	view, err := f.Create(ctx, ownerID, CreateFlowRequest{Name: doc.Name, Graph: doc.Graph()})
	if err != nil {
		return nil, err
	}

	problems := graph.ValidateAll(view.Draft.Graph)
	if problems == nil {
		problems = graph.Errors{}
	}

	return &ImportResult{FlowView: view, Problems: problems}, nil
}
