package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukex/nurture/pkg/graph"
	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/jonboulle/clockwork"
)

// Publishing cuts immutable versions out of drafts.
type Publishing struct {
	persistence persistence.Persistence
	flows       *Flow
	clock       clockwork.Clock
	logger      *slog.Logger
}

// NewPublishing creates a new flow publishing service.
func NewPublishing(persistence persistence.Persistence, flows *Flow, clock clockwork.Clock, logger *slog.Logger) *Publishing {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Publishing{
		persistence: persistence,
		flows:       flows,
		clock:       clock,
		logger:      logger.With("module", "publishing_service"),
	}
}

// owned loads a flow that belongs to ownerID.
func (p *Publishing) owned(ctx context.Context, ownerID, flowID string) (*models.Flow, error) {
	flow, err := p.persistence.FlowRepository().Flow(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if flow.OwnerID != ownerID {
		return nil, ErrNotOwner
	}

	return flow, nil
}

// Publish validates the current draft and appends it as version N+1.
// Nothing is written when validation fails.
func (p *Publishing) Publish(ctx context.Context, ownerID, flowID string) (*models.FlowDefinition, error) {
	flow, err := p.owned(ctx, ownerID, flowID)
	if err != nil {
		return nil, err
	}

	draft, err := p.persistence.FlowRepository().Draft(ctx, flowID)
	if err != nil {
		return nil, err
	}

	return p.publish(ctx, flow, draft.Graph)
}

func (p *Publishing) publish(ctx context.Context, flow *models.Flow, g models.Graph) (*models.FlowDefinition, error) {
	err := graph.Validate(g)
	if err != nil {
		return nil, err
	}

	def := &models.FlowDefinition{
		ID:          flow.ID,
		OwnerID:     flow.OwnerID,
		Name:        flow.Name,
		IsTemplate:  flow.IsTemplate,
		Version:     flow.LatestVersion + 1,
		Graph:       g.Clone(),
		PublishedAt: p.clock.Now().UTC(),
	}

	err = p.persistence.FlowRepository().PublishVersion(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("failed to publish flow: %w", err)
	}

	p.logger.InfoContext(ctx, "Flow published", "flow_id", def.ID, "version", def.Version)

	return def, nil
}

// Save writes g as the next draft revision of an owned, non-template flow
// and publishes it as a new version.
func (p *Publishing) Save(ctx context.Context, ownerID, flowID string, g models.Graph) (*models.FlowDefinition, error) {
	flow, err := p.flows.writable(ctx, ownerID, flowID)
	if err != nil {
		return nil, err
	}

	err = graph.Validate(g)
	if err != nil {
		return nil, err
	}

	revision := 0

	current, err := p.persistence.FlowRepository().Draft(ctx, flowID)
	switch {
	case err == nil:
		revision = current.Revision
	case !persistence.IsDraftNotFound(err):
		return nil, fmt.Errorf("failed to get draft: %w", err)
	}

	_, err = p.flows.UpdateDraft(ctx, ownerID, flowID, revision, g)
	if err != nil {
		return nil, err
	}

	return p.publish(ctx, flow, g)
}

// SaveAsRequest describes the copy made by SaveAs. A nil Graph copies the
// source's latest published version, or its draft.
type SaveAsRequest struct {
	Name  string
	Graph *models.Graph
}

// SaveAs copies a readable flow (own flow or template) into a new flow owned
// by ownerID and publishes it as version 1.
func (p *Publishing) SaveAs(ctx context.Context, ownerID, sourceFlowID string, req SaveAsRequest) (*models.FlowDefinition, error) {
	source, err := p.flows.readable(ctx, ownerID, sourceFlowID)
	if err != nil {
		return nil, err
	}

	var g models.Graph

	if req.Graph != nil {
		g = *req.Graph
	} else {
		doc, err := p.flows.Export(ctx, ownerID, sourceFlowID)
		if err != nil {
			return nil, err
		}

		g = doc.Graph()
	}

	err = graph.Validate(g)
	if err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = source.Name + " (copy)"
	}

	view, err := p.flows.Create(ctx, ownerID, CreateFlowRequest{Name: name, Graph: g})
	if err != nil {
		return nil, err
	}

	return p.publish(ctx, view.Flow, g)
}

// PruneVersions deletes versions that are neither the latest nor pinned by
// a running enrollment. It returns the deleted version numbers.
func (p *Publishing) PruneVersions(ctx context.Context, ownerID, flowID string) ([]int, error) {
	flow, err := p.owned(ctx, ownerID, flowID)
	if err != nil {
		return nil, err
	}

	versions, err := p.persistence.FlowRepository().Versions(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	pinned, err := p.persistence.EnrollmentRepository().PinnedVersions(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pinned versions: %w", err)
	}

	deleted := make([]int, 0)

	for _, v := range versions {
		if v == flow.LatestVersion || slices.Contains(pinned, v) {
			continue
		}

		err = p.persistence.FlowRepository().DeleteVersion(ctx, flowID, v)
		if err != nil {
			return deleted, fmt.Errorf("failed to delete version %d: %w", v, err)
		}

		deleted = append(deleted, v)
	}

	if len(deleted) > 0 {
		p.logger.InfoContext(ctx, "Flow versions pruned", "flow_id", flowID, "versions", deleted)
	}

	return deleted, nil
}
