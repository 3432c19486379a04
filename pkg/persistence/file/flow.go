package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/google/uuid"
)

// FlowRepository handles flow, draft and version documents.
type FlowRepository struct {
	store *store
}

func (r *FlowRepository) flowPath(id string) string {
	return r.store.path("flows", id+".json")
}

func (r *FlowRepository) draftPath(flowID string) string {
	return r.store.path("drafts", flowID+".json")
}

func (r *FlowRepository) versionPath(flowID string, version int) string {
	return r.store.path("versions", flowID, strconv.Itoa(version)+".json")
}

// SaveFlow creates or updates a flow header.
func (r *FlowRepository) SaveFlow(_ context.Context, flow *models.Flow) error {
	now := time.Now().UTC()

	if flow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate flow ID: %w", err)
		}

		flow.ID = id.String()
	}

	if err := validateID(flow.ID); err != nil {
		return persistence.NewFlowError("SaveFlow", flow.ID, err)
	}

	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.write(r.flowPath(flow.ID), flow)
}

func (r *FlowRepository) Flow(_ context.Context, id string) (*models.Flow, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewFlowError("Flow", id, err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.readFlow(id)
}

func (r *FlowRepository) readFlow(id string) (*models.Flow, error) {
	var flow models.Flow

	err := r.store.read(r.flowPath(id), &flow)
	if errors.Is(err, os.ErrNotExist) || (err == nil && flow.DeletedAt != nil) {
		return nil, persistence.NewFlowError("Flow", id, persistence.ErrFlowNotFound)
	}

	if err != nil {
		return nil, persistence.NewFlowError("Flow", id, err)
	}

	return &flow, nil
}

// ListFlows returns the flows of an owner, newest first. An empty owner lists all flows.
func (r *FlowRepository) ListFlows(_ context.Context, ownerID string) ([]*models.Flow, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	ids, err := r.store.list(r.store.path("flows"))
	if err != nil {
		return nil, err
	}

	flows := make([]*models.Flow, 0, len(ids))

	for _, id := range ids {
		flow, err := r.readFlow(id)
		if persistence.IsFlowNotFound(err) {
			continue
		}

		if err != nil {
			return nil, err
		}

		if ownerID != "" && flow.OwnerID != ownerID {
			continue
		}

		flows = append(flows, flow)
	}

	sort.Slice(flows, func(i, j int) bool {
		return flows[i].CreatedAt.After(flows[j].CreatedAt)
	})

	return flows, nil
}

func (r *FlowRepository) SaveDraft(_ context.Context, draft *models.Draft) error {
	if err := validateID(draft.FlowID); err != nil {
		return persistence.NewFlowError("SaveDraft", draft.FlowID, err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var current models.Draft

	err := r.store.read(r.draftPath(draft.FlowID), &current)

	switch {
	case errors.Is(err, os.ErrNotExist):
		if draft.Revision != 1 {
			return persistence.NewFlowError("SaveDraft", draft.FlowID, persistence.ErrDraftConflict)
		}
	case err != nil:
		return persistence.NewFlowError("SaveDraft", draft.FlowID, err)
	case draft.Revision != current.Revision+1:
		return persistence.NewFlowError("SaveDraft", draft.FlowID, persistence.ErrDraftConflict)
	}

	draft.UpdatedAt = time.Now().UTC()

	return r.store.write(r.draftPath(draft.FlowID), draft)
}

func (r *FlowRepository) Draft(_ context.Context, flowID string) (*models.Draft, error) {
	if err := validateID(flowID); err != nil {
		return nil, persistence.NewFlowError("Draft", flowID, err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var draft models.Draft

	err := r.store.read(r.draftPath(flowID), &draft)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewFlowError("Draft", flowID, persistence.ErrDraftNotFound)
	}

	if err != nil {
		return nil, persistence.NewFlowError("Draft", flowID, err)
	}

	return &draft, nil
}

func (r *FlowRepository) PublishVersion(_ context.Context, def *models.FlowDefinition) error {
	if err := validateID(def.ID); err != nil {
		return persistence.NewFlowError("PublishVersion", def.ID, err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	flow, err := r.readFlow(def.ID)
	if err != nil {
		return err
	}

	if def.Version != flow.LatestVersion+1 {
		return persistence.NewVersionError("PublishVersion", def.ID, def.Version, persistence.ErrVersionConflict)
	}

	if err := r.store.write(r.versionPath(def.ID, def.Version), def); err != nil {
		return persistence.NewVersionError("PublishVersion", def.ID, def.Version, err)
	}

	flow.LatestVersion = def.Version
	flow.UpdatedAt = def.PublishedAt

	return r.store.write(r.flowPath(flow.ID), flow)
}

func (r *FlowRepository) Version(_ context.Context, flowID string, version int) (*models.FlowDefinition, error) {
	if err := validateID(flowID); err != nil {
		return nil, persistence.NewVersionError("Version", flowID, version, err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var def models.FlowDefinition

	err := r.store.read(r.versionPath(flowID, version), &def)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewVersionError("Version", flowID, version, persistence.ErrVersionNotFound)
	}

	if err != nil {
		return nil, persistence.NewVersionError("Version", flowID, version, err)
	}

	return &def, nil
}

// Versions returns the stored version numbers in ascending order.
func (r *FlowRepository) Versions(_ context.Context, flowID string) ([]int, error) {
	if err := validateID(flowID); err != nil {
		return nil, persistence.NewFlowError("Versions", flowID, err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	names, err := r.store.list(r.store.path("versions", flowID))
	if err != nil {
		return nil, err
	}

	versions := make([]int, 0, len(names))

	for _, name := range names {
		v, err := strconv.Atoi(name)
		if err != nil {
			continue
		}

		versions = append(versions, v)
	}

	sort.Ints(versions)

	return versions, nil
}

func (r *FlowRepository) DeleteVersion(_ context.Context, flowID string, version int) error {
	if err := validateID(flowID); err != nil {
		return persistence.NewVersionError("DeleteVersion", flowID, version, err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	err := os.Remove(r.versionPath(flowID, version))
	if errors.Is(err, os.ErrNotExist) {
		return persistence.NewVersionError("DeleteVersion", flowID, version, persistence.ErrVersionNotFound)
	}

	if err != nil {
		return persistence.NewVersionError("DeleteVersion", flowID, version, err)
	}

	return nil
}
