package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/google/uuid"
)

// FlowRepository handles flow, draft and version rows.
type FlowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(db *sql.DB, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, logger: logger}
}

const flowColumns = `
			id
		  , owner_id
		  , name
		  , is_template
		  , latest_version
		  , created_at
		  , updated_at
		  , deleted_at`

// SaveFlow creates or updates a flow header.
func (r *FlowRepository) SaveFlow(ctx context.Context, flow *models.Flow) error {
	now := time.Now().UTC()

	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	if flow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate flow ID: %w", err)
		}

		flow.ID = id.String()
	}

	query := `
		INSERT INTO flows (id, owner_id, name, is_template, latest_version, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			name = EXCLUDED.name,
			is_template = EXCLUDED.is_template,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err := r.db.ExecContext(ctx, query,
		flow.ID,
		flow.OwnerID,
		flow.Name,
		flow.IsTemplate,
		flow.LatestVersion,
		flow.CreatedAt,
		flow.UpdatedAt,
		flow.DeletedAt,
	)
	if err != nil {
		return persistence.NewFlowError("SaveFlow", flow.ID, err)
	}

	return nil
}

func (r *FlowRepository) Flow(ctx context.Context, id string) (*models.Flow, error) {
	query := `SELECT` + flowColumns + `
		FROM flows
		WHERE id = $1 AND deleted_at IS NULL
	`

	flow, err := r.scanFlow(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewFlowError("Flow", id, persistence.ErrFlowNotFound)
	}

	if err != nil {
		return nil, persistence.NewFlowError("Flow", id, err)
	}

	return flow, nil
}

// ListFlows returns the flows of an owner, newest first. An empty owner lists all flows.
func (r *FlowRepository) ListFlows(ctx context.Context, ownerID string) ([]*models.Flow, error) {
	query := `SELECT` + flowColumns + `
		FROM flows
		WHERE deleted_at IS NULL AND ($1::text = '' OR owner_id = $1)
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	flows := make([]*models.Flow, 0)

	for rows.Next() {
		flow, err := r.scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}

		flows = append(flows, flow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	return flows, nil
}

func (r *FlowRepository) SaveDraft(ctx context.Context, draft *models.Draft) error {
	graphJSON, err := json.Marshal(draft.Graph)
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}

	draft.UpdatedAt = time.Now().UTC()

	var result sql.Result

	if draft.Revision == 1 {
		result, err = r.db.ExecContext(ctx, `
			INSERT INTO drafts (flow_id, owner_id, revision, graph, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (flow_id) DO NOTHING
		`, draft.FlowID, draft.OwnerID, draft.Revision, graphJSON, draft.UpdatedAt)
	} else {
		result, err = r.db.ExecContext(ctx, `
			UPDATE drafts
			SET owner_id = $2, revision = $3, graph = $4, updated_at = $5
			WHERE flow_id = $1 AND revision = $3 - 1
		`, draft.FlowID, draft.OwnerID, draft.Revision, graphJSON, draft.UpdatedAt)
	}

	if err != nil {
		return persistence.NewFlowError("SaveDraft", draft.FlowID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewFlowError("SaveDraft", draft.FlowID, err)
	}

	if affected == 0 {
		return persistence.NewFlowError("SaveDraft", draft.FlowID, persistence.ErrDraftConflict)
	}

	return nil
}

func (r *FlowRepository) Draft(ctx context.Context, flowID string) (*models.Draft, error) {
	query := `
		SELECT flow_id, owner_id, revision, graph, updated_at
		FROM drafts
		WHERE flow_id = $1
	`

	var (
		draft     models.Draft
		graphJSON []byte
	)

	err := r.db.QueryRowContext(ctx, query, flowID).Scan(
		&draft.FlowID,
		&draft.OwnerID,
		&draft.Revision,
		&graphJSON,
		&draft.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewFlowError("Draft", flowID, persistence.ErrDraftNotFound)
	}

	if err != nil {
		return nil, persistence.NewFlowError("Draft", flowID, err)
	}

	err = json.Unmarshal(graphJSON, &draft.Graph)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal draft graph: %w", err)
	}

	return &draft, nil
}

// PublishVersion appends def and bumps the flow's latest version in one transaction.
func (r *FlowRepository) PublishVersion(ctx context.Context, def *models.FlowDefinition) (err error) {
	graphJSON, err := json.Marshal(def.Graph)
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var latest int

	err = tx.QueryRowContext(ctx,
		`SELECT latest_version FROM flows WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
		def.ID,
	).Scan(&latest)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.NewFlowError("PublishVersion", def.ID, persistence.ErrFlowNotFound)
	}

	if err != nil {
		return persistence.NewFlowError("PublishVersion", def.ID, err)
	}

	if def.Version != latest+1 {
		err = persistence.NewVersionError("PublishVersion", def.ID, def.Version, persistence.ErrVersionConflict)

		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO flow_versions (flow_id, version, owner_id, name, is_template, graph, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, def.ID, def.Version, def.OwnerID, def.Name, def.IsTemplate, graphJSON, def.PublishedAt)
	if err != nil {
		return persistence.NewVersionError("PublishVersion", def.ID, def.Version, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE flows SET latest_version = $2, updated_at = $3 WHERE id = $1`,
		def.ID, def.Version, def.PublishedAt,
	)
	if err != nil {
		return persistence.NewVersionError("PublishVersion", def.ID, def.Version, err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *FlowRepository) Version(ctx context.Context, flowID string, version int) (*models.FlowDefinition, error) {
	query := `
		SELECT flow_id, version, owner_id, name, is_template, graph, published_at
		FROM flow_versions
		WHERE flow_id = $1 AND version = $2
	`

	var (
		def       models.FlowDefinition
		graphJSON []byte
	)

	err := r.db.QueryRowContext(ctx, query, flowID, version).Scan(
		&def.ID,
		&def.Version,
		&def.OwnerID,
		&def.Name,
		&def.IsTemplate,
		&graphJSON,
		&def.PublishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewVersionError("Version", flowID, version, persistence.ErrVersionNotFound)
	}

	if err != nil {
		return nil, persistence.NewVersionError("Version", flowID, version, err)
	}

	err = json.Unmarshal(graphJSON, &def.Graph)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal version graph: %w", err)
	}

	return &def, nil
}

// Versions returns the stored version numbers in ascending order.
func (r *FlowRepository) Versions(ctx context.Context, flowID string) ([]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT version FROM flow_versions WHERE flow_id = $1 ORDER BY version`,
		flowID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	versions := make([]int, 0)

	for rows.Next() {
		var v int

		err := rows.Scan(&v)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}

		versions = append(versions, v)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}

	return versions, nil
}

func (r *FlowRepository) DeleteVersion(ctx context.Context, flowID string, version int) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM flow_versions WHERE flow_id = $1 AND version = $2`,
		flowID, version,
	)
	if err != nil {
		return persistence.NewVersionError("DeleteVersion", flowID, version, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewVersionError("DeleteVersion", flowID, version, err)
	}

	if affected == 0 {
		return persistence.NewVersionError("DeleteVersion", flowID, version, persistence.ErrVersionNotFound)
	}

	return nil
}

func (r *FlowRepository) scanFlow(scanner interface {
	Scan(dest ...any) error
},
) (*models.Flow, error) {
	var flow models.Flow

	err := scanner.Scan(
		&flow.ID,
		&flow.OwnerID,
		&flow.Name,
		&flow.IsTemplate,
		&flow.LatestVersion,
		&flow.CreatedAt,
		&flow.UpdatedAt,
		&flow.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	return &flow, nil
}
