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

// MemberRepository reads and writes the members and member_interactions tables.
type MemberRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewMemberRepository creates a new member repository.
func NewMemberRepository(db *sql.DB, logger *slog.Logger) *MemberRepository {
	return &MemberRepository{db: db, logger: logger}
}

func (r *MemberRepository) SaveMember(ctx context.Context, member *models.Member) error {
	member.UpdatedAt = time.Now().UTC()

	tags := member.Tags
	if tags == nil {
		tags = []string{}
	}

	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	fields := member.Fields
	if fields == nil {
		fields = map[string]string{}
	}

	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO members (id, owner_id, email, tags, fields, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			email = EXCLUDED.email,
			tags = EXCLUDED.tags,
			fields = EXCLUDED.fields,
			updated_at = EXCLUDED.updated_at
	`, member.ID, member.OwnerID, member.Email, tagsJSON, fieldsJSON, member.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save member %s: %w", member.ID, err)
	}

	return nil
}

func (r *MemberRepository) Member(ctx context.Context, id string) (*models.Member, error) {
	var (
		member     models.Member
		tagsJSON   []byte
		fieldsJSON []byte
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, email, tags, fields, updated_at
		FROM members
		WHERE id = $1
	`, id).Scan(&member.ID, &member.OwnerID, &member.Email, &tagsJSON, &fieldsJSON, &member.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("member %s: %w", id, persistence.ErrMemberNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load member %s: %w", id, err)
	}

	err = json.Unmarshal(tagsJSON, &member.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}

	err = json.Unmarshal(fieldsJSON, &member.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
	}

	return &member, nil
}

func (r *MemberRepository) AddInteraction(ctx context.Context, interaction *models.Interaction) error {
	if interaction.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate interaction ID: %w", err)
		}

		interaction.ID = id.String()
	}

	var properties any

	if len(interaction.Properties) > 0 {
		data, err := json.Marshal(interaction.Properties)
		if err != nil {
			return fmt.Errorf("failed to marshal properties: %w", err)
		}

		properties = data
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO member_interactions (id, member_id, kind, ref, at, properties)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, interaction.ID, interaction.MemberID, interaction.Kind, interaction.Ref, interaction.At, properties)
	if err != nil {
		return fmt.Errorf("failed to save interaction: %w", err)
	}

	return nil
}

func (r *MemberRepository) Interactions(ctx context.Context, memberID string) ([]models.Interaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, member_id, kind, ref, at, properties
		FROM member_interactions
		WHERE member_id = $1
		ORDER BY at, id
	`, memberID)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	interactions := make([]models.Interaction, 0)

	for rows.Next() {
		var (
			in         models.Interaction
			properties []byte
		)

		err := rows.Scan(&in.ID, &in.MemberID, &in.Kind, &in.Ref, &in.At, &properties)
		if err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}

		if len(properties) > 0 {
			err = json.Unmarshal(properties, &in.Properties)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal properties: %w", err)
			}
		}

		interactions = append(interactions, in)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating interactions: %w", err)
	}

	return interactions, nil
}
