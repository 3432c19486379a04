package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
)

// Member writes the member store that condition nodes read.
type Member struct {
	persistence persistence.Persistence
	validator   *validator.Validate
	clock       clockwork.Clock
	logger      *slog.Logger
}

// NewMember creates a new member service.
func NewMember(persistence persistence.Persistence, validate *validator.Validate, clock clockwork.Clock, logger *slog.Logger) *Member {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Member{
		persistence: persistence,
		validator:   validate,
		clock:       clock,
		logger:      logger.With("module", "member_service"),
	}
}

// Save upserts a member of ownerID.
func (m *Member) Save(ctx context.Context, ownerID string, member *models.Member) (*models.Member, error) {
	member.OwnerID = ownerID

	err := m.validator.Struct(member)
	if err != nil {
		return nil, NewValidationError("SaveMember", "invalid_member", err.Error(), ErrInvalidRequest)
	}

	existing, err := m.persistence.MemberRepository().Member(ctx, member.ID)

	switch {
	case err == nil && existing.OwnerID != ownerID:
		return nil, ErrMemberOwnerDiffer
	case err != nil && !persistence.IsMemberNotFound(err):
		return nil, fmt.Errorf("failed to get member: %w", err)
	}

	err = m.persistence.MemberRepository().SaveMember(ctx, member)
	if err != nil {
		return nil, fmt.Errorf("failed to save member: %w", err)
	}

	return member, nil
}

// AddInteraction appends to the interaction log of a member of ownerID.
func (m *Member) AddInteraction(ctx context.Context, ownerID, memberID string, interaction *models.Interaction) (*models.Interaction, error) {
	member, err := m.persistence.MemberRepository().Member(ctx, memberID)
	if err != nil {
		return nil, err
	}

	if member.OwnerID != ownerID {
		return nil, ErrMemberOwnerDiffer
	}

	interaction.MemberID = memberID
	if interaction.At.IsZero() {
		interaction.At = m.clock.Now().UTC()
	}

	err = m.validator.Struct(interaction)
	if err != nil {
		return nil, NewValidationError("AddInteraction", "invalid_interaction", err.Error(), ErrInvalidRequest)
	}

	err = m.persistence.MemberRepository().AddInteraction(ctx, interaction)
	if err != nil {
		return nil, fmt.Errorf("failed to add interaction: %w", err)
	}

	return interaction, nil
}
