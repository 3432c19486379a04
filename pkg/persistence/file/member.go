package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dukex/nurture/pkg/models"
	"github.com/dukex/nurture/pkg/persistence"
	"github.com/google/uuid"
)

// MemberRepository stores member records and their interaction logs.
type MemberRepository struct {
	store *store
}

func (r *MemberRepository) SaveMember(_ context.Context, member *models.Member) error {
	if err := validateID(member.ID); err != nil {
		return fmt.Errorf("invalid member ID: %w", err)
	}

	member.UpdatedAt = time.Now().UTC()

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.write(r.store.path("members", member.ID+".json"), member)
}

func (r *MemberRepository) Member(_ context.Context, id string) (*models.Member, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("invalid member ID: %w", err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var member models.Member

	err := r.store.read(r.store.path("members", id+".json"), &member)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("member %s: %w", id, persistence.ErrMemberNotFound)
	}

	if err != nil {
		return nil, err
	}

	return &member, nil
}

func (r *MemberRepository) AddInteraction(_ context.Context, interaction *models.Interaction) error {
	if err := validateID(interaction.MemberID); err != nil {
		return fmt.Errorf("invalid member ID: %w", err)
	}

	if interaction.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate interaction ID: %w", err)
		}

		interaction.ID = id.String()
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	log, err := r.interactions(interaction.MemberID)
	if err != nil {
		return err
	}

	log = append(log, *interaction)

	return r.store.write(r.store.path("interactions", interaction.MemberID+".json"), log)
}

func (r *MemberRepository) Interactions(_ context.Context, memberID string) ([]models.Interaction, error) {
	if err := validateID(memberID); err != nil {
		return nil, fmt.Errorf("invalid member ID: %w", err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	log, err := r.interactions(memberID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(log, func(i, j int) bool { return log[i].At.Before(log[j].At) })

	return log, nil
}

func (r *MemberRepository) interactions(memberID string) ([]models.Interaction, error) {
	var log []models.Interaction

	err := r.store.read(r.store.path("interactions", memberID+".json"), &log)
	if errors.Is(err, os.ErrNotExist) {
		return []models.Interaction{}, nil
	}

	if err != nil {
		return nil, err
	}

	return log, nil
}
