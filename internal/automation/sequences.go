package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/learner-crm/internal/domain"
)

// SequenceService manages the lifecycle of automation sequences.
type SequenceService struct {
	repo SequenceRepository
	now  func() time.Time
}

// NewSequenceService creates a sequence service.
func NewSequenceService(repo SequenceRepository) *SequenceService {
	return &SequenceService{repo: repo, now: time.Now}
}

// SequenceInput holds the fields for creating a sequence.
type SequenceInput struct {
	Name         string        `json:"name" validate:"required"`
	Description  string        `json:"description"`
	TriggerEvent string        `json:"trigger_event" validate:"required"`
	Steps        []domain.Step `json:"steps" validate:"required,min=1,dive"`
}

// Create stores a new sequence. Sequences start inactive and must be
// activated before events fire them.
func (s *SequenceService) Create(ctx context.Context, in SequenceInput) (*domain.Sequence, error) {
	if err := validateSequence(in); err != nil {
		return nil, err
	}
	now := s.now()
	seq := &domain.Sequence{
		ID:           uuid.New().String(),
		Name:         strings.TrimSpace(in.Name),
		Description:  in.Description,
		TriggerEvent: strings.TrimSpace(in.TriggerEvent),
		IsActive:     false,
		Steps:        in.Steps,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, seq); err != nil {
		return nil, err
	}
	log.Info("sequence created", "sequence_id", seq.ID, "name", seq.Name, "steps", len(seq.Steps))
	return seq, nil
}

func validateSequence(in SequenceInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSequence)
	}
	if strings.TrimSpace(in.TriggerEvent) == "" {
		return fmt.Errorf("%w: trigger_event is required", ErrInvalidSequence)
	}
	if len(in.Steps) == 0 {
		return fmt.Errorf("%w: at least one step is required", ErrInvalidSequence)
	}
	for i, st := range in.Steps {
		if strings.TrimSpace(st.TemplateID) == "" {
			return fmt.Errorf("%w: step %d has no template", ErrInvalidSequence, i)
		}
		if st.DelayHours < 0 {
			return fmt.Errorf("%w: step %d has a negative delay", ErrInvalidSequence, i)
		}
		if st.Condition != "" {
			if _, err := NamedCondition(st.Condition); err != nil {
				return fmt.Errorf("%w: step %d: %v", ErrInvalidSequence, i, err)
			}
		}
	}
	return nil
}

// Activate enables a sequence.
func (s *SequenceService) Activate(ctx context.Context, id string) error {
	return s.repo.SetActive(ctx, id, true)
}

// Pause disables a sequence. Events stop firing it immediately.
func (s *SequenceService) Pause(ctx context.Context, id string) error {
	return s.repo.SetActive(ctx, id, false)
}

func (s *SequenceService) Get(ctx context.Context, id string) (*domain.Sequence, error) {
	return s.repo.Get(ctx, id)
}

func (s *SequenceService) GetByName(ctx context.Context, name string) (*domain.Sequence, error) {
	return s.repo.GetByName(ctx, name)
}

func (s *SequenceService) List(ctx context.Context) ([]domain.Sequence, error) {
	return s.repo.List(ctx)
}
