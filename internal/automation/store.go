package automation

import (
	"context"
	"errors"

	"github.com/ignite/learner-crm/internal/domain"
)

// Sentinel errors for sequences.
var (
	ErrSequenceNotFound = errors.New("sequence not found")
	ErrSequenceInactive = errors.New("sequence is not active")
	ErrDuplicateName    = errors.New("sequence name already in use")
	ErrInvalidSequence  = errors.New("invalid sequence")
)

// SequenceRepository stores automation sequences.
// Implementations must be safe for concurrent use.
type SequenceRepository interface {
	// Create inserts a sequence. Returns ErrDuplicateName when the name is taken.
	Create(ctx context.Context, s *domain.Sequence) error

	// Get and GetByName return ErrSequenceNotFound for unknown sequences.
	Get(ctx context.Context, id string) (*domain.Sequence, error)
	GetByName(ctx context.Context, name string) (*domain.Sequence, error)

	List(ctx context.Context) ([]domain.Sequence, error)

	// SetActive toggles is_active.
	SetActive(ctx context.Context, id string, active bool) error

	// ListActiveByTrigger returns sequences bound to event with
	// is_active = true. The predicate must be part of the query.
	ListActiveByTrigger(ctx context.Context, event string) ([]domain.Sequence, error)
}

// TriggeredCampaigns lists the campaigns an event may fire.
type TriggeredCampaigns interface {
	ListActiveTriggered(ctx context.Context, event string) ([]domain.Campaign, error)
}

// CampaignSender delivers one campaign to one learner. Implemented by
// campaign.Service.
type CampaignSender interface {
	SendToUser(ctx context.Context, c *domain.Campaign, u *domain.User, metadata map[string]any) (bool, error)
}
