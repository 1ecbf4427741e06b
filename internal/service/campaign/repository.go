package campaign

import (
	"context"
	"time"

	"github.com/ignite/learner-crm/internal/domain"
)

// Repository defines the data access contract for campaigns.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single campaign. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns campaigns matching the given filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]domain.Campaign, error)

	// Create inserts a new campaign. The ID must already be set.
	Create(ctx context.Context, c *domain.Campaign) error

	// UpdateStatus sets a campaign's status. Returns ErrNotFound if the
	// campaign doesn't exist. Transition rules live in the service.
	UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error

	// Schedule moves a campaign to scheduled with the given send time.
	Schedule(ctx context.Context, id string, at time.Time) error

	// MarkSent sets status sent and stamps sent_at.
	MarkSent(ctx context.Context, id string, at time.Time) error

	// ListDueScheduled returns scheduled campaigns whose send time is at or
	// before now, oldest first.
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)

	// ListActiveTriggered returns triggered campaigns bound to event whose
	// status is active. Inactive campaigns must be filtered by the query
	// itself, never afterwards.
	ListActiveTriggered(ctx context.Context, event string) ([]domain.Campaign, error)
}

// ListFilter controls filtering for campaign lists.
type ListFilter struct {
	Status domain.CampaignStatus
	Type   domain.CampaignType
	Limit  int
}
