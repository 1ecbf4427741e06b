package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ignite/learner-crm/internal/domain"
	"github.com/ignite/learner-crm/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository.
type CampaignRepo struct {
	faults

	mu        sync.RWMutex
	campaigns map[string]domain.Campaign
}

// NewCampaignRepo creates an empty repository.
func NewCampaignRepo() *CampaignRepo {
	return &CampaignRepo{campaigns: make(map[string]domain.Campaign)}
}

// Put stores c as is, bypassing service validation.
func (r *CampaignRepo) Put(c domain.Campaign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = c
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	if err := r.fault("Get"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	return &c, nil
}

func (r *CampaignRepo) List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, error) {
	if err := r.fault("List"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Campaign
	for _, c := range r.campaigns {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Type != "" && c.Type != f.Type {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	if err := r.fault("Create"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.campaigns[c.ID]; exists {
		return fmt.Errorf("campaign %s already exists", c.ID)
	}
	r.campaigns[c.ID] = *c
	return nil
}

func (r *CampaignRepo) update(id string, fn func(c *domain.Campaign)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	fn(&c)
	r.campaigns[id] = c
	return nil
}

func (r *CampaignRepo) UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	if err := r.fault("UpdateStatus"); err != nil {
		return err
	}
	return r.update(id, func(c *domain.Campaign) {
		c.Status = status
		c.UpdatedAt = time.Now()
	})
}

func (r *CampaignRepo) Schedule(ctx context.Context, id string, at time.Time) error {
	if err := r.fault("Schedule"); err != nil {
		return err
	}
	return r.update(id, func(c *domain.Campaign) {
		c.Status = domain.CampaignScheduled
		c.ScheduledAt = &at
		c.UpdatedAt = time.Now()
	})
}

func (r *CampaignRepo) MarkSent(ctx context.Context, id string, at time.Time) error {
	if err := r.fault("MarkSent"); err != nil {
		return err
	}
	return r.update(id, func(c *domain.Campaign) {
		c.Status = domain.CampaignSent
		c.SentAt = &at
		c.UpdatedAt = at
	})
}

func (r *CampaignRepo) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	if err := r.fault("ListDueScheduled"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Campaign
	for _, c := range r.campaigns {
		if c.Status == domain.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *CampaignRepo) ListActiveTriggered(ctx context.Context, event string) ([]domain.Campaign, error) {
	if err := r.fault("ListActiveTriggered"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Campaign
	for _, c := range r.campaigns {
		if c.Type == domain.CampaignTypeTriggered && c.Status == domain.CampaignActive && c.TriggerEvent == event {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
