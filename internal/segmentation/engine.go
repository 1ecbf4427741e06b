// Package segmentation resolves learner segments from declarative filter
// rules. Rules that the store can answer directly are pushed down as one
// query; the rest are checked per user.
package segmentation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ignite/learner-crm/internal/domain"
	"github.com/ignite/learner-crm/internal/pkg/logger"
)

var log = logger.Component("segmentation")

// Engine is the main segmentation engine
type Engine struct {
	store RecipientStore
	now   func() time.Time
}

// NewEngine creates a new segmentation engine
func NewEngine(store RecipientStore) *Engine {
	return &Engine{store: store, now: time.Now}
}

// SetClock overrides the time source used for inactivity rules.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// SegmentUsers returns every user matching all rules. An empty rule set
// returns every user; opt-out is not considered here. Any store failure,
// including a per-user lookup, fails the whole segmentation.
func (e *Engine) SegmentUsers(ctx context.Context, rules domain.FilterRules) ([]domain.User, error) {
	start := time.Now()

	plan, err := Compile(rules)
	if err != nil {
		return nil, err
	}

	candidates, err := e.store.QueryUsers(ctx, plan.Query())
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}

	if len(plan.InMemory) == 0 {
		log.Debug("segment resolved", "candidates", len(candidates), "matched", len(candidates))
		return candidates, nil
	}

	now := e.now()
	matched := make([]domain.User, 0, len(candidates))
	for i := range candidates {
		ok, err := e.matchesAll(ctx, &candidates[i], plan.InMemory, now)
		if err != nil {
			return nil, fmt.Errorf("evaluate user %s: %w", candidates[i].ID, err)
		}
		if ok {
			matched = append(matched, candidates[i])
		}
	}

	log.Debug("segment resolved",
		"candidates", len(candidates),
		"matched", len(matched),
		"duration_ms", time.Since(start).Milliseconds())
	return matched, nil
}

func (e *Engine) matchesAll(ctx context.Context, u *domain.User, cs []Constraint, now time.Time) (bool, error) {
	for _, c := range cs {
		ok, err := e.matches(ctx, u, c, now)
		if err != nil {
			return false, fmt.Errorf("%s: %w", c.Key(), err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (e *Engine) matches(ctx context.Context, u *domain.User, c Constraint, now time.Time) (bool, error) {
	switch c := c.(type) {
	case InactivityConstraint:
		if u.LastActive == nil {
			return true, nil
		}
		return daysSince(*u.LastActive, now) >= c.MinDays, nil

	case RangeConstraint:
		switch c.Field {
		case FieldXP:
			return within(u.TotalXP, c.Min, c.Max), nil
		case FieldQuestCompletions:
			n, err := e.store.CountCompletedEnrollments(ctx, u.ID)
			if err != nil {
				return false, err
			}
			return within(n, c.Min, c.Max), nil
		}

	case ExistenceConstraint:
		var has bool
		var err error
		switch c.Kind {
		case ExistsConnections:
			has, err = e.store.HasAcceptedConnection(ctx, u.ID)
		case ExistsTutorUsage:
			has, err = e.store.HasTutorUsage(ctx, u.ID)
		default:
			return false, fmt.Errorf("unknown existence kind %q", c.Kind)
		}
		if err != nil {
			return false, err
		}
		return has == c.Desired, nil

	case RoleConstraint:
		return u.Role == c.Role, nil
	case OptInConstraint:
		return u.MarketingEmailsEnabled == c.Enabled, nil
	case RegistrationWindow:
		if c.After != nil && u.CreatedAt.Before(*c.After) {
			return false, nil
		}
		return c.Before == nil || !u.CreatedAt.After(*c.Before), nil
	}
	return false, fmt.Errorf("unsupported constraint %T", c)
}

// daysSince counts whole days between t and now, rounding toward the past.
func daysSince(t, now time.Time) int {
	return int(math.Floor(now.Sub(t).Hours() / 24))
}

// Preview summarizes a segment for operators before a send.
type Preview struct {
	Total    int           `json:"total"`
	OptedIn  int           `json:"opted_in"`
	OptedOut int           `json:"opted_out"`
	Sample   []UserPreview `json:"sample"`
}

// UserPreview is a minimal user representation for previews.
type UserPreview struct {
	ID                     string `json:"id"`
	Email                  string `json:"email"`
	DisplayName            string `json:"display_name,omitempty"`
	Role                   string `json:"role,omitempty"`
	TotalXP                int    `json:"total_xp"`
	MarketingEmailsEnabled bool   `json:"marketing_emails_enabled"`
}

// PreviewSegment resolves the segment and reports how many members would
// receive mail under their current opt-in state.
func (e *Engine) PreviewSegment(ctx context.Context, rules domain.FilterRules, sampleSize int) (*Preview, error) {
	if sampleSize <= 0 {
		sampleSize = 10
	}

	users, err := e.SegmentUsers(ctx, rules)
	if err != nil {
		return nil, err
	}

	p := &Preview{Total: len(users), Sample: []UserPreview{}}
	for _, u := range users {
		if u.MarketingEmailsEnabled {
			p.OptedIn++
		} else {
			p.OptedOut++
		}
		if len(p.Sample) < sampleSize {
			p.Sample = append(p.Sample, UserPreview{
				ID:                     u.ID,
				Email:                  u.Email,
				DisplayName:            u.DisplayName,
				Role:                   u.Role,
				TotalXP:                u.TotalXP,
				MarketingEmailsEnabled: u.MarketingEmailsEnabled,
			})
		}
	}
	return p, nil
}
