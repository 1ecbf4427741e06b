package segmentation

import (
	"errors"
	"fmt"
	"time"

	"github.com/ignite/learner-crm/internal/domain"
)

// ErrInvalidRule is returned when a rule set cannot be compiled.
var ErrInvalidRule = errors.New("invalid segment rule")

// Constraint is one compiled segment rule. The set of implementations is
// closed: RoleConstraint, OptInConstraint, RegistrationWindow,
// InactivityConstraint, RangeConstraint and ExistenceConstraint.
type Constraint interface {
	// Key names the rule key(s) the constraint was compiled from.
	Key() string
	sealed()
}

// RoleConstraint keeps users whose role equals Role.
type RoleConstraint struct{ Role string }

// OptInConstraint keeps users whose marketing opt-in flag equals Enabled.
type OptInConstraint struct{ Enabled bool }

// RegistrationWindow keeps users created within [After, Before]. Either
// bound may be nil.
type RegistrationWindow struct{ After, Before *time.Time }

// InactivityConstraint drops users active fewer than MinDays whole days
// ago. Users with no recorded activity are kept.
type InactivityConstraint struct{ MinDays int }

// RangeField names the per-user number a RangeConstraint bounds.
type RangeField string

const (
	FieldXP               RangeField = "xp"
	FieldQuestCompletions RangeField = "quest_completions"
)

// RangeConstraint keeps users whose Field lies within [Min, Max].
type RangeConstraint struct {
	Field    RangeField
	Min, Max *int
}

// ExistenceKind names the related records an ExistenceConstraint checks.
type ExistenceKind string

const (
	ExistsConnections ExistenceKind = "connections"
	ExistsTutorUsage  ExistenceKind = "tutor_usage"
)

// ExistenceConstraint keeps users for whom the existence of at least one
// related record equals Desired.
type ExistenceConstraint struct {
	Kind    ExistenceKind
	Desired bool
}

func (RoleConstraint) Key() string       { return "role" }
func (OptInConstraint) Key() string      { return "marketing_emails_enabled" }
func (RegistrationWindow) Key() string   { return "registration_date" }
func (InactivityConstraint) Key() string { return "last_active_days" }
func (c RangeConstraint) Key() string    { return string(c.Field) }
func (c ExistenceConstraint) Key() string {
	if c.Kind == ExistsConnections {
		return "has_connections"
	}
	return "has_tutor_usage"
}

func (RoleConstraint) sealed()       {}
func (OptInConstraint) sealed()      {}
func (RegistrationWindow) sealed()   {}
func (InactivityConstraint) sealed() {}
func (RangeConstraint) sealed()      {}
func (ExistenceConstraint) sealed()  {}

// Plan is a compiled rule set split by where each constraint is evaluated.
// Pushdown constraints become one store query; InMemory constraints are
// checked per user, cheapest first.
type Plan struct {
	Pushdown []Constraint
	InMemory []Constraint
}

// Query translates the pushdown tier into store predicates.
func (p *Plan) Query() UserQuery {
	var q UserQuery
	for _, c := range p.Pushdown {
		switch c := c.(type) {
		case RoleConstraint:
			role := c.Role
			q.Role = &role
		case OptInConstraint:
			enabled := c.Enabled
			q.MarketingEmailsEnabled = &enabled
		case RegistrationWindow:
			q.CreatedAfter, q.CreatedBefore = c.After, c.Before
		}
	}
	return q
}

// Compile validates rules and builds the evaluation plan.
func Compile(r domain.FilterRules) (*Plan, error) {
	p := &Plan{}

	if r.Role != nil {
		p.Pushdown = append(p.Pushdown, RoleConstraint{Role: *r.Role})
	}
	if r.MarketingEmailsEnabled != nil {
		p.Pushdown = append(p.Pushdown, OptInConstraint{Enabled: *r.MarketingEmailsEnabled})
	}
	if r.RegistrationDateAfter != nil || r.RegistrationDateBefore != nil {
		p.Pushdown = append(p.Pushdown, RegistrationWindow{
			After:  r.RegistrationDateAfter,
			Before: r.RegistrationDateBefore,
		})
	}

	if r.LastActiveDays != nil {
		if *r.LastActiveDays < 0 {
			return nil, fmt.Errorf("%w: last_active_days must not be negative", ErrInvalidRule)
		}
		p.InMemory = append(p.InMemory, InactivityConstraint{MinDays: *r.LastActiveDays})
	}
	if r.MinXP != nil || r.MaxXP != nil {
		if err := checkRange("xp", r.MinXP, r.MaxXP); err != nil {
			return nil, err
		}
		p.InMemory = append(p.InMemory, RangeConstraint{Field: FieldXP, Min: r.MinXP, Max: r.MaxXP})
	}
	if r.HasConnections != nil {
		p.InMemory = append(p.InMemory, ExistenceConstraint{Kind: ExistsConnections, Desired: *r.HasConnections})
	}
	if r.HasTutorUsage != nil {
		p.InMemory = append(p.InMemory, ExistenceConstraint{Kind: ExistsTutorUsage, Desired: *r.HasTutorUsage})
	}
	if r.MinQuestCompletions != nil || r.MaxQuestCompletions != nil {
		if err := checkRange("quest_completions", r.MinQuestCompletions, r.MaxQuestCompletions); err != nil {
			return nil, err
		}
		p.InMemory = append(p.InMemory, RangeConstraint{
			Field: FieldQuestCompletions,
			Min:   r.MinQuestCompletions,
			Max:   r.MaxQuestCompletions,
		})
	}

	return p, nil
}

func checkRange(name string, lo, hi *int) error {
	if (lo != nil && *lo < 0) || (hi != nil && *hi < 0) {
		return fmt.Errorf("%w: %s bounds must not be negative", ErrInvalidRule, name)
	}
	return nil
}

func within(v int, lo, hi *int) bool {
	if lo != nil && v < *lo {
		return false
	}
	if hi != nil && v > *hi {
		return false
	}
	return true
}
