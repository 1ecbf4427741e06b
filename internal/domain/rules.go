package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// FilterRules is the stored form of a segment definition. Every non-nil
// field is one constraint; constraints are ANDed. A zero FilterRules
// matches every user.
type FilterRules struct {
	Role                   *string    `json:"role,omitempty"`
	MarketingEmailsEnabled *bool      `json:"marketing_emails_enabled,omitempty"`
	RegistrationDateAfter  *time.Time `json:"registration_date_after,omitempty"`
	RegistrationDateBefore *time.Time `json:"registration_date_before,omitempty"`
	LastActiveDays         *int       `json:"last_active_days,omitempty"`
	MinXP                  *int       `json:"min_xp,omitempty"`
	MaxXP                  *int       `json:"max_xp,omitempty"`
	MinQuestCompletions    *int       `json:"min_quest_completions,omitempty"`
	MaxQuestCompletions    *int       `json:"max_quest_completions,omitempty"`
	HasConnections         *bool      `json:"has_connections,omitempty"`
	HasTutorUsage          *bool      `json:"has_tutor_usage,omitempty"`
}

// IsEmpty reports whether no constraint is set.
func (r FilterRules) IsEmpty() bool {
	return r == FilterRules{}
}

// UnmarshalJSON rejects unknown keys and accepts registration bounds either
// as RFC 3339 timestamps or as plain YYYY-MM-DD dates (midnight UTC).
func (r *FilterRules) UnmarshalJSON(data []byte) error {
	var wire struct {
		Role                   *string `json:"role"`
		MarketingEmailsEnabled *bool   `json:"marketing_emails_enabled"`
		RegistrationDateAfter  *string `json:"registration_date_after"`
		RegistrationDateBefore *string `json:"registration_date_before"`
		LastActiveDays         *int    `json:"last_active_days"`
		MinXP                  *int    `json:"min_xp"`
		MaxXP                  *int    `json:"max_xp"`
		MinQuestCompletions    *int    `json:"min_quest_completions"`
		MaxQuestCompletions    *int    `json:"max_quest_completions"`
		HasConnections         *bool   `json:"has_connections"`
		HasTutorUsage          *bool   `json:"has_tutor_usage"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&wire); err != nil {
		return fmt.Errorf("filter rules: %w", err)
	}

	after, err := parseRuleDate("registration_date_after", wire.RegistrationDateAfter)
	if err != nil {
		return err
	}
	before, err := parseRuleDate("registration_date_before", wire.RegistrationDateBefore)
	if err != nil {
		return err
	}

	*r = FilterRules{
		Role:                   wire.Role,
		MarketingEmailsEnabled: wire.MarketingEmailsEnabled,
		RegistrationDateAfter:  after,
		RegistrationDateBefore: before,
		LastActiveDays:         wire.LastActiveDays,
		MinXP:                  wire.MinXP,
		MaxXP:                  wire.MaxXP,
		MinQuestCompletions:    wire.MinQuestCompletions,
		MaxQuestCompletions:    wire.MaxQuestCompletions,
		HasConnections:         wire.HasConnections,
		HasTutorUsage:          wire.HasTutorUsage,
	}
	return nil
}

func parseRuleDate(key string, s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, *s); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", *s)
	if err != nil {
		return nil, fmt.Errorf("filter rules: %s: expected RFC 3339 or YYYY-MM-DD, got %q", key, *s)
	}
	return &t, nil
}

// TriggerConditions gate a triggered campaign for one user. Boolean fields
// carry the desired state: NoQuestsStarted=true fires only for users with
// zero quest enrollments.
type TriggerConditions struct {
	EmailNotVerified *bool `json:"email_not_verified,omitempty"`
	NoQuestsStarted  *bool `json:"no_quests_started,omitempty"`
	TutorUnused      *bool `json:"tutor_unused,omitempty"`
	NoConnections    *bool `json:"no_connections,omitempty"`
	MinQuestCount    *int  `json:"min_quest_count,omitempty"`
	MaxQuestCount    *int  `json:"max_quest_count,omitempty"`
}

// IsEmpty reports whether no condition is set.
func (c TriggerConditions) IsEmpty() bool {
	return c == TriggerConditions{}
}
