package domain

import (
	"time"
)

// CampaignType distinguishes operator-sent campaigns from event-triggered ones.
type CampaignType string

const (
	CampaignTypeManual    CampaignType = "manual"
	CampaignTypeScheduled CampaignType = "scheduled"
	CampaignTypeTriggered CampaignType = "triggered"
)

// Valid reports whether t is a known campaign type.
func (t CampaignType) Valid() bool {
	switch t {
	case CampaignTypeManual, CampaignTypeScheduled, CampaignTypeTriggered:
		return true
	}
	return false
}

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignActive    CampaignStatus = "active"
	CampaignSent      CampaignStatus = "sent"
	CampaignPaused    CampaignStatus = "paused"
)

// Campaign is an email campaign. Manual and scheduled campaigns carry a
// segment definition in Rules; triggered campaigns carry a trigger event
// and the conditions gating it.
type Campaign struct {
	ID                string            `json:"id" db:"id"`
	Name              string            `json:"name" db:"name"`
	Type              CampaignType      `json:"campaign_type" db:"campaign_type"`
	Status            CampaignStatus    `json:"status" db:"status"`
	TemplateID        string            `json:"template_id" db:"template_id"`
	Subject           string            `json:"subject" db:"subject"`
	Rules             FilterRules       `json:"recipient_rules" db:"recipient_rules"`
	TriggerEvent      string            `json:"trigger_event,omitempty" db:"trigger_event"`
	TriggerConditions TriggerConditions `json:"trigger_conditions" db:"trigger_conditions"`
	ScheduledAt       *time.Time        `json:"scheduled_at,omitempty" db:"scheduled_at"`
	SentAt            *time.Time        `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" db:"updated_at"`
}

// Sendable reports whether the campaign may go through a whole-segment send.
func (c *Campaign) Sendable() bool {
	return c.Status == CampaignDraft || c.Status == CampaignScheduled
}
