package domain

import "time"

// Step is one email in an automation sequence. DelayHours of zero means
// the step fires as soon as the sequence starts. Condition names one of the
// trigger conditions ("no_quests_started", ...) that must hold for the user.
type Step struct {
	TemplateID string `json:"template_id"`
	DelayHours int    `json:"delay_hours"`
	Condition  string `json:"condition,omitempty"`
}

// Immediate reports whether the step fires without delay.
func (s Step) Immediate() bool { return s.DelayHours == 0 }

// Sequence is a multi-step automation bound to a trigger event. New
// sequences are inactive until an operator activates them.
type Sequence struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Description  string    `json:"description,omitempty" db:"description"`
	TriggerEvent string    `json:"trigger_event" db:"trigger_event"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	Steps        []Step    `json:"steps" db:"steps"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
