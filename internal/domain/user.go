package domain

import "time"

// User is a learner account as seen by the CRM. Owned by the platform's
// registration and profile flows; the CRM never mutates it.
type User struct {
	ID                     string     `json:"id" db:"id"`
	Email                  string     `json:"email" db:"email"`
	DisplayName            string     `json:"display_name" db:"display_name"`
	FirstName              string     `json:"first_name" db:"first_name"`
	Role                   string     `json:"role" db:"role"`
	TotalXP                int        `json:"total_xp" db:"total_xp"`
	MarketingEmailsEnabled bool       `json:"marketing_emails_enabled" db:"marketing_emails_enabled"`
	EmailVerified          bool       `json:"email_verified" db:"email_verified"`
	LastActive             *time.Time `json:"last_active,omitempty" db:"last_active"`
	CreatedAt              time.Time  `json:"created_at" db:"created_at"`
}

// Greeting returns the name used in email salutations.
func (u *User) Greeting() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return "there"
}

// ConnectionStatus enumerates friendship request states.
type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionAccepted ConnectionStatus = "accepted"
)

// Connection is a friendship between two learners.
type Connection struct {
	RequesterID string           `json:"requester_id" db:"requester_id"`
	AddresseeID string           `json:"addressee_id" db:"addressee_id"`
	Status      ConnectionStatus `json:"status" db:"status"`
}

// Enrollment records a learner starting a quest. CompletedAt is set once
// the quest is finished.
type Enrollment struct {
	UserID      string     `json:"user_id" db:"user_id"`
	QuestID     string     `json:"quest_id" db:"quest_id"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// TutorUsage records one AI tutor conversation.
type TutorUsage struct {
	UserID         string `json:"user_id" db:"user_id"`
	ConversationID string `json:"conversation_id" db:"conversation_id"`
}
