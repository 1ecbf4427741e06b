package domain

import "time"

// EmailMessage is the fully-resolved message handed to a transport.
// By the time a message reaches this struct, all template substitution
// is complete.
type EmailMessage struct {
	To         string            `json:"to"`
	FromName   string            `json:"from_name"`
	FromEmail  string            `json:"from_email"`
	ReplyTo    string            `json:"reply_to,omitempty"`
	Subject    string            `json:"subject"`
	HTMLBody   string            `json:"html_body"`
	TextBody   string            `json:"text_body"`
	Tags       map[string]string `json:"tags,omitempty"`
	CampaignID string            `json:"campaign_id,omitempty"`
	SequenceID string            `json:"sequence_id,omitempty"`
}

// SendResult is returned by a transport after attempting delivery.
type SendResult struct {
	Success   bool      `json:"success"`
	MessageID string    `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
	Error     string    `json:"error,omitempty"`
}

// SendStatus enumerates the outcome recorded for one delivery attempt.
type SendStatus string

const (
	SendSent    SendStatus = "sent"
	SendFailed  SendStatus = "failed"
	SendBounced SendStatus = "bounced"
)

// SendRecord is one row of the append-only send log. Exactly one of
// CampaignID and SequenceID is set. Records are never deduplicated.
type SendRecord struct {
	ID         string         `json:"id" db:"id"`
	CampaignID string         `json:"campaign_id,omitempty" db:"campaign_id"`
	SequenceID string         `json:"sequence_id,omitempty" db:"sequence_id"`
	StepIndex  *int           `json:"step_index,omitempty" db:"step_index"`
	UserID     string         `json:"user_id,omitempty" db:"user_id"`
	Email      string         `json:"email" db:"email"`
	Status     SendStatus     `json:"status" db:"status"`
	Error      string         `json:"error_message,omitempty" db:"error_message"`
	Metadata   map[string]any `json:"metadata,omitempty" db:"metadata"`
	SentAt     time.Time      `json:"sent_at" db:"sent_at"`
}
