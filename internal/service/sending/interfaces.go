// Package sending defines the contracts between the CRM services and the
// template renderer, the email transport and the send log.
//
// The SES transport implements Sender; the Liquid template service
// implements Renderer; the Postgres and in-memory repositories implement
// SendLog.
package sending

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/learner-crm/internal/domain"
)

// Sender sends a single email through a transport. Implementations must be
// safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)
}

// Rendered is a template rendered for one recipient.
type Rendered struct {
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body"`
}

// ErrTemplateNotFound is wrapped by a Renderer asked for a template id it
// does not hold.
var ErrTemplateNotFound = errors.New("template not found")

// Renderer renders a stored template. A non-empty subjectOverride replaces
// the template's own subject line before rendering.
type Renderer interface {
	Render(ctx context.Context, templateID, subjectOverride string, vars map[string]any) (*Rendered, error)
	// Has reports whether templateID can be rendered.
	Has(templateID string) bool
}

// SendLog is the append-only record of delivery attempts.
type SendLog interface {
	Record(ctx context.Context, rec *domain.SendRecord) error
	ListByCampaign(ctx context.Context, campaignID string, limit int) ([]domain.SendRecord, error)
}

// Envelope carries the sender identity stamped on every outgoing message.
type Envelope struct {
	FromName  string
	FromEmail string
	ReplyTo   string
}

// Message assembles a transport message from a rendered template.
func (e Envelope) Message(to string, r *Rendered) *domain.EmailMessage {
	return &domain.EmailMessage{
		To:        to,
		FromName:  e.FromName,
		FromEmail: e.FromEmail,
		ReplyTo:   e.ReplyTo,
		Subject:   r.Subject,
		HTMLBody:  r.HTMLBody,
		TextBody:  r.TextBody,
	}
}

// ErrRejected is wrapped by Deliver when the transport reports failure
// without returning an error.
var ErrRejected = errors.New("transport rejected message")

// Deliver sends msg and folds an unsuccessful result into an error, so
// callers only need to check one value.
func Deliver(ctx context.Context, s Sender, msg *domain.EmailMessage) (*domain.SendResult, error) {
	res, err := s.Send(ctx, msg)
	if err != nil {
		return nil, err
	}
	if res == nil || !res.Success {
		reason := "no result"
		if res != nil && res.Error != "" {
			reason = res.Error
		}
		return res, fmt.Errorf("%w: %s", ErrRejected, reason)
	}
	return res, nil
}
