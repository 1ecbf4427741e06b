package mailing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/learner-crm/internal/domain"
	"github.com/ignite/learner-crm/internal/service/sending"
)

// LogSender is a development transport that logs messages instead of
// delivering them.
type LogSender struct{}

var _ sending.Sender = LogSender{}

func (LogSender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	id := "dev-" + uuid.New().String()
	log.Info("email not sent (log transport)",
		"message_id", id,
		"to", msg.To,
		"subject", msg.Subject,
		"campaign_id", msg.CampaignID,
		"sequence_id", msg.SequenceID)
	return &domain.SendResult{Success: true, MessageID: id, SentAt: time.Now()}, nil
}
