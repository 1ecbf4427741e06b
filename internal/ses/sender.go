// Package ses delivers CRM email through Amazon SES v2.
package ses

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	appconfig "github.com/ignite/learner-crm/internal/config"
	"github.com/ignite/learner-crm/internal/domain"
	"github.com/ignite/learner-crm/internal/pkg/logger"
	"github.com/ignite/learner-crm/internal/service/sending"
)

var log = logger.Component("ses")

// API is the subset of the SES v2 client used for sending.
type API interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Sender sends email via AWS SES. It implements sending.Sender.
type Sender struct {
	api              API
	configurationSet string
	now              func() time.Time
}

var _ sending.Sender = (*Sender)(nil)

// NewSender creates an SES sender. Static credentials are used when both
// keys are configured; otherwise the default AWS credential chain applies.
func NewSender(ctx context.Context, cfg appconfig.SESConfig) (*Sender, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewSenderWithAPI(sesv2.NewFromConfig(awsCfg), cfg.ConfigurationSet), nil
}

// NewSenderWithAPI wraps an existing SES client.
func NewSenderWithAPI(api API, configurationSet string) *Sender {
	return &Sender{api: api, configurationSet: configurationSet, now: time.Now}
}

// SES only accepts ASCII letters, digits, '_' and '-' in tag values.
var tagUnsafe = regexp.MustCompile(`[^A-Za-z0-9_\-]`)

// Send delivers a single email. An SES API error is reported as an
// unsuccessful result, not as an error.
func (s *Sender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	if msg.To == "" {
		return nil, fmt.Errorf("ses: message has no recipient")
	}

	from := msg.FromEmail
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if msg.TextBody != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	names := make([]string, 0, len(msg.Tags))
	for k := range msg.Tags {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		input.EmailTags = append(input.EmailTags, types.MessageTag{
			Name:  aws.String(tagUnsafe.ReplaceAllString(k, "_")),
			Value: aws.String(tagUnsafe.ReplaceAllString(msg.Tags[k], "_")),
		})
	}

	result, err := s.api.SendEmail(ctx, input)
	if err != nil {
		log.Warn("send failed", "to", msg.To, "error", err)
		return &domain.SendResult{Success: false, Error: err.Error()}, nil
	}

	messageID := aws.ToString(result.MessageId)
	log.Debug("sent", "to", msg.To, "message_id", messageID)
	return &domain.SendResult{Success: true, MessageID: messageID, SentAt: s.now()}, nil
}
