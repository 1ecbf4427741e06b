package campaign

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/learner-crm/internal/domain"
	"github.com/ignite/learner-crm/internal/pkg/distlock"
	"github.com/ignite/learner-crm/internal/pkg/logger"
	"github.com/ignite/learner-crm/internal/pkg/metrics"
	"github.com/ignite/learner-crm/internal/segmentation"
	"github.com/ignite/learner-crm/internal/service/sending"
)

var log = logger.Component("campaign")

// Segmenter resolves the recipients of a campaign.
type Segmenter interface {
	SegmentUsers(ctx context.Context, rules domain.FilterRules) ([]domain.User, error)
	PreviewSegment(ctx context.Context, rules domain.FilterRules, sampleSize int) (*segmentation.Preview, error)
}

// Deps are the collaborators of a Service. Locks is optional; without it
// concurrent sends of one campaign are only guarded by the status check.
type Deps struct {
	Repo     Repository
	SendLog  sending.SendLog
	Segments Segmenter
	Renderer sending.Renderer
	Sender   sending.Sender
	Locks    distlock.Factory
}

// Settings configure outgoing messages.
type Settings struct {
	Envelope sending.Envelope
	Links    sending.Links
}

// Service implements campaign business logic. All public methods are safe
// for concurrent use if the underlying collaborators are.
type Service struct {
	repo     Repository
	sendLog  sending.SendLog
	segments Segmenter
	renderer sending.Renderer
	sender   sending.Sender
	locks    distlock.Factory
	settings Settings
	now      func() time.Time
}

// NewService creates a campaign service.
func NewService(d Deps, settings Settings) *Service {
	return &Service{
		repo:     d.Repo,
		sendLog:  d.SendLog,
		segments: d.Segments,
		renderer: d.Renderer,
		sender:   d.Sender,
		locks:    d.Locks,
		settings: settings,
		now:      time.Now,
	}
}

// SetClock overrides the time source used for timestamps.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SendSummary reports the outcome of a whole-segment send.
type SendSummary struct {
	CampaignID      string `json:"campaign_id"`
	TotalRecipients int    `json:"total_recipients"`
	Sent            int    `json:"sent"`
	Failed          int    `json:"failed"`
	Skipped         int    `json:"skipped"`
	DryRun          bool   `json:"dry_run"`
}

// SendCampaign delivers a draft or scheduled campaign to every member of
// its segment. Opted-out members are counted as skipped. A failure for one
// recipient is recorded and the batch continues. Unless dryRun, the
// campaign is marked sent afterwards no matter how many sends failed, so a
// campaign is sent at most once.
//
// While sending, the send lock is refreshed. If it is lost, or ctx ends, the
// batch stops before the next recipient; the campaign is still marked sent
// and the cause is returned alongside the partial summary.
//
// A dry run renders every message but never calls the transport, writes no
// send records and leaves the campaign status unchanged. Both kinds of run
// refuse a campaign whose template is missing before touching the segment.
func (s *Service) SendCampaign(ctx context.Context, campaignID string, dryRun bool) (*SendSummary, error) {
	c, err := s.loadSendable(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	// sendCtx ends early if the send lock is lost mid-run.
	sendCtx := ctx
	if !dryRun && s.locks != nil {
		lock := s.locks.NewLock("campaign-send:" + campaignID)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire send lock: %w", err)
		}
		if !ok {
			metrics.CampaignSends.WithLabelValues("locked").Inc()
			return nil, ErrAlreadySending
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("release send lock failed", "campaign_id", campaignID, "error", err)
			}
		}()

		// Another process may have completed the send while we waited.
		if c, err = s.loadSendable(ctx, campaignID); err != nil {
			return nil, err
		}

		var stopKeep func()
		sendCtx, stopKeep = distlock.Keep(ctx, lock, s.locks.RefreshEvery())
		defer stopKeep()
	}

	users, err := s.segments.SegmentUsers(sendCtx, c.Rules)
	if err != nil {
		metrics.CampaignSends.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}

	summary := &SendSummary{CampaignID: c.ID, TotalRecipients: len(users), DryRun: dryRun}
	if len(users) == 0 {
		log.Info("campaign has no recipients", "campaign_id", c.ID)
		return summary, nil
	}

	var interrupted error
	for i := range users {
		if sendCtx.Err() != nil {
			interrupted = context.Cause(sendCtx)
			break
		}
		u := &users[i]
		if !u.MarketingEmailsEnabled {
			summary.Skipped++
			metrics.EmailsSent.WithLabelValues(metrics.SourceCampaign, "skipped").Inc()
			continue
		}
		if dryRun {
			if _, err := s.render(sendCtx, c, u); err != nil {
				log.Warn("dry run render failed", "campaign_id", c.ID, "user_id", u.ID, "error", err)
			}
			summary.Sent++
			continue
		}
		if err := s.deliver(sendCtx, c, u, metrics.SourceCampaign, nil); err != nil {
			summary.Failed++
			continue
		}
		summary.Sent++
	}

	if dryRun {
		metrics.CampaignSends.WithLabelValues("dry_run").Inc()
	} else {
		// A partial send still counts as the one send.
		if err := s.repo.MarkSent(context.WithoutCancel(ctx), c.ID, s.now()); err != nil {
			return summary, fmt.Errorf("mark campaign sent: %w", err)
		}
		metrics.CampaignSends.WithLabelValues("sent").Inc()
	}

	if interrupted != nil {
		metrics.CampaignSends.WithLabelValues("interrupted").Inc()
		log.Error("campaign send interrupted",
			"campaign_id", c.ID,
			"sent", summary.Sent,
			"remaining", summary.TotalRecipients-summary.Sent-summary.Failed-summary.Skipped,
			"error", interrupted)
		return summary, fmt.Errorf("campaign %s send interrupted: %w", c.ID, interrupted)
	}

	log.Info("campaign send complete",
		"campaign_id", c.ID,
		"recipients", summary.TotalRecipients,
		"sent", summary.Sent,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"dry_run", dryRun)
	return summary, nil
}

func (s *Service) loadSendable(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Sendable() {
		return nil, fmt.Errorf("%w: campaign %s is %s", ErrInvalidState, id, c.Status)
	}
	if !s.renderer.Has(c.TemplateID) {
		return nil, fmt.Errorf("%w: campaign %s uses %s", sending.ErrTemplateNotFound, id, c.TemplateID)
	}
	return c, nil
}

// SendToUser sends campaign c to a single learner, as automation does when
// an event fires a triggered campaign. Opted-out learners are not mailed
// and yield (false, nil). Every attempt is written to the send log.
func (s *Service) SendToUser(ctx context.Context, c *domain.Campaign, u *domain.User, metadata map[string]any) (bool, error) {
	if !u.MarketingEmailsEnabled {
		metrics.EmailsSent.WithLabelValues(metrics.SourceTriggered, "skipped").Inc()
		return false, nil
	}
	if err := s.deliver(ctx, c, u, metrics.SourceTriggered, metadata); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) render(ctx context.Context, c *domain.Campaign, u *domain.User) (*sending.Rendered, error) {
	return s.renderer.Render(ctx, c.TemplateID, c.Subject, s.settings.Links.UserVariables(u))
}

// deliver renders, sends and records one message. The returned error is
// the render or transport failure; a failure to write the send record is
// only logged.
func (s *Service) deliver(ctx context.Context, c *domain.Campaign, u *domain.User, source string, metadata map[string]any) error {
	rec := &domain.SendRecord{
		ID:         uuid.New().String(),
		CampaignID: c.ID,
		UserID:     u.ID,
		Email:      u.Email,
		Metadata:   metadata,
	}

	err := s.send(ctx, c, u)
	rec.SentAt = s.now()
	if err != nil {
		rec.Status = domain.SendFailed
		rec.Error = err.Error()
		log.Warn("campaign email failed", "campaign_id", c.ID, "user_id", u.ID, "error", err)
	} else {
		rec.Status = domain.SendSent
	}
	metrics.EmailsSent.WithLabelValues(source, string(rec.Status)).Inc()

	if logErr := s.sendLog.Record(ctx, rec); logErr != nil {
		log.Error("record send failed", "campaign_id", c.ID, "user_id", u.ID, "error", logErr)
	}
	return err
}

func (s *Service) send(ctx context.Context, c *domain.Campaign, u *domain.User) error {
	r, err := s.render(ctx, c, u)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	msg := s.settings.Envelope.Message(u.Email, r)
	msg.CampaignID = c.ID
	msg.Tags = map[string]string{"campaign_id": c.ID, "user_id": u.ID}
	if _, err := sending.Deliver(ctx, s.sender, msg); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// PreviewRecipients shows who a rule set matches right now, including
// learners who have opted out and would be skipped at send time.
func (s *Service) PreviewRecipients(ctx context.Context, rules domain.FilterRules, sampleSize int) (*segmentation.Preview, error) {
	return s.segments.PreviewSegment(ctx, rules, sampleSize)
}

// PreviewCampaign previews the segment stored on a campaign.
func (s *Service) PreviewCampaign(ctx context.Context, campaignID string, sampleSize int) (*segmentation.Preview, error) {
	c, err := s.repo.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return s.segments.PreviewSegment(ctx, c.Rules, sampleSize)
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name              string                   `json:"name" validate:"required"`
	Type              domain.CampaignType      `json:"campaign_type"`
	TemplateID        string                   `json:"template_id" validate:"required"`
	Subject           string                   `json:"subject"`
	Rules             domain.FilterRules       `json:"recipient_rules"`
	TriggerEvent      string                   `json:"trigger_event"`
	TriggerConditions domain.TriggerConditions `json:"trigger_conditions"`
}

// Create validates and persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Campaign, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.TemplateID) == "" {
		return nil, fmt.Errorf("%w: template_id is required", ErrInvalidInput)
	}
	if !s.renderer.Has(in.TemplateID) {
		return nil, fmt.Errorf("%w: unknown template %q", ErrInvalidInput, in.TemplateID)
	}
	if in.Type == "" {
		in.Type = domain.CampaignTypeManual
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown campaign type %q", ErrInvalidInput, in.Type)
	}
	if in.Type == domain.CampaignTypeTriggered && strings.TrimSpace(in.TriggerEvent) == "" {
		return nil, fmt.Errorf("%w: triggered campaigns need a trigger_event", ErrInvalidInput)
	}
	if _, err := segmentation.Compile(in.Rules); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	now := s.now()
	c := &domain.Campaign{
		ID:                uuid.New().String(),
		Name:              in.Name,
		Type:              in.Type,
		Status:            domain.CampaignDraft,
		TemplateID:        in.TemplateID,
		Subject:           in.Subject,
		Rules:             in.Rules,
		TriggerEvent:      in.TriggerEvent,
		TriggerConditions: in.TriggerConditions,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	log.Info("campaign created", "campaign_id", c.ID, "type", c.Type)
	if c.Type != domain.CampaignTypeTriggered && c.Rules.IsEmpty() {
		log.Warn("campaign has no recipient rules and will reach every learner", "campaign_id", c.ID)
	}
	return c, nil
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Campaign, error) {
	return s.repo.List(ctx, f)
}

// Activate arms a triggered campaign so events can fire it.
func (s *Service) Activate(ctx context.Context, id string) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Type != domain.CampaignTypeTriggered {
		return fmt.Errorf("%w: only triggered campaigns can be activated", ErrInvalidState)
	}
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignPaused {
		return fmt.Errorf("%w: cannot activate a %s campaign", ErrInvalidState, c.Status)
	}
	return s.repo.UpdateStatus(ctx, id, domain.CampaignActive)
}

// Pause stops an active or scheduled campaign.
func (s *Service) Pause(ctx context.Context, id string) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignActive && c.Status != domain.CampaignScheduled {
		return fmt.Errorf("%w: cannot pause a %s campaign", ErrInvalidState, c.Status)
	}
	return s.repo.UpdateStatus(ctx, id, domain.CampaignPaused)
}

// Schedule marks a draft manual or scheduled campaign for sending at a
// later time. The send itself is started by an operator or a job runner.
func (s *Service) Schedule(ctx context.Context, id string, at time.Time) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Type == domain.CampaignTypeTriggered {
		return fmt.Errorf("%w: triggered campaigns cannot be scheduled", ErrInvalidState)
	}
	if c.Status != domain.CampaignDraft {
		return fmt.Errorf("%w: cannot schedule a %s campaign", ErrInvalidState, c.Status)
	}
	return s.repo.Schedule(ctx, id, at)
}

// DueCampaigns returns scheduled campaigns whose send time has arrived.
func (s *Service) DueCampaigns(ctx context.Context, limit int) ([]domain.Campaign, error) {
	return s.repo.ListDueScheduled(ctx, s.now(), limit)
}

// SendLog returns the recorded delivery attempts of a campaign.
func (s *Service) SendLog(ctx context.Context, id string, limit int) ([]domain.SendRecord, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	return s.sendLog.ListByCampaign(ctx, id, limit)
}
