package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/learner-crm/internal/domain"
	"github.com/ignite/learner-crm/internal/pkg/logger"
	"github.com/ignite/learner-crm/internal/pkg/metrics"
	"github.com/ignite/learner-crm/internal/segmentation"
	"github.com/ignite/learner-crm/internal/service/sending"
)

var log = logger.Component("automation")

// StepStatus is the outcome of one sequence step for one recipient.
type StepStatus string

const (
	StepFired           StepStatus = "fired"
	StepFailed          StepStatus = "failed"
	StepConditionNotMet StepStatus = "condition_not_met"
	StepDeferred        StepStatus = "deferred"
)

// StepOutcome records what happened to a single sequence step.
type StepOutcome struct {
	SequenceID string     `json:"sequence_id"`
	StepIndex  int        `json:"step_index"`
	TemplateID string     `json:"template_id"`
	Status     StepStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
}

// TriggerResult summarises one processed event.
type TriggerResult struct {
	CampaignsTriggered int           `json:"campaigns_triggered"`
	SequencesStarted   int           `json:"sequences_started"`
	EmailsSent         int           `json:"emails_sent"`
	Errors             []string      `json:"errors"`
	Steps              []StepOutcome `json:"steps,omitempty"`
}

// SequenceRunResult summarises a sequence started for a bare address.
type SequenceRunResult struct {
	SequenceID string        `json:"sequence_id"`
	EmailsSent int           `json:"emails_sent"`
	Errors     []string      `json:"errors"`
	Steps      []StepOutcome `json:"steps"`
}

// RunnerDeps are the collaborators of a Runner.
type RunnerDeps struct {
	Campaigns TriggeredCampaigns
	Sender    CampaignSender
	Sequences SequenceRepository
	Users     segmentation.RecipientStore
	Evaluator *Evaluator
	Renderer  sending.Renderer
	Transport sending.Sender
	SendLog   sending.SendLog
}

// Runner reacts to platform events by firing active triggered campaigns
// and active sequences for the learner involved.
//
// Only steps with a zero delay are sent. Steps with a positive delay are
// reported as deferred in the result and are left to an external scheduler.
type Runner struct {
	campaigns TriggeredCampaigns
	sender    CampaignSender
	sequences SequenceRepository
	users     segmentation.RecipientStore
	eval      *Evaluator
	renderer  sending.Renderer
	transport sending.Sender
	sendLog   sending.SendLog
	envelope  sending.Envelope
	links     sending.Links
	now       func() time.Time
}

// NewRunner creates a runner. A nil Evaluator is built from Users.
func NewRunner(d RunnerDeps, envelope sending.Envelope, links sending.Links) *Runner {
	eval := d.Evaluator
	if eval == nil {
		eval = NewEvaluator(d.Users)
	}
	return &Runner{
		campaigns: d.Campaigns,
		sender:    d.Sender,
		sequences: d.Sequences,
		users:     d.Users,
		eval:      eval,
		renderer:  d.Renderer,
		transport: d.Transport,
		sendLog:   d.SendLog,
		envelope:  envelope,
		links:     links,
		now:       time.Now,
	}
}

// SetClock overrides the time source used for send records.
func (r *Runner) SetClock(now func() time.Time) { r.now = now }

// ProcessEventTrigger fires everything bound to eventType for userID.
// It never fails: problems are collected in the result's Errors and
// processing continues with the next campaign or sequence.
func (r *Runner) ProcessEventTrigger(ctx context.Context, eventType, userID string, metadata map[string]any) TriggerResult {
	res := TriggerResult{Errors: []string{}}
	metrics.EventTriggers.WithLabelValues(eventType).Inc()

	campaigns, err := r.campaigns.ListActiveTriggered(ctx, eventType)
	if err != nil {
		log.Error("list triggered campaigns failed", "event", eventType, "error", err)
		res.Errors = append(res.Errors, fmt.Sprintf("list campaigns: %v", err))
		return res
	}
	sequences, err := r.sequences.ListActiveByTrigger(ctx, eventType)
	if err != nil {
		log.Error("list sequences failed", "event", eventType, "error", err)
		res.Errors = append(res.Errors, fmt.Sprintf("list sequences: %v", err))
		return res
	}
	if len(campaigns) == 0 && len(sequences) == 0 {
		log.Debug("no automation for event", "event", eventType)
		return res
	}

	user, err := r.users.GetUser(ctx, userID)
	if err != nil {
		log.Warn("event user lookup failed", "event", eventType, "user_id", userID, "error", err)
		res.Errors = append(res.Errors, fmt.Sprintf("user %s: %v", userID, err))
		return res
	}

	for i := range campaigns {
		c := &campaigns[i]
		if !r.eval.Check(ctx, c.TriggerConditions, userID, metadata) {
			continue
		}
		sent, err := r.sender.SendToUser(ctx, c, user, metadata)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("campaign %s: %v", c.ID, err))
			continue
		}
		if sent {
			res.CampaignsTriggered++
			res.EmailsSent++
		}
	}

	vars := r.links.UserVariables(user)
	for k, v := range metadata {
		if _, taken := vars[k]; !taken {
			vars[k] = v
		}
	}
	for i := range sequences {
		seq := &sequences[i]
		attempted := false
		for idx, step := range seq.Steps {
			out := StepOutcome{SequenceID: seq.ID, StepIndex: idx, TemplateID: step.TemplateID}
			switch {
			case !step.Immediate():
				out.Status = StepDeferred
				log.Info("sequence step deferred", "sequence_id", seq.ID, "step", idx, "delay_hours", step.DelayHours)
			case !r.stepConditionHolds(ctx, step, userID, metadata):
				out.Status = StepConditionNotMet
			default:
				attempted = true
				if err := r.sendStep(ctx, seq, idx, user.ID, user.Email, vars, metadata); err != nil {
					out.Status = StepFailed
					out.Error = err.Error()
					res.Errors = append(res.Errors, fmt.Sprintf("sequence %s step %d: %v", seq.ID, idx, err))
				} else {
					out.Status = StepFired
					res.EmailsSent++
				}
			}
			res.Steps = append(res.Steps, out)
		}
		if attempted {
			res.SequencesStarted++
		}
	}

	log.Info("event processed",
		"event", eventType,
		"user_id", userID,
		"campaigns", res.CampaignsTriggered,
		"sequences", res.SequencesStarted,
		"emails", res.EmailsSent,
		"errors", len(res.Errors))
	return res
}

func (r *Runner) stepConditionHolds(ctx context.Context, step domain.Step, userID string, metadata map[string]any) bool {
	if step.Condition == "" {
		return true
	}
	cs, err := NamedCondition(step.Condition)
	if err != nil {
		log.Warn("unknown step condition", "condition", step.Condition, "error", err)
		return false
	}
	return r.eval.Check(ctx, cs, userID, metadata)
}

// StartSequenceByEmail runs the immediate steps of a named sequence for an
// address that may not belong to a learner yet, such as a waitlist signup.
// No user is looked up and step conditions are not evaluated.
func (r *Runner) StartSequenceByEmail(ctx context.Context, name, email string, vars map[string]any) (*SequenceRunResult, error) {
	seq, err := r.sequences.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if !seq.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrSequenceInactive, name)
	}

	res := &SequenceRunResult{SequenceID: seq.ID, Errors: []string{}}
	tv := r.links.ContactVariables(email, vars)
	for idx, step := range seq.Steps {
		out := StepOutcome{SequenceID: seq.ID, StepIndex: idx, TemplateID: step.TemplateID}
		if !step.Immediate() {
			out.Status = StepDeferred
			res.Steps = append(res.Steps, out)
			continue
		}
		if err := r.sendStep(ctx, seq, idx, "", email, tv, vars); err != nil {
			out.Status = StepFailed
			out.Error = err.Error()
			res.Errors = append(res.Errors, fmt.Sprintf("step %d: %v", idx, err))
		} else {
			out.Status = StepFired
			res.EmailsSent++
		}
		res.Steps = append(res.Steps, out)
	}
	log.Info("sequence started by email", "sequence", name, "email", email, "sent", res.EmailsSent)
	return res, nil
}

// sendStep renders, sends and records one sequence step. A failure to write
// the send record is logged and does not fail the step.
func (r *Runner) sendStep(ctx context.Context, seq *domain.Sequence, idx int, userID, email string, vars, metadata map[string]any) error {
	step := seq.Steps[idx]
	stepIndex := idx
	rec := &domain.SendRecord{
		ID:         uuid.New().String(),
		SequenceID: seq.ID,
		StepIndex:  &stepIndex,
		UserID:     userID,
		Email:      email,
		Metadata:   metadata,
	}

	err := r.deliverStep(ctx, seq, step, email, vars)
	rec.SentAt = r.now()
	if err != nil {
		rec.Status = domain.SendFailed
		rec.Error = err.Error()
		log.Warn("sequence email failed", "sequence_id", seq.ID, "step", idx, "email", email, "error", err)
	} else {
		rec.Status = domain.SendSent
	}
	metrics.EmailsSent.WithLabelValues(metrics.SourceSequence, string(rec.Status)).Inc()

	if logErr := r.sendLog.Record(ctx, rec); logErr != nil {
		log.Error("record sequence send failed", "sequence_id", seq.ID, "step", idx, "error", logErr)
	}
	return err
}

func (r *Runner) deliverStep(ctx context.Context, seq *domain.Sequence, step domain.Step, email string, vars map[string]any) error {
	rendered, err := r.renderer.Render(ctx, step.TemplateID, "", vars)
	if err != nil {
		return fmt.Errorf("render %s: %w", step.TemplateID, err)
	}
	msg := r.envelope.Message(email, rendered)
	msg.SequenceID = seq.ID
	msg.Tags = map[string]string{"sequence_id": seq.ID, "template_id": step.TemplateID}
	if _, err := sending.Deliver(ctx, r.transport, msg); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}
