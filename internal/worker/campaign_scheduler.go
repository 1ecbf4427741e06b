package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/learner-crm/internal/domain"
	"github.com/ignite/learner-crm/internal/pkg/logger"
	"github.com/ignite/learner-crm/internal/service/campaign"
	"github.com/ignite/learner-crm/internal/service/sending"
)

// =============================================================================
// CAMPAIGN SCHEDULER WORKER
// =============================================================================
// Polls for campaigns with status 'scheduled' whose scheduled_at has arrived
// and sends each one through the campaign service. Several instances may
// run at once; the service's send lock and status check keep every campaign
// to a single send.

const (
	// DefaultSchedulerPollInterval is how often to check for due campaigns
	DefaultSchedulerPollInterval = 30 * time.Second

	// DueBatchSize caps how many campaigns one poll picks up
	DueBatchSize = 20
)

var log = logger.Component("scheduler")

// CampaignDispatcher is the part of the campaign service the scheduler uses.
type CampaignDispatcher interface {
	DueCampaigns(ctx context.Context, limit int) ([]domain.Campaign, error)
	SendCampaign(ctx context.Context, campaignID string, dryRun bool) (*campaign.SendSummary, error)
	Pause(ctx context.Context, id string) error
}

// SchedulerStats is a snapshot of scheduler counters.
type SchedulerStats struct {
	WorkerID           string `json:"worker_id"`
	Running            bool   `json:"running"`
	CampaignsProcessed int64  `json:"campaigns_processed"`
	EmailsSent         int64  `json:"emails_sent"`
	Errors             int64  `json:"errors"`
}

// CampaignScheduler polls for due scheduled campaigns and sends them
type CampaignScheduler struct {
	campaigns    CampaignDispatcher
	workerID     string
	pollInterval time.Duration

	// Stats
	campaignsProcessed int64
	emailsSent         int64
	errors             int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewCampaignScheduler creates a new campaign scheduler. A non-positive
// pollInterval uses DefaultSchedulerPollInterval.
func NewCampaignScheduler(campaigns CampaignDispatcher, pollInterval time.Duration) *CampaignScheduler {
	if pollInterval <= 0 {
		pollInterval = DefaultSchedulerPollInterval
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "crm-worker"
	}
	return &CampaignScheduler{
		campaigns:    campaigns,
		workerID:     fmt.Sprintf("scheduler-%s-%d", hostname, time.Now().UnixNano()%10000),
		pollInterval: pollInterval,
	}
}

// Start begins the scheduler polling loop
func (cs *CampaignScheduler) Start() error {
	cs.mu.Lock()
	if cs.running {
		cs.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	cs.running = true
	cs.ctx, cs.cancel = context.WithCancel(context.Background())
	cs.mu.Unlock()

	log.Info("starting", "worker_id", cs.workerID, "poll_interval", cs.pollInterval.String())

	cs.wg.Add(1)
	go cs.schedulerLoop()
	return nil
}

// Stop gracefully stops the scheduler. A send in progress is allowed to
// finish its current recipient before the loop exits.
func (cs *CampaignScheduler) Stop() {
	cs.mu.Lock()
	if !cs.running {
		cs.mu.Unlock()
		return
	}
	cs.running = false
	cs.mu.Unlock()

	cs.cancel()
	cs.wg.Wait()
	log.Info("stopped",
		"campaigns", atomic.LoadInt64(&cs.campaignsProcessed),
		"emails", atomic.LoadInt64(&cs.emailsSent))
}

func (cs *CampaignScheduler) schedulerLoop() {
	defer cs.wg.Done()

	ticker := time.NewTicker(cs.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.ctx.Done():
			return
		case <-ticker.C:
			cs.ProcessDue(cs.ctx)
		}
	}
}

// ProcessDue sends every campaign that is due now and returns how many
// were sent. Campaigns another instance already picked up are skipped.
func (cs *CampaignScheduler) ProcessDue(ctx context.Context) int {
	due, err := cs.campaigns.DueCampaigns(ctx, DueBatchSize)
	if err != nil {
		atomic.AddInt64(&cs.errors, 1)
		log.Error("list due campaigns failed", "error", err.Error())
		return 0
	}

	sent := 0
	for _, c := range due {
		if ctx.Err() != nil {
			break
		}
		summary, err := cs.campaigns.SendCampaign(ctx, c.ID, false)
		switch {
		case errors.Is(err, campaign.ErrAlreadySending), errors.Is(err, campaign.ErrInvalidState):
			log.Debug("campaign taken by another sender", "campaign_id", c.ID)
			continue
		case errors.Is(err, sending.ErrTemplateNotFound):
			atomic.AddInt64(&cs.errors, 1)
			log.Error("scheduled campaign template missing, pausing", "campaign_id", c.ID, "template_id", c.TemplateID)
			cs.park(ctx, c.ID)
			continue
		case err != nil:
			atomic.AddInt64(&cs.errors, 1)
			log.Error("scheduled send failed", "campaign_id", c.ID, "error", err.Error())
			continue
		}
		if summary.TotalRecipients == 0 {
			log.Warn("scheduled campaign has no recipients, pausing", "campaign_id", c.ID)
			cs.park(ctx, c.ID)
			continue
		}
		sent++
		atomic.AddInt64(&cs.campaignsProcessed, 1)
		atomic.AddInt64(&cs.emailsSent, int64(summary.Sent))
		log.Info("scheduled campaign sent",
			"campaign_id", c.ID,
			"recipients", summary.TotalRecipients,
			"sent", summary.Sent,
			"failed", summary.Failed)
	}
	return sent
}

// park pauses a due campaign the scheduler cannot send, so it isn't picked
// up again on every poll.
func (cs *CampaignScheduler) park(ctx context.Context, id string) {
	if err := cs.campaigns.Pause(ctx, id); err != nil {
		atomic.AddInt64(&cs.errors, 1)
		log.Error("pause campaign failed", "campaign_id", id, "error", err.Error())
	}
}

// Stats returns the current counters.
func (cs *CampaignScheduler) Stats() SchedulerStats {
	cs.mu.RLock()
	running := cs.running
	cs.mu.RUnlock()
	return SchedulerStats{
		WorkerID:           cs.workerID,
		Running:            running,
		CampaignsProcessed: atomic.LoadInt64(&cs.campaignsProcessed),
		EmailsSent:         atomic.LoadInt64(&cs.emailsSent),
		Errors:             atomic.LoadInt64(&cs.errors),
	}
}
