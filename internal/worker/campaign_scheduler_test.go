package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/learner-crm/internal/domain"
	"github.com/ignite/learner-crm/internal/repository/memory"
	"github.com/ignite/learner-crm/internal/segmentation"
	"github.com/ignite/learner-crm/internal/service/campaign"
	"github.com/ignite/learner-crm/internal/service/sending"
	"github.com/ignite/learner-crm/internal/worker"
)

type staticRenderer struct{}

func (staticRenderer) Render(_ context.Context, templateID, subject string, _ map[string]any) (*sending.Rendered, error) {
	return &sending.Rendered{Subject: "s", HTMLBody: "<p>" + templateID + "</p>"}, nil
}

func (staticRenderer) Has(templateID string) bool { return templateID != "retired" }

type countingTransport struct {
	mu   sync.Mutex
	sent int
}

func (t *countingTransport) Send(context.Context, *domain.EmailMessage) (*domain.SendResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent++
	return &domain.SendResult{Success: true}, nil
}

var now = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func setupScheduler(t *testing.T) (*worker.CampaignScheduler, *memory.CampaignRepo, *countingTransport) {
	t.Helper()
	users := memory.NewUserStore()
	users.AddUser(domain.User{ID: "u1", Email: "a@example.com", Role: "student", MarketingEmailsEnabled: true})
	users.AddUser(domain.User{ID: "u2", Email: "b@example.com", Role: "student", MarketingEmailsEnabled: true})

	repo := memory.NewCampaignRepo()
	transport := &countingTransport{}
	svc := campaign.NewService(campaign.Deps{
		Repo:     repo,
		SendLog:  memory.NewSendLog(),
		Segments: segmentation.NewEngine(users),
		Renderer: staticRenderer{},
		Sender:   transport,
	}, campaign.Settings{})
	svc.SetClock(func() time.Time { return now })

	return worker.NewCampaignScheduler(svc, time.Minute), repo, transport
}

func scheduled(id string, at time.Time, role string) domain.Campaign {
	return domain.Campaign{
		ID:          id,
		Name:        id,
		Type:        domain.CampaignTypeScheduled,
		Status:      domain.CampaignScheduled,
		TemplateID:  "digest",
		Rules:       domain.FilterRules{Role: &role},
		ScheduledAt: &at,
	}
}

func TestProcessDueSendsOnlyDueCampaigns(t *testing.T) {
	s, repo, transport := setupScheduler(t)
	repo.Put(scheduled("due", now.Add(-time.Minute), "student"))
	repo.Put(scheduled("later", now.Add(time.Hour), "student"))

	assert.Equal(t, 1, s.ProcessDue(context.Background()))
	assert.Equal(t, 2, transport.sent)

	due, err := repo.Get(context.Background(), "due")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignSent, due.Status)

	later, err := repo.Get(context.Background(), "later")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignScheduled, later.Status)

	// A second poll finds nothing left to send.
	assert.Equal(t, 0, s.ProcessDue(context.Background()))
	assert.Equal(t, 2, transport.sent)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.CampaignsProcessed)
	assert.Equal(t, int64(2), stats.EmailsSent)
}

func TestProcessDuePausesEmptySegment(t *testing.T) {
	s, repo, transport := setupScheduler(t)
	repo.Put(scheduled("empty", now.Add(-time.Minute), "mentor"))

	assert.Equal(t, 0, s.ProcessDue(context.Background()))
	assert.Zero(t, transport.sent)

	c, err := repo.Get(context.Background(), "empty")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignPaused, c.Status)
}

func TestProcessDuePausesMissingTemplate(t *testing.T) {
	s, repo, transport := setupScheduler(t)
	c := scheduled("stale", now.Add(-time.Minute), "student")
	c.TemplateID = "retired"
	repo.Put(c)

	assert.Equal(t, 0, s.ProcessDue(context.Background()))
	assert.Zero(t, transport.sent)
	assert.Equal(t, int64(1), s.Stats().Errors)

	got, err := repo.Get(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignPaused, got.Status)

	// Paused campaigns are no longer due.
	assert.Equal(t, 0, s.ProcessDue(context.Background()))
	assert.Equal(t, int64(1), s.Stats().Errors)
}

func TestProcessDueListFailure(t *testing.T) {
	s, repo, _ := setupScheduler(t)
	repo.FailOn("ListDueScheduled", errors.New("db down"))

	assert.Equal(t, 0, s.ProcessDue(context.Background()))
	assert.Equal(t, int64(1), s.Stats().Errors)
}

func TestSchedulerStartStop(t *testing.T) {
	s, _, _ := setupScheduler(t)

	require.NoError(t, s.Start())
	assert.True(t, s.Stats().Running)
	assert.Error(t, s.Start(), "double start should error")

	s.Stop()
	assert.False(t, s.Stats().Running)
	s.Stop()
}
