package campaign_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/learner-crm/internal/domain"
	"github.com/ignite/learner-crm/internal/pkg/distlock"
	"github.com/ignite/learner-crm/internal/repository/memory"
	"github.com/ignite/learner-crm/internal/segmentation"
	"github.com/ignite/learner-crm/internal/service/campaign"
	"github.com/ignite/learner-crm/internal/service/sending"
)

// fakeRenderer renders "subject|template|user_name".
type fakeRenderer struct {
	mu      sync.Mutex
	calls   int
	fail    map[string]bool // keyed by email
	missing map[string]bool // keyed by template id
}

func (r *fakeRenderer) Has(templateID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.missing[templateID]
}

func (r *fakeRenderer) Render(_ context.Context, templateID, subject string, vars map[string]any) (*sending.Rendered, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if email, _ := vars["email"].(string); r.fail[email] {
		return nil, errors.New("render boom")
	}
	return &sending.Rendered{
		Subject:  subject,
		HTMLBody: fmt.Sprintf("<p>%s %v</p>", templateID, vars["user_name"]),
		TextBody: fmt.Sprintf("%s %v", templateID, vars["user_name"]),
	}, nil
}

// fakeSender captures messages and fails for addresses in fail. hook, when
// set, runs before each send.
type fakeSender struct {
	mu   sync.Mutex
	sent []*domain.EmailMessage
	fail map[string]bool
	hook func(ctx context.Context)
}

func (s *fakeSender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	if s.hook != nil {
		s.hook(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[msg.To] {
		return &domain.SendResult{Success: false, Error: "mailbox unavailable"}, nil
	}
	s.sent = append(s.sent, msg)
	return &domain.SendResult{Success: true, MessageID: fmt.Sprintf("msg-%d", len(s.sent)), SentAt: time.Now()}, nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fixture struct {
	svc      *campaign.Service
	repo     *memory.CampaignRepo
	users    *memory.UserStore
	log      *memory.SendLog
	renderer *fakeRenderer
	sender   *fakeSender
}

func newFixture(t *testing.T, locks distlock.Factory) *fixture {
	t.Helper()
	f := &fixture{
		repo:     memory.NewCampaignRepo(),
		users:    memory.NewUserStore(),
		log:      memory.NewSendLog(),
		renderer: &fakeRenderer{fail: map[string]bool{}, missing: map[string]bool{}},
		sender:   &fakeSender{fail: map[string]bool{}},
	}
	f.svc = campaign.NewService(campaign.Deps{
		Repo:     f.repo,
		SendLog:  f.log,
		Segments: segmentation.NewEngine(f.users),
		Renderer: f.renderer,
		Sender:   f.sender,
		Locks:    locks,
	}, campaign.Settings{
		Envelope: sending.Envelope{FromName: "Ignite", FromEmail: "hello@ignite.test"},
		Links:    sending.Links{BaseURL: "https://app.ignite.test"},
	})
	return f
}

func (f *fixture) addStudent(id string, optedIn bool) {
	f.users.AddUser(domain.User{
		ID:                     id,
		Email:                  id + "@example.com",
		DisplayName:            id,
		Role:                   "student",
		MarketingEmailsEnabled: optedIn,
		CreatedAt:              time.Now().Add(-48 * time.Hour),
	})
}

func (f *fixture) draft(t *testing.T) *domain.Campaign {
	t.Helper()
	role := "student"
	c, err := f.svc.Create(context.Background(), campaign.CreateInput{
		Name:       "Spring push",
		TemplateID: "spring",
		Subject:    "Come back!",
		Rules:      domain.FilterRules{Role: &role},
	})
	require.NoError(t, err)
	return c
}

func TestCreate(t *testing.T) {
	f := newFixture(t, nil)
	c := f.draft(t)
	assert.Equal(t, domain.CampaignDraft, c.Status)
	assert.Equal(t, domain.CampaignTypeManual, c.Type)
	assert.NotEmpty(t, c.ID)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, nil)
	f.renderer.missing["retired"] = true
	neg := -1
	cases := []struct {
		name string
		in   campaign.CreateInput
	}{
		{"missing name", campaign.CreateInput{TemplateID: "t"}},
		{"missing template", campaign.CreateInput{Name: "n"}},
		{"unknown template", campaign.CreateInput{Name: "n", TemplateID: "retired"}},
		{"unknown type", campaign.CreateInput{Name: "n", TemplateID: "t", Type: "blast"}},
		{"triggered without event", campaign.CreateInput{Name: "n", TemplateID: "t", Type: domain.CampaignTypeTriggered}},
		{"negative rule", campaign.CreateInput{Name: "n", TemplateID: "t", Rules: domain.FilterRules{MinXP: &neg}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), tc.in)
			assert.ErrorIs(t, err, campaign.ErrInvalidInput)
		})
	}
}

func TestGetNotFound(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, campaign.ErrNotFound)

	_, err = f.svc.SendCampaign(context.Background(), "nonexistent", false)
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestSendCampaignSkipsOptedOut(t *testing.T) {
	f := newFixture(t, nil)
	f.addStudent("amy", true)
	f.addStudent("ben", false)
	f.addStudent("cat", true)
	c := f.draft(t)

	sum, err := f.svc.SendCampaign(context.Background(), c.ID, false)
	require.NoError(t, err)

	assert.Equal(t, 3, sum.TotalRecipients)
	assert.Equal(t, 2, sum.Sent)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 0, sum.Failed)
	assert.Equal(t, 2, f.sender.count())
	for _, m := range f.sender.sent {
		assert.NotEqual(t, "ben@example.com", m.To)
		assert.Equal(t, "Come back!", m.Subject)
		assert.Equal(t, c.ID, m.CampaignID)
	}

	got, err := f.svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignSent, got.Status)
	assert.NotNil(t, got.SentAt)
	assert.Len(t, f.log.All(), 2)
}

func TestSendCampaignDryRun(t *testing.T) {
	f := newFixture(t, nil)
	f.addStudent("amy", true)
	f.addStudent("ben", false)
	f.addStudent("cat", true)
	c := f.draft(t)

	sum, err := f.svc.SendCampaign(context.Background(), c.ID, true)
	require.NoError(t, err)

	assert.True(t, sum.DryRun)
	assert.Equal(t, 2, sum.Sent)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 0, f.sender.count(), "dry run must not reach the transport")
	assert.Empty(t, f.log.All(), "dry run must not write send records")
	assert.Equal(t, 2, f.renderer.calls)

	got, err := f.svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignDraft, got.Status)
}

func TestSendCampaignMissingTemplate(t *testing.T) {
	f := newFixture(t, nil)
	f.addStudent("amy", true)
	f.addStudent("ben", true)
	f.addStudent("cat", true)
	c := f.draft(t)
	// Template removed from the catalog after the campaign was created.
	f.renderer.missing["spring"] = true

	for _, dryRun := range []bool{true, false} {
		sum, err := f.svc.SendCampaign(context.Background(), c.ID, dryRun)
		assert.ErrorIs(t, err, sending.ErrTemplateNotFound, "dry_run=%v", dryRun)
		assert.Nil(t, sum)
	}

	assert.Zero(t, f.sender.count())
	assert.Zero(t, f.renderer.calls)
	assert.Empty(t, f.log.All())

	got, err := f.svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignDraft, got.Status)

	// Restoring the template makes the campaign sendable again.
	f.renderer.missing["spring"] = false
	sum, err := f.svc.SendCampaign(context.Background(), c.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Sent)
}

func TestSendCampaignTwice(t *testing.T) {
	f := newFixture(t, nil)
	f.addStudent("amy", true)
	c := f.draft(t)

	_, err := f.svc.SendCampaign(context.Background(), c.ID, false)
	require.NoError(t, err)
	require.Equal(t, 1, f.sender.count())

	_, err = f.svc.SendCampaign(context.Background(), c.ID, false)
	assert.ErrorIs(t, err, campaign.ErrInvalidState)
	assert.Equal(t, 1, f.sender.count())
}

func TestSendCampaignPartialFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.addStudent("amy", true)
	f.addStudent("ben", true)
	f.addStudent("cat", true)
	f.sender.fail["ben@example.com"] = true
	f.renderer.fail["cat@example.com"] = true
	c := f.draft(t)

	sum, err := f.svc.SendCampaign(context.Background(), c.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, 2, sum.Failed)

	var failed int
	for _, rec := range f.log.All() {
		if rec.Status == domain.SendFailed {
			failed++
			assert.NotEmpty(t, rec.Error)
		}
	}
	assert.Equal(t, 2, failed)

	// Marked sent even though most sends failed.
	got, _ := f.svc.Get(context.Background(), c.ID)
	assert.Equal(t, domain.CampaignSent, got.Status)
}

func TestSendCampaignNoRecipients(t *testing.T) {
	f := newFixture(t, nil)
	c := f.draft(t)

	sum, err := f.svc.SendCampaign(context.Background(), c.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.TotalRecipients)
	assert.Equal(t, 0, sum.Sent)

	got, _ := f.svc.Get(context.Background(), c.ID)
	assert.Equal(t, domain.CampaignDraft, got.Status)
}

func TestSendCampaignSegmentFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.addStudent("amy", true)
	f.users.FailOn("QueryUsers", errors.New("db down"))
	c := f.draft(t)

	_, err := f.svc.SendCampaign(context.Background(), c.ID, false)
	require.Error(t, err)
	assert.Equal(t, 0, f.sender.count())

	got, _ := f.svc.Get(context.Background(), c.ID)
	assert.Equal(t, domain.CampaignDraft, got.Status)
}

func TestSendCampaignRecordFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.addStudent("amy", true)
	f.log.FailOn("Record", errors.New("disk full"))
	c := f.draft(t)

	sum, err := f.svc.SendCampaign(context.Background(), c.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)
}

func TestSendCampaignAlreadySending(t *testing.T) {
	locks, _ := setupLocks(t, time.Minute)
	f := newFixture(t, locks)
	f.addStudent("amy", true)
	c := f.draft(t)

	held := locks.NewLock("campaign-send:" + c.ID)
	ok, err := held.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.SendCampaign(context.Background(), c.ID, false)
	assert.ErrorIs(t, err, campaign.ErrAlreadySending)
	assert.Equal(t, 0, f.sender.count())

	require.NoError(t, held.Release(context.Background()))
	sum, err := f.svc.SendCampaign(context.Background(), c.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)
}

func setupLocks(t *testing.T, ttl time.Duration) (distlock.Factory, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return distlock.NewFactory(client, nil, ttl), mr
}

func TestSendCampaignKeepsLockDuringLongSend(t *testing.T) {
	locks, mr := setupLocks(t, 300*time.Millisecond)
	f := newFixture(t, locks)
	f.addStudent("amy", true)
	f.addStudent("ben", true)
	f.addStudent("cat", true)
	c := f.draft(t)
	key := "lock:campaign-send:" + c.ID

	var (
		once      sync.Once
		concurrent error
	)
	f.sender.hook = func(context.Context) {
		once.Do(func() {
			mr.FastForward(200 * time.Millisecond)
			require.Eventually(t, func() bool { return mr.TTL(key) > 250*time.Millisecond },
				2*time.Second, 10*time.Millisecond, "lock expiry should be pushed out")
			// Past the original TTL; the lock must still be held.
			mr.FastForward(200 * time.Millisecond)
			_, concurrent = f.svc.SendCampaign(context.Background(), c.ID, false)
		})
	}

	sum, err := f.svc.SendCampaign(context.Background(), c.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Sent)
	assert.ErrorIs(t, concurrent, campaign.ErrAlreadySending)
	assert.Equal(t, 3, f.sender.count())
	assert.False(t, mr.Exists(key), "lock released after the send")
}

func TestSendCampaignStopsWhenLockLost(t *testing.T) {
	locks, mr := setupLocks(t, 300*time.Millisecond)
	f := newFixture(t, locks)
	f.addStudent("amy", true)
	f.addStudent("ben", true)
	f.addStudent("cat", true)
	c := f.draft(t)
	key := "lock:campaign-send:" + c.ID

	var once sync.Once
	f.sender.hook = func(ctx context.Context) {
		once.Do(func() {
			require.NoError(t, mr.Set(key, "another-owner"))
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
				t.Error("send context was not canceled after the lock was taken")
			}
		})
	}

	sum, err := f.svc.SendCampaign(context.Background(), c.ID, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, distlock.ErrLockLost)
	require.NotNil(t, sum)
	assert.Equal(t, 1, f.sender.count(), "no recipient after the first is mailed")
	assert.Equal(t, 3, sum.TotalRecipients)

	got, err := f.svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignSent, got.Status)

	v, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "another-owner", v, "release must not delete a lock we no longer own")
}

func TestSendToUser(t *testing.T) {
	f := newFixture(t, nil)
	c := &domain.Campaign{ID: "c1", TemplateID: "welcome", Subject: "Hi"}

	out := &domain.User{ID: "u1", Email: "u1@example.com", MarketingEmailsEnabled: false}
	sent, err := f.svc.SendToUser(context.Background(), c, out, nil)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Equal(t, 0, f.sender.count())

	in := &domain.User{ID: "u2", Email: "u2@example.com", MarketingEmailsEnabled: true}
	sent, err = f.svc.SendToUser(context.Background(), c, in, map[string]any{"event": "signup"})
	require.NoError(t, err)
	assert.True(t, sent)

	recs := f.log.All()
	require.Len(t, recs, 1)
	assert.Equal(t, "u2", recs[0].UserID)
	assert.Equal(t, "signup", recs[0].Metadata["event"])

	f.sender.fail["u2@example.com"] = true
	sent, err = f.svc.SendToUser(context.Background(), c, in, nil)
	assert.ErrorIs(t, err, sending.ErrRejected)
	assert.False(t, sent)
}

func TestActivateAndPause(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	manual := f.draft(t)
	assert.ErrorIs(t, f.svc.Activate(ctx, manual.ID), campaign.ErrInvalidState)

	trig, err := f.svc.Create(ctx, campaign.CreateInput{
		Name:         "Welcome",
		Type:         domain.CampaignTypeTriggered,
		TemplateID:   "welcome",
		TriggerEvent: "user_signup",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Activate(ctx, trig.ID))
	got, _ := f.svc.Get(ctx, trig.ID)
	assert.Equal(t, domain.CampaignActive, got.Status)

	// Active triggered campaigns are not sendable as a batch.
	_, err = f.svc.SendCampaign(ctx, trig.ID, false)
	assert.ErrorIs(t, err, campaign.ErrInvalidState)

	require.NoError(t, f.svc.Pause(ctx, trig.ID))
	got, _ = f.svc.Get(ctx, trig.ID)
	assert.Equal(t, domain.CampaignPaused, got.Status)

	assert.ErrorIs(t, f.svc.Pause(ctx, trig.ID), campaign.ErrInvalidState)
}

func TestSchedule(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	c := f.draft(t)
	at := time.Now().Add(24 * time.Hour)

	require.NoError(t, f.svc.Schedule(ctx, c.ID, at))
	got, _ := f.svc.Get(ctx, c.ID)
	assert.Equal(t, domain.CampaignScheduled, got.Status)
	require.NotNil(t, got.ScheduledAt)

	assert.ErrorIs(t, f.svc.Schedule(ctx, c.ID, at), campaign.ErrInvalidState)
}

func TestPreviewCampaign(t *testing.T) {
	f := newFixture(t, nil)
	f.addStudent("amy", true)
	f.addStudent("ben", false)
	c := f.draft(t)

	p, err := f.svc.PreviewCampaign(context.Background(), c.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Total)
	assert.Equal(t, 1, p.OptedIn)
	assert.Equal(t, 1, p.OptedOut)
}

func TestSendLogLimit(t *testing.T) {
	f := newFixture(t, nil)
	for _, id := range []string{"amy", "ben", "cat"} {
		f.addStudent(id, true)
	}
	c := f.draft(t)
	_, err := f.svc.SendCampaign(context.Background(), c.ID, false)
	require.NoError(t, err)

	recs, err := f.svc.SendLog(context.Background(), c.ID, 2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	_, err = f.svc.SendLog(context.Background(), "missing", 0)
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}
