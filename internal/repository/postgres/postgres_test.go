package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/learner-crm/internal/automation"
	"github.com/ignite/learner-crm/internal/domain"
	"github.com/ignite/learner-crm/internal/segmentation"
	"github.com/ignite/learner-crm/internal/service/campaign"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var (
	created = time.Date(2025, 1, 20, 9, 0, 0, 0, time.UTC)
	active  = time.Date(2025, 3, 1, 18, 30, 0, 0, time.UTC)
)

const (
	campaignID = "5b0f3c1e-8d7a-4c2b-9f61-0a3e7d2c4b18"
	unknownID  = "9e2d7a41-3c6b-4f0e-8a15-7b9c2d4e6f01"
)

func userRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "email", "display_name", "first_name", "role", "total_xp",
		"marketing_emails_enabled", "email_verified", "last_active", "created_at",
	})
}

func TestUserStoreQueryUsersPushdown(t *testing.T) {
	db, mock := setupTestDB(t)
	store := NewUserStore(db)

	after := created.AddDate(0, -1, 0)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE 1=1 AND role = $1 AND marketing_emails_enabled = $2 AND created_at >= $3 ORDER BY created_at, id")).
		WithArgs("student", true, after).
		WillReturnRows(userRows().
			AddRow("u1", "a@example.com", "Ada", "", "student", 600, true, false, active, created).
			AddRow("u2", "b@example.com", "", "Ben", "student", 20, true, true, nil, created))

	role, yes := "student", true
	users, err := store.QueryUsers(context.Background(), segmentation.UserQuery{
		Role:                   &role,
		MarketingEmailsEnabled: &yes,
		CreatedAfter:           &after,
	})
	require.NoError(t, err)
	require.Len(t, users, 2)

	assert.Equal(t, 600, users[0].TotalXP)
	require.NotNil(t, users[0].LastActive)
	assert.Equal(t, active, *users[0].LastActive)
	assert.Nil(t, users[1].LastActive)
	assert.True(t, users[1].EmailVerified)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStoreQueryUsersNoPredicates(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE 1=1 ORDER BY created_at, id")).
		WithArgs().
		WillReturnRows(userRows())

	users, err := NewUserStore(db).QueryUsers(context.Background(), segmentation.UserQuery{})
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserStoreGetUserNotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery("FROM users WHERE id = \\$1").
		WithArgs(unknownID).
		WillReturnError(sql.ErrNoRows)

	_, err := NewUserStore(db).GetUser(context.Background(), unknownID)
	assert.ErrorIs(t, err, segmentation.ErrUserNotFound)
}

func TestUserStoreLookups(t *testing.T) {
	db, mock := setupTestDB(t)
	store := NewUserStore(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM user_quests WHERE user_id = $1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta("AND completed_at IS NOT NULL")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("status = 'accepted' AND (requester_id = $1 OR addressee_id = $1)")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("FROM tutor_conversations").
		WithArgs("u1").
		WillReturnError(sql.ErrConnDone)

	n, err := store.CountEnrollments(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = store.CountCompletedEnrollments(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err := store.HasAcceptedConnection(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.HasTutorUsage(ctx, "u1")
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func campaignRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "campaign_type", "status", "template_id", "subject",
		"recipient_rules", "trigger_event", "trigger_conditions",
		"scheduled_at", "sent_at", "created_at", "updated_at",
	})
}

func TestCampaignRepoGet(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery("FROM crm_campaigns WHERE id = \\$1").
		WithArgs(campaignID).
		WillReturnRows(campaignRows().AddRow(
			campaignID, "Spring", "manual", "draft", "spring", "Hi",
			[]byte(`{"role":"student","min_xp":500,"registration_date_after":"2025-01-01"}`),
			"", []byte(`{}`), nil, nil, created, created))

	c, err := NewCampaignRepo(db).Get(context.Background(), campaignID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignTypeManual, c.Type)
	assert.Equal(t, domain.CampaignDraft, c.Status)
	require.NotNil(t, c.Rules.Role)
	assert.Equal(t, "student", *c.Rules.Role)
	assert.Equal(t, 500, *c.Rules.MinXP)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *c.Rules.RegistrationDateAfter)
	assert.True(t, c.TriggerConditions.IsEmpty())
	assert.Nil(t, c.SentAt)
}

func TestCampaignRepoGetNotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery("FROM crm_campaigns").WillReturnError(sql.ErrNoRows)

	_, err := NewCampaignRepo(db).Get(context.Background(), unknownID)
	assert.ErrorIs(t, err, campaign.ErrNotFound)
}

func TestMalformedIDsAreNotFound(t *testing.T) {
	// No expectations: a malformed id must never reach the database.
	db, mock := setupTestDB(t)
	ctx := context.Background()
	campaigns := NewCampaignRepo(db)
	sequences := NewSequenceRepo(db)

	_, err := campaigns.Get(ctx, "abc")
	assert.ErrorIs(t, err, campaign.ErrNotFound)
	assert.ErrorIs(t, campaigns.UpdateStatus(ctx, "abc", domain.CampaignPaused), campaign.ErrNotFound)
	assert.ErrorIs(t, campaigns.Schedule(ctx, "abc", created), campaign.ErrNotFound)
	assert.ErrorIs(t, campaigns.MarkSent(ctx, "abc", created), campaign.ErrNotFound)

	_, err = sequences.Get(ctx, "onboarding")
	assert.ErrorIs(t, err, automation.ErrSequenceNotFound)
	assert.ErrorIs(t, sequences.SetActive(ctx, "1", true), automation.ErrSequenceNotFound)

	_, err = NewUserStore(db).GetUser(ctx, "ghost")
	assert.ErrorIs(t, err, segmentation.ErrUserNotFound)

	recs, err := NewSendLog(db).ListByCampaign(ctx, "abc", 10)
	require.NoError(t, err)
	assert.Empty(t, recs)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepoListActiveTriggeredFiltersInQuery(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE campaign_type = 'triggered' AND status = 'active' AND trigger_event = $1")).
		WithArgs("user_signup").
		WillReturnRows(campaignRows().AddRow(
			"c2", "Welcome", "triggered", "active", "welcome", "",
			[]byte(`{}`), "user_signup", []byte(`{"no_quests_started":true}`),
			nil, nil, created, created))

	got, err := NewCampaignRepo(db).ListActiveTriggered(context.Background(), "user_signup")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].TriggerConditions.NoQuestsStarted)
	assert.True(t, *got[0].TriggerConditions.NoQuestsStarted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepoListDueScheduled(t *testing.T) {
	db, mock := setupTestDB(t)
	now := created.Add(48 * time.Hour)
	due := created.Add(24 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'scheduled' AND scheduled_at <= $1")).
		WithArgs(now, 20).
		WillReturnRows(campaignRows().AddRow(
			"c4", "Digest", "scheduled", "scheduled", "digest", "",
			[]byte(`{}`), "", []byte(`{}`), due, nil, created, created))

	got, err := NewCampaignRepo(db).ListDueScheduled(context.Background(), now, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].ScheduledAt)
	assert.Equal(t, due, *got[0].ScheduledAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepoList(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE 1=1 AND status = $1 AND campaign_type = $2 ORDER BY created_at DESC LIMIT $3")).
		WithArgs(domain.CampaignDraft, domain.CampaignTypeManual, 50).
		WillReturnRows(campaignRows())

	_, err := NewCampaignRepo(db).List(context.Background(), campaign.ListFilter{
		Status: domain.CampaignDraft,
		Type:   domain.CampaignTypeManual,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepoCreate(t *testing.T) {
	db, mock := setupTestDB(t)
	role := "student"
	c := &domain.Campaign{
		ID: "c3", Name: "Push", Type: domain.CampaignTypeManual, Status: domain.CampaignDraft,
		TemplateID: "push", Rules: domain.FilterRules{Role: &role},
		CreatedAt: created, UpdatedAt: created,
	}
	mock.ExpectExec("INSERT INTO crm_campaigns").
		WithArgs("c3", "Push", c.Type, c.Status, "push", "",
			`{"role":"student"}`, "", `{}`, created, created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewCampaignRepo(db).Create(context.Background(), c))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepoMarkSent(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCampaignRepo(db)
	at := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("SET status = 'sent', sent_at = $1")).
		WithArgs(at, campaignID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE crm_campaigns").
		WithArgs(at, unknownID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.MarkSent(context.Background(), campaignID, at))
	assert.ErrorIs(t, repo.MarkSent(context.Background(), unknownID, at), campaign.ErrNotFound)
}

func sequenceRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "description", "trigger_event", "is_active", "steps", "created_at", "updated_at"})
}

func TestSequenceRepoListActiveByTrigger(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE trigger_event = $1 AND is_active = true")).
		WithArgs("user_signup").
		WillReturnRows(sequenceRows().AddRow("s1", "onboarding", "", "user_signup", true,
			[]byte(`[{"template_id":"welcome","delay_hours":0},{"template_id":"tips","delay_hours":24,"condition":"no_quests_started"}]`),
			created, created))

	got, err := NewSequenceRepo(db).ListActiveByTrigger(context.Background(), "user_signup")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Steps, 2)
	assert.Equal(t, "no_quests_started", got[0].Steps[1].Condition)
	assert.Equal(t, 24, got[0].Steps[1].DelayHours)
}

func TestSequenceRepoCreateDuplicate(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectExec("INSERT INTO crm_sequences").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := NewSequenceRepo(db).Create(context.Background(), &domain.Sequence{ID: "s1", Name: "onboarding"})
	assert.ErrorIs(t, err, automation.ErrDuplicateName)
}

func TestSequenceRepoGetByNameNotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery("FROM crm_sequences WHERE name = \\$1").
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := NewSequenceRepo(db).GetByName(context.Background(), "nope")
	assert.ErrorIs(t, err, automation.ErrSequenceNotFound)
}

func TestSequenceRepoSetActiveNotFound(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectExec("UPDATE crm_sequences SET is_active").
		WithArgs(true, unknownID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewSequenceRepo(db).SetActive(context.Background(), unknownID, true)
	assert.ErrorIs(t, err, automation.ErrSequenceNotFound)
}

func TestSendLogRecord(t *testing.T) {
	db, mock := setupTestDB(t)
	step := 0
	rec := &domain.SendRecord{
		ID: "r1", SequenceID: "s1", StepIndex: &step, Email: "new@example.com",
		Status: domain.SendSent, SentAt: created,
	}
	mock.ExpectExec("INSERT INTO crm_email_sends").
		WithArgs("r1",
			sql.NullString{}, sql.NullString{String: "s1", Valid: true},
			sql.NullInt32{Int32: 0, Valid: true}, sql.NullString{},
			"new@example.com", domain.SendSent, sql.NullString{}, sql.NullString{}, created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewSendLog(db).Record(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSendLogListByCampaign(t *testing.T) {
	db, mock := setupTestDB(t)
	mock.ExpectQuery("FROM crm_email_sends").
		WithArgs(campaignID, 10).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "campaign_id", "sequence_id", "step_index", "user_id", "email", "status", "error", "metadata", "sent_at",
		}).AddRow("r1", campaignID, "", nil, "u1", "a@example.com", "failed", "bounced", []byte(`{"event":"signup"}`), created))

	recs, err := NewSendLog(db).ListByCampaign(context.Background(), campaignID, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.SendFailed, recs[0].Status)
	assert.Nil(t, recs[0].StepIndex)
	assert.Equal(t, "signup", recs[0].Metadata["event"])
}
