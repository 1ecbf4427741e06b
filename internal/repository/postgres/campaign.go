package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/learner-crm/internal/domain"
	"github.com/ignite/learner-crm/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignColumns = `id, name, campaign_type, status, template_id, COALESCE(subject,''),
       COALESCE(recipient_rules,'{}'), COALESCE(trigger_event,''),
       COALESCE(trigger_conditions,'{}'), scheduled_at, sent_at, created_at, updated_at`

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	var (
		c                   domain.Campaign
		rules, conditions   []byte
		scheduledAt, sentAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.Name, &c.Type, &c.Status, &c.TemplateID, &c.Subject,
		&rules, &c.TriggerEvent, &conditions, &scheduledAt, &sentAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rules, &c.Rules); err != nil {
		return nil, fmt.Errorf("campaign %s recipient_rules: %w", c.ID, err)
	}
	if err := json.Unmarshal(conditions, &c.TriggerConditions); err != nil {
		return nil, fmt.Errorf("campaign %s trigger_conditions: %w", c.ID, err)
	}
	if scheduledAt.Valid {
		c.ScheduledAt = &scheduledAt.Time
	}
	if sentAt.Valid {
		c.SentAt = &sentAt.Time
	}
	return &c, nil
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	if !validID(id) {
		return nil, campaign.ErrNotFound
	}
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM crm_campaigns WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT ` + campaignColumns + ` FROM crm_campaigns WHERE 1=1`
	var args []any
	idx := 1
	if f.Status != "" {
		q += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Type != "" {
		q += fmt.Sprintf(" AND campaign_type = $%d", idx)
		args = append(args, f.Type)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", idx)
	args = append(args, limit)

	return r.query(ctx, "list campaigns", q, args...)
}

func (r *CampaignRepo) query(ctx context.Context, op, q string, args ...any) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	rules, err := json.Marshal(c.Rules)
	if err != nil {
		return fmt.Errorf("encode recipient_rules: %w", err)
	}
	conditions, err := json.Marshal(c.TriggerConditions)
	if err != nil {
		return fmt.Errorf("encode trigger_conditions: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO crm_campaigns
			(id, name, campaign_type, status, template_id, subject,
			 recipient_rules, trigger_event, trigger_conditions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8,''), $9, $10, $11)
	`, c.ID, c.Name, c.Type, c.Status, c.TemplateID, c.Subject,
		string(rules), c.TriggerEvent, string(conditions), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

// exec runs a single-row update keyed by id, which is always the last
// placeholder of q.
func (r *CampaignRepo) exec(ctx context.Context, op, id, q string, args ...any) error {
	if !validID(id) {
		return campaign.ErrNotFound
	}
	res, err := r.db.ExecContext(ctx, q, append(args, id)...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	return r.exec(ctx, "update status", id, `
		UPDATE crm_campaigns SET status = $1, updated_at = NOW()
		WHERE id = $2
	`, status)
}

func (r *CampaignRepo) Schedule(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, "schedule campaign", id, `
		UPDATE crm_campaigns SET status = 'scheduled', scheduled_at = $1, updated_at = NOW()
		WHERE id = $2
	`, at)
}

func (r *CampaignRepo) MarkSent(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, "mark sent", id, `
		UPDATE crm_campaigns SET status = 'sent', sent_at = $1, updated_at = $1
		WHERE id = $2
	`, at)
}

func (r *CampaignRepo) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.query(ctx, "list due campaigns", `
		SELECT `+campaignColumns+` FROM crm_campaigns
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at
		LIMIT $2
	`, now, limit)
}

func (r *CampaignRepo) ListActiveTriggered(ctx context.Context, event string) ([]domain.Campaign, error) {
	return r.query(ctx, "list triggered campaigns", `
		SELECT `+campaignColumns+` FROM crm_campaigns
		WHERE campaign_type = 'triggered' AND status = 'active' AND trigger_event = $1
		ORDER BY created_at
	`, event)
}
