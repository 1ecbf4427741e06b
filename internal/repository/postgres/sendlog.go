package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/learner-crm/internal/domain"
)

// SendLog implements sending.SendLog on crm_email_sends.
type SendLog struct{ db *sql.DB }

func NewSendLog(db *sql.DB) *SendLog { return &SendLog{db: db} }

// validID reports whether id can be compared with a UUID column. Postgres
// rejects anything else with 22P02, so lookups treat it as absent.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (l *SendLog) Record(ctx context.Context, rec *domain.SendRecord) error {
	var meta []byte
	if len(rec.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(rec.Metadata); err != nil {
			return fmt.Errorf("encode send metadata: %w", err)
		}
	}
	var step sql.NullInt32
	if rec.StepIndex != nil {
		step = sql.NullInt32{Int32: int32(*rec.StepIndex), Valid: true}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO crm_email_sends
			(id, campaign_id, sequence_id, step_index, user_id, email, status, error_message, metadata, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, nullString(rec.CampaignID), nullString(rec.SequenceID), step,
		nullString(rec.UserID), rec.Email, rec.Status, nullString(rec.Error), nullString(string(meta)), rec.SentAt)
	if err != nil {
		return fmt.Errorf("record send: %w", err)
	}
	return nil
}

func (l *SendLog) ListByCampaign(ctx context.Context, campaignID string, limit int) ([]domain.SendRecord, error) {
	if !validID(campaignID) {
		return nil, nil
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, COALESCE(campaign_id::text,''), COALESCE(sequence_id::text,''), step_index,
		       COALESCE(user_id::text,''), email, status, COALESCE(error_message,''), metadata, sent_at
		FROM crm_email_sends
		WHERE campaign_id = $1
		ORDER BY sent_at DESC
		LIMIT $2
	`, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sends: %w", err)
	}
	defer rows.Close()

	var out []domain.SendRecord
	for rows.Next() {
		var (
			rec  domain.SendRecord
			step sql.NullInt32
			meta []byte
		)
		if err := rows.Scan(&rec.ID, &rec.CampaignID, &rec.SequenceID, &step,
			&rec.UserID, &rec.Email, &rec.Status, &rec.Error, &meta, &rec.SentAt); err != nil {
			return nil, fmt.Errorf("scan send: %w", err)
		}
		if step.Valid {
			i := int(step.Int32)
			rec.StepIndex = &i
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("send %s metadata: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
