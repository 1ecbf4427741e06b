package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/learner-crm/internal/automation"
	"github.com/ignite/learner-crm/internal/domain"
)

// SequenceRepo implements automation.SequenceRepository against PostgreSQL.
// Steps are stored as a JSONB array.
type SequenceRepo struct{ db *sql.DB }

func NewSequenceRepo(db *sql.DB) *SequenceRepo { return &SequenceRepo{db: db} }

const sequenceColumns = `id, name, COALESCE(description,''), trigger_event, is_active, steps, created_at, updated_at`

func scanSequence(row rowScanner) (*domain.Sequence, error) {
	var (
		s     domain.Sequence
		steps []byte
	)
	if err := row.Scan(&s.ID, &s.Name, &s.Description, &s.TriggerEvent, &s.IsActive, &steps, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(steps, &s.Steps); err != nil {
		return nil, fmt.Errorf("sequence %s steps: %w", s.ID, err)
	}
	return &s, nil
}

func (r *SequenceRepo) Create(ctx context.Context, s *domain.Sequence) error {
	steps, err := json.Marshal(s.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO crm_sequences (id, name, description, trigger_event, is_active, steps, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.ID, s.Name, s.Description, s.TriggerEvent, s.IsActive, string(steps), s.CreatedAt, s.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return automation.ErrDuplicateName
	}
	if err != nil {
		return fmt.Errorf("create sequence: %w", err)
	}
	return nil
}

func (r *SequenceRepo) getBy(ctx context.Context, col, val string) (*domain.Sequence, error) {
	s, err := scanSequence(r.db.QueryRowContext(ctx,
		`SELECT `+sequenceColumns+` FROM crm_sequences WHERE `+col+` = $1`, val))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, automation.ErrSequenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence: %w", err)
	}
	return s, nil
}

func (r *SequenceRepo) Get(ctx context.Context, id string) (*domain.Sequence, error) {
	if !validID(id) {
		return nil, automation.ErrSequenceNotFound
	}
	return r.getBy(ctx, "id", id)
}

func (r *SequenceRepo) GetByName(ctx context.Context, name string) (*domain.Sequence, error) {
	return r.getBy(ctx, "name", name)
}

func (r *SequenceRepo) List(ctx context.Context) ([]domain.Sequence, error) {
	return r.query(ctx, `SELECT `+sequenceColumns+` FROM crm_sequences ORDER BY name`)
}

func (r *SequenceRepo) SetActive(ctx context.Context, id string, active bool) error {
	if !validID(id) {
		return automation.ErrSequenceNotFound
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE crm_sequences SET is_active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("set sequence active: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return automation.ErrSequenceNotFound
	}
	return nil
}

func (r *SequenceRepo) ListActiveByTrigger(ctx context.Context, event string) ([]domain.Sequence, error) {
	return r.query(ctx, `
		SELECT `+sequenceColumns+` FROM crm_sequences
		WHERE trigger_event = $1 AND is_active = true
		ORDER BY name
	`, event)
}

func (r *SequenceRepo) query(ctx context.Context, q string, args ...any) ([]domain.Sequence, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sequences: %w", err)
	}
	defer rows.Close()

	var out []domain.Sequence
	for rows.Next() {
		s, err := scanSequence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sequence: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
