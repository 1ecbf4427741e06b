package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/learner-crm/internal/domain"
	"github.com/ignite/learner-crm/internal/segmentation"
)

// UserStore implements segmentation.RecipientStore over the platform's
// learner tables. It only reads.
type UserStore struct{ db *sql.DB }

// NewUserStore creates a Postgres-backed recipient store.
func NewUserStore(db *sql.DB) *UserStore { return &UserStore{db: db} }

const userColumns = `id, email, COALESCE(display_name,''), COALESCE(first_name,''),
       COALESCE(role,''), COALESCE(total_xp,0), marketing_emails_enabled,
       email_verified, last_active, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (domain.User, error) {
	var (
		u          domain.User
		lastActive sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.FirstName,
		&u.Role, &u.TotalXP, &u.MarketingEmailsEnabled,
		&u.EmailVerified, &lastActive, &u.CreatedAt)
	if err != nil {
		return u, err
	}
	if lastActive.Valid {
		t := lastActive.Time
		u.LastActive = &t
	}
	return u, nil
}

func (s *UserStore) QueryUsers(ctx context.Context, q segmentation.UserQuery) ([]domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE 1=1`
	var args []any
	idx := 1
	add := func(cond string, val any) {
		query += fmt.Sprintf(" AND "+cond, idx)
		args = append(args, val)
		idx++
	}

	if q.Role != nil {
		add("role = $%d", *q.Role)
	}
	if q.MarketingEmailsEnabled != nil {
		add("marketing_emails_enabled = $%d", *q.MarketingEmailsEnabled)
	}
	if q.CreatedAfter != nil {
		add("created_at >= $%d", *q.CreatedAfter)
	}
	if q.CreatedBefore != nil {
		add("created_at <= $%d", *q.CreatedBefore)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *UserStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	if !validID(id) {
		return nil, segmentation.ErrUserNotFound
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, segmentation.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *UserStore) count(ctx context.Context, query, userID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *UserStore) exists(ctx context.Context, query, userID string) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *UserStore) CountEnrollments(ctx context.Context, userID string) (int, error) {
	n, err := s.count(ctx, `SELECT COUNT(*) FROM user_quests WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("count enrollments: %w", err)
	}
	return n, nil
}

func (s *UserStore) CountCompletedEnrollments(ctx context.Context, userID string) (int, error) {
	n, err := s.count(ctx, `SELECT COUNT(*) FROM user_quests WHERE user_id = $1 AND completed_at IS NOT NULL`, userID)
	if err != nil {
		return 0, fmt.Errorf("count completed enrollments: %w", err)
	}
	return n, nil
}

func (s *UserStore) HasAcceptedConnection(ctx context.Context, userID string) (bool, error) {
	ok, err := s.exists(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM friendships
			WHERE status = 'accepted' AND (requester_id = $1 OR addressee_id = $1)
		)`, userID)
	if err != nil {
		return false, fmt.Errorf("check connections: %w", err)
	}
	return ok, nil
}

func (s *UserStore) HasTutorUsage(ctx context.Context, userID string) (bool, error) {
	ok, err := s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM tutor_conversations WHERE user_id = $1)`, userID)
	if err != nil {
		return false, fmt.Errorf("check tutor usage: %w", err)
	}
	return ok, nil
}
