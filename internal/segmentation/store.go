package segmentation

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/learner-crm/internal/domain"
)

// ErrUserNotFound is returned by RecipientStore.GetUser for unknown ids.
var ErrUserNotFound = errors.New("user not found")

// UserQuery holds the predicates the store evaluates itself. Nil fields
// impose nothing; date bounds are inclusive.
type UserQuery struct {
	Role                   *string
	MarketingEmailsEnabled *bool
	CreatedAfter           *time.Time
	CreatedBefore          *time.Time
}

// RecipientStore is the read side of the learner database the CRM
// segments over. Implementations must be safe for concurrent use.
type RecipientStore interface {
	// QueryUsers returns every user matching all predicates in q.
	QueryUsers(ctx context.Context, q UserQuery) ([]domain.User, error)

	// GetUser returns a single user or ErrUserNotFound.
	GetUser(ctx context.Context, id string) (*domain.User, error)

	// CountEnrollments counts quest enrollments, finished or not.
	CountEnrollments(ctx context.Context, userID string) (int, error)

	// CountCompletedEnrollments counts enrollments with a completion time.
	CountCompletedEnrollments(ctx context.Context, userID string) (int, error)

	// HasAcceptedConnection reports whether the user is on either side of
	// at least one accepted friendship.
	HasAcceptedConnection(ctx context.Context, userID string) (bool, error)

	// HasTutorUsage reports whether the user ever opened a tutor conversation.
	HasTutorUsage(ctx context.Context, userID string) (bool, error)
}
