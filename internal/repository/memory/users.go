package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ignite/learner-crm/internal/domain"
	"github.com/ignite/learner-crm/internal/segmentation"
)

// UserStore implements segmentation.RecipientStore.
type UserStore struct {
	faults

	mu          sync.RWMutex
	users       map[string]domain.User
	connections []domain.Connection
	enrollments []domain.Enrollment
	tutor       map[string]int
}

// NewUserStore creates an empty store.
func NewUserStore() *UserStore {
	return &UserStore{
		users: make(map[string]domain.User),
		tutor: make(map[string]int),
	}
}

// AddUser inserts or replaces a user.
func (s *UserStore) AddUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// AddConnection records a friendship between two users.
func (s *UserStore) AddConnection(c domain.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections = append(s.connections, c)
}

// AddEnrollment records a quest enrollment.
func (s *UserStore) AddEnrollment(e domain.Enrollment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrollments = append(s.enrollments, e)
}

// AddTutorUsage records a tutor conversation.
func (s *UserStore) AddTutorUsage(t domain.TutorUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tutor[t.UserID]++
}

func (s *UserStore) QueryUsers(ctx context.Context, q segmentation.UserQuery) ([]domain.User, error) {
	if err := s.fault("QueryUsers"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		if q.Role != nil && u.Role != *q.Role {
			continue
		}
		if q.MarketingEmailsEnabled != nil && u.MarketingEmailsEnabled != *q.MarketingEmailsEnabled {
			continue
		}
		if q.CreatedAfter != nil && u.CreatedAt.Before(*q.CreatedAfter) {
			continue
		}
		if q.CreatedBefore != nil && u.CreatedAt.After(*q.CreatedBefore) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *UserStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	if err := s.fault("GetUser"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, segmentation.ErrUserNotFound
	}
	return &u, nil
}

func (s *UserStore) CountEnrollments(ctx context.Context, userID string) (int, error) {
	if err := s.fault("CountEnrollments"); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.enrollments {
		if e.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *UserStore) CountCompletedEnrollments(ctx context.Context, userID string) (int, error) {
	if err := s.fault("CountCompletedEnrollments"); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.enrollments {
		if e.UserID == userID && e.CompletedAt != nil {
			n++
		}
	}
	return n, nil
}

func (s *UserStore) HasAcceptedConnection(ctx context.Context, userID string) (bool, error) {
	if err := s.fault("HasAcceptedConnection"); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.connections {
		if c.Status == domain.ConnectionAccepted && (c.RequesterID == userID || c.AddresseeID == userID) {
			return true, nil
		}
	}
	return false, nil
}

func (s *UserStore) HasTutorUsage(ctx context.Context, userID string) (bool, error) {
	if err := s.fault("HasTutorUsage"); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tutor[userID] > 0, nil
}
