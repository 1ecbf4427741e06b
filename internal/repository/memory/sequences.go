package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignite/learner-crm/internal/automation"
	"github.com/ignite/learner-crm/internal/domain"
)

// SequenceRepo implements automation.SequenceRepository.
type SequenceRepo struct {
	faults

	mu   sync.RWMutex
	byID map[string]domain.Sequence
}

// NewSequenceRepo creates an empty repository.
func NewSequenceRepo() *SequenceRepo {
	return &SequenceRepo{byID: make(map[string]domain.Sequence)}
}

func cloneSequence(s domain.Sequence) domain.Sequence {
	s.Steps = append([]domain.Step(nil), s.Steps...)
	return s
}

func (r *SequenceRepo) Create(ctx context.Context, s *domain.Sequence) error {
	if err := r.fault("Create"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.Name == s.Name {
			return automation.ErrDuplicateName
		}
	}
	r.byID[s.ID] = cloneSequence(*s)
	return nil
}

func (r *SequenceRepo) Get(ctx context.Context, id string) (*domain.Sequence, error) {
	if err := r.fault("Get"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, automation.ErrSequenceNotFound
	}
	s = cloneSequence(s)
	return &s, nil
}

func (r *SequenceRepo) GetByName(ctx context.Context, name string) (*domain.Sequence, error) {
	if err := r.fault("GetByName"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byID {
		if s.Name == name {
			s = cloneSequence(s)
			return &s, nil
		}
	}
	return nil, automation.ErrSequenceNotFound
}

func (r *SequenceRepo) List(ctx context.Context) ([]domain.Sequence, error) {
	if err := r.fault("List"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Sequence, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, cloneSequence(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *SequenceRepo) SetActive(ctx context.Context, id string, active bool) error {
	if err := r.fault("SetActive"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return automation.ErrSequenceNotFound
	}
	s.IsActive = active
	s.UpdatedAt = time.Now()
	r.byID[id] = s
	return nil
}

func (r *SequenceRepo) ListActiveByTrigger(ctx context.Context, event string) ([]domain.Sequence, error) {
	if err := r.fault("ListActiveByTrigger"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Sequence
	for _, s := range r.byID {
		if s.IsActive && s.TriggerEvent == event {
			out = append(out, cloneSequence(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
