package automation

import (
	"context"
	"fmt"

	"github.com/ignite/learner-crm/internal/domain"
	"github.com/ignite/learner-crm/internal/segmentation"
)

// Named conditions usable on sequence steps.
const (
	CondEmailNotVerified = "email_not_verified"
	CondNoQuestsStarted  = "no_quests_started"
	CondTutorUnused      = "tutor_unused"
	CondNoConnections    = "no_connections"
)

// NamedCondition turns a step condition name into the condition set
// requiring it.
func NamedCondition(name string) (domain.TriggerConditions, error) {
	yes := true
	switch name {
	case CondEmailNotVerified:
		return domain.TriggerConditions{EmailNotVerified: &yes}, nil
	case CondNoQuestsStarted:
		return domain.TriggerConditions{NoQuestsStarted: &yes}, nil
	case CondTutorUnused:
		return domain.TriggerConditions{TutorUnused: &yes}, nil
	case CondNoConnections:
		return domain.TriggerConditions{NoConnections: &yes}, nil
	}
	return domain.TriggerConditions{}, fmt.Errorf("unknown condition %q", name)
}

// Evaluator checks trigger conditions for one learner.
type Evaluator struct {
	store segmentation.RecipientStore
}

// NewEvaluator creates an evaluator reading from store.
func NewEvaluator(store segmentation.RecipientStore) *Evaluator {
	return &Evaluator{store: store}
}

// Check reports whether every condition in cs holds for the user. An empty
// set always holds. Lookup errors make the check fail: an event that cannot
// be evaluated never sends.
func (e *Evaluator) Check(ctx context.Context, cs domain.TriggerConditions, userID string, metadata map[string]any) bool {
	if cs.IsEmpty() {
		return true
	}
	ok, err := e.evaluate(ctx, cs, userID)
	if err != nil {
		log.Warn("condition evaluation failed, not firing", "user_id", userID, "error", err)
		return false
	}
	return ok
}

func (e *Evaluator) evaluate(ctx context.Context, cs domain.TriggerConditions, userID string) (bool, error) {
	if cs.EmailNotVerified != nil {
		u, err := e.store.GetUser(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("%s: %w", CondEmailNotVerified, err)
		}
		if !u.EmailVerified != *cs.EmailNotVerified {
			return false, nil
		}
	}

	if cs.NoQuestsStarted != nil || cs.MinQuestCount != nil || cs.MaxQuestCount != nil {
		n, err := e.store.CountEnrollments(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("quest count: %w", err)
		}
		if cs.NoQuestsStarted != nil && (n == 0) != *cs.NoQuestsStarted {
			return false, nil
		}
		if cs.MinQuestCount != nil && n < *cs.MinQuestCount {
			return false, nil
		}
		if cs.MaxQuestCount != nil && n > *cs.MaxQuestCount {
			return false, nil
		}
	}

	if cs.TutorUnused != nil {
		used, err := e.store.HasTutorUsage(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("%s: %w", CondTutorUnused, err)
		}
		if !used != *cs.TutorUnused {
			return false, nil
		}
	}

	if cs.NoConnections != nil {
		connected, err := e.store.HasAcceptedConnection(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("%s: %w", CondNoConnections, err)
		}
		if !connected != *cs.NoConnections {
			return false, nil
		}
	}

	return true, nil
}
