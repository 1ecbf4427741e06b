package memory

import (
	"context"
	"sync"

	"github.com/ignite/learner-crm/internal/domain"
)

// SendLog implements sending.SendLog.
type SendLog struct {
	faults

	mu      sync.Mutex
	records []domain.SendRecord
}

func NewSendLog() *SendLog { return &SendLog{} }

func (l *SendLog) Record(ctx context.Context, rec *domain.SendRecord) error {
	if err := l.fault("Record"); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, *rec)
	return nil
}

// ListByCampaign returns the newest records first.
func (l *SendLog) ListByCampaign(ctx context.Context, campaignID string, limit int) ([]domain.SendRecord, error) {
	if err := l.fault("ListByCampaign"); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.SendRecord
	for i := len(l.records) - 1; i >= 0; i-- {
		if l.records[i].CampaignID == campaignID {
			out = append(out, l.records[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// All returns every record in insertion order.
func (l *SendLog) All() []domain.SendRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.SendRecord(nil), l.records...)
}
