package memory

import (
	"context"
	"sync"

	"contest-session-service/internal/domain"
)

// SubmissionRepository keeps submission records in memory, enforcing
// the one-record-per-(contest, taker) invariant the same way the
// Postgres implementation does.
type SubmissionRepository struct {
	mu      sync.RWMutex
	records map[string]domain.SubmissionRecord
}

func NewSubmissionRepository() *SubmissionRepository {
	return &SubmissionRepository{
		records: make(map[string]domain.SubmissionRecord),
	}
}

func (r *SubmissionRepository) Create(_ context.Context, record domain.SubmissionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(record.ContestID, record.TakerKey)
	if _, ok := r.records[k]; ok {
		return domain.ErrAlreadySubmitted
	}
	r.records[k] = record
	return nil
}

func (r *SubmissionRepository) Exists(_ context.Context, contestID, takerKey string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[key(contestID, takerKey)]
	return ok, nil
}

func (r *SubmissionRepository) ListByContest(_ context.Context, contestID string) ([]domain.SubmissionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	records := make([]domain.SubmissionRecord, 0)
	for _, record := range r.records {
		if record.ContestID == contestID {
			records = append(records, record)
		}
	}
	return records, nil
}
