package memory

import (
	"context"
	"sync"

	"contest-session-service/internal/domain"
)

// AttemptStore is an in-memory implementation of app.AttemptStore,
// used when no Redis is configured and in tests.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]*domain.Attempt
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		attempts: make(map[string]*domain.Attempt),
	}
}

func (s *AttemptStore) Save(_ context.Context, attempt *domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[key(attempt.ContestID, attempt.Taker.Key())] = attempt.Clone()
	return nil
}

func (s *AttemptStore) Get(_ context.Context, contestID, takerKey string) (*domain.Attempt, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[key(contestID, takerKey)]
	if !ok {
		return nil, false, nil
	}
	return attempt.Clone(), true, nil
}

func (s *AttemptStore) Delete(_ context.Context, contestID, takerKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, key(contestID, takerKey))
	return nil
}

func key(contestID, takerKey string) string {
	return contestID + "|" + takerKey
}
