package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"contest-session-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// AttemptStore persists in-progress attempts as JSON documents in
// Redis, keyed session_{contestID}:{takerKey}, with a TTL comfortably
// past the longest contest window. The attempt is written on every
// mutation and deleted only after successful finalization, so a
// reconnecting client restores exactly what it left.
type AttemptStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAttemptStore(client *redis.Client, ttl time.Duration) *AttemptStore {
	return &AttemptStore{client: client, ttl: ttl}
}

func (s *AttemptStore) Save(ctx context.Context, attempt *domain.Attempt) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	if err := s.client.Set(ctx, s.key(attempt.ContestID, attempt.Taker.Key()), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) Get(ctx context.Context, contestID, takerKey string) (*domain.Attempt, bool, error) {
	data, err := s.client.Get(ctx, s.key(contestID, takerKey)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load attempt: %w", err)
	}
	var attempt domain.Attempt
	if err := json.Unmarshal(data, &attempt); err != nil {
		return nil, false, fmt.Errorf("unmarshal attempt: %w", err)
	}
	if attempt.Answers == nil {
		attempt.Answers = make(map[string]string)
	}
	return &attempt, true, nil
}

func (s *AttemptStore) Delete(ctx context.Context, contestID, takerKey string) error {
	if err := s.client.Del(ctx, s.key(contestID, takerKey)).Err(); err != nil {
		return fmt.Errorf("delete attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) key(contestID, takerKey string) string {
	return "session_" + contestID + ":" + takerKey
}
