package app

import (
	"context"
	"errors"
	"log"
	"time"

	"contest-session-service/internal/domain"
)

// BackstopResult classifies what the backstop did for one attempt.
type BackstopResult string

const (
	// BackstopAlreadySubmitted: a terminal record existed, nothing written.
	BackstopAlreadySubmitted BackstopResult = "already-submitted"
	// BackstopAutoSubmitted: no record existed, one was written from the
	// persisted attempt snapshot.
	BackstopAutoSubmitted BackstopResult = "auto-submitted"
	// BackstopNoAttempt: neither a record nor a stored attempt exists.
	BackstopNoAttempt BackstopResult = "no-attempt"
)

// Backstop is the server-side safety net: scheduled once per attempt
// start, it wakes after duration+grace and finalizes the attempt if the
// client never did. It only ever communicates with the client through
// the shared submission record, and it refuses to write when any record
// already exists, so it can never pre-empt or overwrite a client-side
// finalize.
type Backstop struct {
	attempts    AttemptStore
	submissions SubmissionRepository
	clock       func() time.Time
	after       func(time.Duration) <-chan time.Time
}

func NewBackstop(attempts AttemptStore, submissions SubmissionRepository) *Backstop {
	return &Backstop{
		attempts:    attempts,
		submissions: submissions,
		clock:       time.Now,
		after:       time.After,
	}
}

// NewBackstopWithTimers is test-only: injectable clock and sleep source.
func NewBackstopWithTimers(attempts AttemptStore, submissions SubmissionRepository, clock func() time.Time, after func(time.Duration) <-chan time.Time) *Backstop {
	return &Backstop{
		attempts:    attempts,
		submissions: submissions,
		clock:       clock,
		after:       after,
	}
}

// Schedule arms the backstop for one attempt. There is no cancellation:
// the job always eventually runs and self-no-ops if redundant.
func (b *Backstop) Schedule(contestID, takerKey string, wait time.Duration) {
	go func() {
		<-b.after(wait)
		result, _, err := b.RunOnce(context.Background(), contestID, takerKey)
		if err != nil {
			log.Printf("backstop %s/%s: %v", contestID, takerKey, err)
			return
		}
		log.Printf("backstop %s/%s: %s", contestID, takerKey, result)
	}()
}

// RunOnce performs the existence-check-then-write sequence. A record
// with an end-time is sufficient proof of prior finalization; the
// narrow read-then-write race with a client finalize is tolerated
// because Create itself refuses duplicates.
func (b *Backstop) RunOnce(ctx context.Context, contestID, takerKey string) (BackstopResult, domain.SubmissionRecord, error) {
	exists, err := b.submissions.Exists(ctx, contestID, takerKey)
	if err != nil {
		return "", domain.SubmissionRecord{}, err
	}
	if exists {
		return BackstopAlreadySubmitted, domain.SubmissionRecord{}, nil
	}

	attempt, ok, err := b.attempts.Get(ctx, contestID, takerKey)
	if err != nil {
		return "", domain.SubmissionRecord{}, err
	}
	if !ok {
		return BackstopNoAttempt, domain.SubmissionRecord{}, nil
	}

	record := BuildSubmissionRecord(attempt, domain.StatusAutoSubmitted, b.clock())
	if err := b.submissions.Create(ctx, record); err != nil {
		if errors.Is(err, domain.ErrAlreadySubmitted) {
			// Lost the race to the client; its record stands.
			return BackstopAlreadySubmitted, domain.SubmissionRecord{}, nil
		}
		return "", domain.SubmissionRecord{}, err
	}

	if err := b.attempts.Delete(ctx, contestID, takerKey); err != nil {
		log.Printf("backstop clear attempt %s/%s: %v", contestID, takerKey, err)
	}
	return BackstopAutoSubmitted, record, nil
}
