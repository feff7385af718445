package app

import (
	"context"
	"sort"
	"time"

	"contest-session-service/internal/domain"

	"github.com/google/uuid"
)

// AttemptStore abstracts durable storage of in-progress attempts
// (in-memory, Redis, etc). Keys are (contestID, takerKey).
type AttemptStore interface {
	Save(ctx context.Context, attempt *domain.Attempt) error
	Get(ctx context.Context, contestID, takerKey string) (*domain.Attempt, bool, error)
	Delete(ctx context.Context, contestID, takerKey string) error
}

// ContestRepository loads contest content (from cache/backing store).
type ContestRepository interface {
	GetContest(ctx context.Context, contestID string) (domain.Contest, error)
}

// SubmissionRepository owns the append-only submission records.
// Create must refuse a second record for the same (contest, taker) with
// domain.ErrAlreadySubmitted.
type SubmissionRepository interface {
	Create(ctx context.Context, record domain.SubmissionRecord) error
	Exists(ctx context.Context, contestID, takerKey string) (bool, error)
	ListByContest(ctx context.Context, contestID string) ([]domain.SubmissionRecord, error)
}

// Defaults fill contest fields left at zero in the stored content.
type Defaults struct {
	DurationSeconds int
	MaxWarnings     int
	GraceSeconds    int
}

// StartState tells the caller how StartAttempt resolved.
type StartState int

const (
	// StateStarted means a fresh attempt was created.
	StateStarted StartState = iota
	// StateResumed means a stored attempt with time left was restored.
	StateResumed
	// StateExpired means a stored attempt was found with its window
	// already elapsed; the caller should finalize instead of resuming.
	StateExpired
)

// AttemptService wires the contest session engine's use cases together.
type AttemptService struct {
	attempts    AttemptStore
	contests    ContestRepository
	submissions SubmissionRepository
	backstop    *Backstop
	defaults    Defaults
	clock       func() time.Time
}

func NewAttemptService(attempts AttemptStore, contests ContestRepository, submissions SubmissionRepository, backstop *Backstop, defaults Defaults) *AttemptService {
	return NewAttemptServiceWithClock(attempts, contests, submissions, backstop, defaults, time.Now)
}

// NewAttemptServiceWithClock is test-only for deterministic timestamps.
func NewAttemptServiceWithClock(attempts AttemptStore, contests ContestRepository, submissions SubmissionRepository, backstop *Backstop, defaults Defaults, clock func() time.Time) *AttemptService {
	if defaults.DurationSeconds <= 0 {
		defaults.DurationSeconds = 600
	}
	if defaults.MaxWarnings <= 0 {
		defaults.MaxWarnings = 2
	}
	if defaults.GraceSeconds <= 0 {
		defaults.GraceSeconds = 30
	}
	return &AttemptService{
		attempts:    attempts,
		contests:    contests,
		submissions: submissions,
		backstop:    backstop,
		defaults:    defaults,
		clock:       clock,
	}
}

// NewGuestIdentity mints a guest taker with a fresh id.
func NewGuestIdentity(name, email, phone string) domain.TakerIdentity {
	return domain.TakerIdentity{
		GuestID:    uuid.NewString(),
		GuestName:  name,
		GuestEmail: email,
		GuestPhone: phone,
	}
}

// StartAttempt creates or resumes the taker's session for a contest.
// A taker who already has a submission record is blocked with
// ErrAlreadySubmitted; a contest with no questions never enters the
// timed flow. A fresh start schedules the remote backstop.
func (s *AttemptService) StartAttempt(ctx context.Context, contestID string, taker domain.TakerIdentity) (*AttemptSession, StartState, error) {
	if taker.Key() == "" {
		taker.GuestID = uuid.NewString()
	}

	exists, err := s.submissions.Exists(ctx, contestID, taker.Key())
	if err != nil {
		return nil, StateStarted, err
	}
	if exists {
		return nil, StateStarted, domain.ErrAlreadySubmitted
	}

	contest, err := s.contests.GetContest(ctx, contestID)
	if err != nil {
		return nil, StateStarted, err
	}
	if len(contest.Questions) == 0 {
		return nil, StateStarted, domain.ErrNoQuestions
	}
	s.applyDefaults(&contest)

	stored, ok, err := s.attempts.Get(ctx, contestID, taker.Key())
	if err != nil {
		return nil, StateStarted, err
	}
	if ok {
		session := newAttemptSession(s, contest, stored)
		if stored.Expired(s.clock()) {
			return session, StateExpired, nil
		}
		return session, StateResumed, nil
	}

	attempt := &domain.Attempt{
		ContestID:       contestID,
		Taker:           taker,
		StartTime:       s.clock(),
		DurationSeconds: contest.DurationSeconds,
		Answers:         make(map[string]string),
		Questions:       contest.Questions,
	}
	if err := s.attempts.Save(ctx, attempt); err != nil {
		return nil, StateStarted, err
	}

	if s.backstop != nil {
		wait := time.Duration(contest.DurationSeconds+contest.GraceSeconds) * time.Second
		s.backstop.Schedule(contestID, taker.Key(), wait)
	}
	return newAttemptSession(s, contest, attempt), StateStarted, nil
}

// Leaderboard returns final standings for a contest: score descending,
// earlier submission wins ties, then name.
func (s *AttemptService) Leaderboard(ctx context.Context, contestID string) (domain.Leaderboard, error) {
	records, err := s.submissions.ListByContest(ctx, contestID)
	if err != nil {
		return domain.Leaderboard{}, err
	}

	entries := make([]domain.LeaderboardEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, domain.LeaderboardEntry{
			DisplayName: record.DisplayName(),
			Score:       record.Score,
			SubmittedAt: record.SubmittedAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if !entries[i].SubmittedAt.Equal(entries[j].SubmittedAt) {
			return entries[i].SubmittedAt.Before(entries[j].SubmittedAt)
		}
		return entries[i].DisplayName < entries[j].DisplayName
	})

	return domain.Leaderboard{
		ContestID: contestID,
		Entries:   entries,
		UpdatedAt: s.clock(),
	}, nil
}

func (s *AttemptService) applyDefaults(contest *domain.Contest) {
	if contest.DurationSeconds <= 0 {
		contest.DurationSeconds = s.defaults.DurationSeconds
	}
	if contest.MaxWarnings <= 0 {
		contest.MaxWarnings = s.defaults.MaxWarnings
	}
	if contest.GraceSeconds <= 0 {
		contest.GraceSeconds = s.defaults.GraceSeconds
	}
}
