package app

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"contest-session-service/internal/domain"

	"github.com/google/uuid"
)

// FinalizeTrigger names the path that reached the finalizer. Scoring is
// identical for every trigger; the resulting status only records the
// path for audit.
type FinalizeTrigger string

const (
	TriggerManual    FinalizeTrigger = "manual"
	TriggerTimer     FinalizeTrigger = "timer"
	TriggerViolation FinalizeTrigger = "violation"
	TriggerBackstop  FinalizeTrigger = "backstop"
)

func (t FinalizeTrigger) status() domain.SubmissionStatus {
	if t == TriggerManual {
		return domain.StatusSubmitted
	}
	return domain.StatusAutoSubmitted
}

// AttemptSession is the live, in-process state machine for one attempt:
// answer tracking, countdown, integrity policy, and the guarded
// finalizer. All triggers (timer end, violation limit, manual submit)
// funnel through Finalize, whose idempotency guard is the single
// serialization point.
type AttemptSession struct {
	service *AttemptService

	mu         sync.Mutex
	attempt    *domain.Attempt
	contest    domain.Contest
	monitor    *IntegrityMonitor
	countdown  *Countdown
	submitting bool
	submitted  bool
	record     domain.SubmissionRecord
}

func newAttemptSession(service *AttemptService, contest domain.Contest, attempt *domain.Attempt) *AttemptSession {
	monitor := NewIntegrityMonitor(contest.MaxWarnings)
	monitor.Restore(attempt.Flags)
	return &AttemptSession{
		service:   service,
		attempt:   attempt,
		contest:   contest,
		monitor:   monitor,
		countdown: NewCountdownWithClock(service.clock, time.Second),
	}
}

// Attempt returns a snapshot of the current attempt state.
func (s *AttemptSession) Attempt() *domain.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt.Clone()
}

// Contest returns the contest this session runs against.
func (s *AttemptSession) Contest() domain.Contest {
	return s.contest
}

// Remaining reports time left, recomputed from the immutable start.
func (s *AttemptSession) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt.Remaining(s.service.clock())
}

// Countdown exposes the session's timing loop for the transport to run
// and consume.
func (s *AttemptSession) Countdown() *Countdown {
	return s.countdown
}

// StartCountdown arms the countdown against the attempt's persisted
// start time, so a resumed session picks up mid-flight rather than
// restarting the window.
func (s *AttemptSession) StartCountdown() {
	s.mu.Lock()
	start := s.attempt.StartTime
	duration := time.Duration(s.attempt.DurationSeconds) * time.Second
	s.mu.Unlock()
	s.countdown.Start(start, duration)
}

// SelectAnswer records (or changes) the taker's option for a question
// and persists the attempt.
func (s *AttemptSession) SelectAnswer(ctx context.Context, questionID, optionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitted {
		return domain.ErrAlreadySubmitted
	}

	question, ok := findQuestion(s.attempt.Questions, questionID)
	if !ok {
		return domain.ErrQuestionNotFound
	}
	if _, ok := findOption(question.Options, optionID); !ok {
		return domain.ErrOptionNotFound
	}

	s.attempt.Answers[questionID] = optionID
	return s.service.attempts.Save(ctx, s.attempt)
}

// Navigate moves the current-question pointer.
func (s *AttemptSession) Navigate(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitted {
		return domain.ErrAlreadySubmitted
	}
	if index < 0 || index >= len(s.attempt.Questions) {
		return domain.ErrQuestionNotFound
	}
	s.attempt.CurrentIndex = index
	return s.service.attempts.Save(ctx, s.attempt)
}

// ReportSignal feeds one anti-cheat signal through the integrity
// monitor and persists the updated flags. When the outcome carries
// ForceSubmit the caller invokes Finalize; the monitor latches so the
// trigger fires at most once.
func (s *AttemptSession) ReportSignal(ctx context.Context, sig domain.IntegritySignal) (IntegrityOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitted {
		return IntegrityOutcome{}, domain.ErrAlreadySubmitted
	}
	outcome := s.monitor.Record(sig, &s.attempt.Flags)
	if err := s.service.attempts.Save(ctx, s.attempt); err != nil {
		// Counters stay bumped in memory; persistence of audit metadata
		// is best-effort and must not eat the outcome.
		log.Printf("persist flags for %s/%s: %v", s.attempt.ContestID, s.attempt.Taker.Key(), err)
	}
	return outcome, nil
}

// Finalize computes the score, writes the one immutable submission
// record, clears the stored attempt, and stops the countdown. It is the
// single guarded entry point: the first caller wins, concurrent callers
// get ErrSubmissionInFlight, later callers get ErrAlreadySubmitted with
// the winning record. A failed write clears the in-flight flag so the
// taker can retry; the attempt stays resumable.
func (s *AttemptSession) Finalize(ctx context.Context, trigger FinalizeTrigger) (domain.SubmissionRecord, error) {
	s.mu.Lock()
	if s.submitted {
		record := s.record
		s.mu.Unlock()
		return record, domain.ErrAlreadySubmitted
	}
	if s.submitting {
		s.mu.Unlock()
		return domain.SubmissionRecord{}, domain.ErrSubmissionInFlight
	}
	s.submitting = true
	snapshot := s.attempt.Clone()
	s.mu.Unlock()

	record := BuildSubmissionRecord(snapshot, trigger.status(), s.service.clock())
	err := s.service.submissions.Create(ctx, record)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitting = false

	if err != nil {
		if errors.Is(err, domain.ErrAlreadySubmitted) {
			// The backstop (or another path) beat us to it; treat the
			// existing record as the final truth.
			s.submitted = true
			s.record = record
			s.clearStored(ctx)
			return record, domain.ErrAlreadySubmitted
		}
		return domain.SubmissionRecord{}, err
	}

	s.submitted = true
	s.record = record
	s.clearStored(ctx)
	s.countdown.Stop()
	return record, nil
}

// clearStored removes the persisted attempt so a reload cannot resume a
// finished session. Best-effort: the submission record is already durable.
func (s *AttemptSession) clearStored(ctx context.Context) {
	if err := s.service.attempts.Delete(ctx, s.attempt.ContestID, s.attempt.Taker.Key()); err != nil {
		log.Printf("clear attempt %s/%s: %v", s.attempt.ContestID, s.attempt.Taker.Key(), err)
	}
}

// Submitted reports whether the session reached its terminal state.
func (s *AttemptSession) Submitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted
}

// ScoreAttempt sums the point values of exactly-matched answers.
// Unanswered questions contribute zero; there is no partial credit.
func ScoreAttempt(attempt *domain.Attempt) int {
	score := 0
	for _, q := range attempt.Questions {
		if attempt.Answers[q.ID] == q.CorrectOption() {
			score += q.PointValue()
		}
	}
	return score
}

// BuildSubmissionRecord assembles the immutable result for an attempt
// snapshot. Shared with the backstop so both paths produce identical
// records apart from status.
func BuildSubmissionRecord(attempt *domain.Attempt, status domain.SubmissionStatus, now time.Time) domain.SubmissionRecord {
	return domain.SubmissionRecord{
		ID:             uuid.NewString(),
		ContestID:      attempt.ContestID,
		TakerKey:       attempt.Taker.Key(),
		UserID:         attempt.Taker.UserID,
		GuestName:      attempt.Taker.GuestName,
		GuestEmail:     attempt.Taker.GuestEmail,
		GuestPhone:     attempt.Taker.GuestPhone,
		Score:          ScoreAttempt(attempt),
		TotalQuestions: len(attempt.Questions),
		Answers:        attempt.Answers,
		CheatingFlags:  attempt.Flags,
		SubmittedAt:    now,
		Status:         status,
	}
}

func findQuestion(questions []domain.Question, id string) (domain.Question, bool) {
	for _, q := range questions {
		if q.ID == id {
			return q, true
		}
	}
	return domain.Question{}, false
}

func findOption(options []domain.Option, id string) (domain.Option, bool) {
	for _, opt := range options {
		if opt.ID == id {
			return opt, true
		}
	}
	return domain.Option{}, false
}
