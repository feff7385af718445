package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"contest-session-service/internal/app"
	"contest-session-service/internal/domain"
	"contest-session-service/internal/infra/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	attempts    *memory.AttemptStore
	submissions *memory.SubmissionRepository
	service     *app.AttemptService
	clock       *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)}
	attempts := memory.NewAttemptStore()
	submissions := memory.NewSubmissionRepository()
	contests := memory.NewContestRepository(memory.NewStaticContestLoader(map[string]domain.Contest{
		"contest-1": sampleContest(),
		"contest-empty": {
			ID:              "contest-empty",
			DurationSeconds: 300,
		},
	}), 5*time.Minute)
	service := app.NewAttemptServiceWithClock(attempts, contests, submissions, nil, app.Defaults{}, clock.Now)
	return &fixture{attempts: attempts, submissions: submissions, service: service, clock: clock}
}

func sampleContest() domain.Contest {
	return domain.Contest{
		ID:              "contest-1",
		Title:           "Sample Contest",
		DurationSeconds: 300,
		MaxWarnings:     2,
		GraceSeconds:    30,
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "Pick A",
				Options: []domain.Option{
					{ID: "a", Text: "A", Correct: true},
					{ID: "b", Text: "B", Correct: false},
				},
				Points: 1,
			},
			{
				ID:     "q2",
				Prompt: "Pick B",
				Options: []domain.Option{
					{ID: "a", Text: "A", Correct: false},
					{ID: "b", Text: "B", Correct: true},
				},
				Points: 1,
			},
			{
				ID:     "q3",
				Prompt: "Pick C",
				Options: []domain.Option{
					{ID: "a", Text: "A", Correct: false},
					{ID: "c", Text: "C", Correct: true},
				},
				Points: 2,
			},
		},
	}
}

func authTaker(userID string) domain.TakerIdentity {
	return domain.TakerIdentity{UserID: userID}
}

func TestStartAttemptPersistsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	session, state, err := f.service.StartAttempt(ctx, "contest-1", authTaker("u1"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if state != app.StateStarted {
		t.Fatalf("expected fresh start, got %v", state)
	}

	stored, ok, err := f.attempts.Get(ctx, "contest-1", "u1")
	if err != nil || !ok {
		t.Fatalf("expected stored attempt, ok=%v err=%v", ok, err)
	}
	if !stored.StartTime.Equal(f.clock.Now()) {
		t.Fatalf("expected start time %v, got %v", f.clock.Now(), stored.StartTime)
	}
	if stored.DurationSeconds != 300 {
		t.Fatalf("expected duration 300, got %d", stored.DurationSeconds)
	}
	if got := session.Remaining(); got != 300*time.Second {
		t.Fatalf("expected full window remaining, got %v", got)
	}
}

func TestStartAttemptRejectsEmptyContest(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.service.StartAttempt(context.Background(), "contest-empty", authTaker("u1"))
	if !errors.Is(err, domain.ErrNoQuestions) {
		t.Fatalf("expected ErrNoQuestions, got %v", err)
	}
}

func TestStartAttemptBlockedAfterSubmission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	session, _, err := f.service.StartAttempt(ctx, "contest-1", authTaker("u1"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := session.Finalize(ctx, app.TriggerManual); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	_, _, err = f.service.StartAttempt(ctx, "contest-1", authTaker("u1"))
	if !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
}

func TestScoringSumsExactMatches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	session, _, err := f.service.StartAttempt(ctx, "contest-1", authTaker("u1"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// correct, incorrect, correct over points {1,1,2} => 3
	if err := session.SelectAnswer(ctx, "q1", "a"); err != nil {
		t.Fatalf("answer q1: %v", err)
	}
	if err := session.SelectAnswer(ctx, "q2", "a"); err != nil {
		t.Fatalf("answer q2: %v", err)
	}
	if err := session.SelectAnswer(ctx, "q3", "c"); err != nil {
		t.Fatalf("answer q3: %v", err)
	}

	record, err := session.Finalize(ctx, app.TriggerManual)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if record.Score != 3 {
		t.Fatalf("expected score 3, got %d", record.Score)
	}
	if record.TotalQuestions != 3 {
		t.Fatalf("expected 3 questions, got %d", record.TotalQuestions)
	}
	if record.Status != domain.StatusSubmitted {
		t.Fatalf("expected submitted status, got %s", record.Status)
	}
}

func TestUnansweredQuestionsScoreZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	session, _, err := f.service.StartAttempt(ctx, "contest-1", authTaker("u1"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	record, err := session.Finalize(ctx, app.TriggerTimer)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if record.Score != 0 {
		t.Fatalf("expected score 0, got %d", record.Score)
	}
	if record.Status != domain.StatusAutoSubmitted {
		t.Fatalf("expected auto-submitted status, got %s", record.Status)
	}
}

func TestFinalizeIdempotentUnderConcurrentTriggers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	session, _, err := f.service.StartAttempt(ctx, "contest-1", authTaker("u1"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	triggers := []app.FinalizeTrigger{
		app.TriggerManual, app.TriggerTimer, app.TriggerViolation,
		app.TriggerManual, app.TriggerTimer, app.TriggerViolation,
	}
	var wg sync.WaitGroup
	successes := make(chan domain.SubmissionRecord, len(triggers))
	for _, trigger := range triggers {
		wg.Add(1)
		go func(trigger app.FinalizeTrigger) {
			defer wg.Done()
			if record, err := session.Finalize(ctx, trigger); err == nil {
				successes <- record
			}
		}(trigger)
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one successful finalize, got %d", count)
	}

	records, err := f.submissions.ListByContest(ctx, "contest-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(records))
	}
}

func TestFinalizeSequentialDuplicatesReturnFirstRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	session, _, err := f.service.StartAttempt(ctx, "contest-1", authTaker("u1"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	first, err := session.Finalize(ctx, app.TriggerManual)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	second, err := session.Finalize(ctx, app.TriggerTimer)
	if !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the winning record back, got %s vs %s", second.ID, first.ID)
	}

	// The stored attempt is gone, so a reload cannot resume it.
	if _, ok, _ := f.attempts.Get(ctx, "contest-1", "u1"); ok {
		t.Fatalf("expected attempt cleared after finalize")
	}
}

// failingSubmissions fails the first N creates to exercise retry.
type failingSubmissions struct {
	app.SubmissionRepository
	mu       sync.Mutex
	failures int
}

func (r *failingSubmissions) Create(ctx context.Context, record domain.SubmissionRecord) error {
	r.mu.Lock()
	if r.failures > 0 {
		r.failures--
		r.mu.Unlock()
		return fmt.Errorf("transient storage failure")
	}
	r.mu.Unlock()
	return r.SubmissionRepository.Create(ctx, record)
}

func TestFinalizeFailureAllowsRetry(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)}
	attempts := memory.NewAttemptStore()
	flaky := &failingSubmissions{SubmissionRepository: memory.NewSubmissionRepository(), failures: 1}
	contests := memory.NewContestRepository(memory.NewStaticContestLoader(map[string]domain.Contest{
		"contest-1": sampleContest(),
	}), 5*time.Minute)
	service := app.NewAttemptServiceWithClock(attempts, contests, flaky, nil, app.Defaults{}, clock.Now)

	session, _, err := service.StartAttempt(ctx, "contest-1", authTaker("u1"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := session.Finalize(ctx, app.TriggerManual); err == nil {
		t.Fatalf("expected first finalize to fail")
	}

	// Failure must not wedge the session: the attempt stays stored and
	// a retry through the same guarded entry point succeeds.
	if _, ok, _ := attempts.Get(ctx, "contest-1", "u1"); !ok {
		t.Fatalf("expected attempt preserved after failed finalize")
	}
	record, err := session.Finalize(ctx, app.TriggerManual)
	if err != nil {
		t.Fatalf("retry finalize: %v", err)
	}
	if record.Status != domain.StatusSubmitted {
		t.Fatalf("expected submitted, got %s", record.Status)
	}
}

func TestResumeReconstructsRemaining(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, _, err := f.service.StartAttempt(ctx, "contest-1", authTaker("u1"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := first.SelectAnswer(ctx, "q1", "a"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	// Simulate a reload 100s in: the restored session computes the same
	// remaining from the persisted absolute start.
	f.clock.Advance(100 * time.Second)
	resumed, state, err := f.service.StartAttempt(ctx, "contest-1", authTaker("u1"))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if state != app.StateResumed {
		t.Fatalf("expected resume, got %v", state)
	}
	if got := resumed.Remaining(); got != 200*time.Second {
		t.Fatalf("expected 200s remaining, got %v", got)
	}

	attempt := resumed.Attempt()
	if attempt.Answers["q1"] != "a" {
		t.Fatalf("expected answers restored, got %+v", attempt.Answers)
	}
}

func TestExpiredSessionNotResumed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, _, err := f.service.StartAttempt(ctx, "contest-1", authTaker("u1")); err != nil {
		t.Fatalf("start: %v", err)
	}

	f.clock.Advance(301 * time.Second)
	session, state, err := f.service.StartAttempt(ctx, "contest-1", authTaker("u1"))
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if state != app.StateExpired {
		t.Fatalf("expected expired state, got %v", state)
	}
	if got := session.Remaining(); got != 0 {
		t.Fatalf("expected zero remaining, got %v", got)
	}
}

func TestViolationLimitTriggersFinalizeOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	session, _, err := f.service.StartAttempt(ctx, "contest-1", authTaker("u1"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	forceCount := 0
	for i := 0; i < 5; i++ {
		outcome, err := session.ReportSignal(ctx, domain.SignalFullscreenExit)
		if errors.Is(err, domain.ErrAlreadySubmitted) {
			// Signals after the forced submission are rejected.
			continue
		}
		if err != nil {
			t.Fatalf("signal %d: %v", i, err)
		}
		if outcome.ForceSubmit {
			forceCount++
			if _, err := session.Finalize(ctx, app.TriggerViolation); err != nil {
				t.Fatalf("violation finalize: %v", err)
			}
		}
	}
	if forceCount != 1 {
		t.Fatalf("expected exactly one force submit, got %d", forceCount)
	}

	records, _ := f.submissions.ListByContest(ctx, "contest-1")
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	if records[0].CheatingFlags.FullscreenExitCount < 3 {
		t.Fatalf("expected fullscreen exits recorded, got %+v", records[0].CheatingFlags)
	}
}

func TestLeaderboardOrdersByScoreThenTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	takers := []struct {
		id      string
		answers map[string]string
	}{
		{"u1", map[string]string{"q1": "a"}},                          // 1 point
		{"u2", map[string]string{"q1": "a", "q2": "b", "q3": "c"}},    // 4 points
		{"u3", map[string]string{"q3": "c", "q2": "b"}},               // 3 points
	}
	for _, taker := range takers {
		session, _, err := f.service.StartAttempt(ctx, "contest-1", authTaker(taker.id))
		if err != nil {
			t.Fatalf("start %s: %v", taker.id, err)
		}
		for q, o := range taker.answers {
			if err := session.SelectAnswer(ctx, q, o); err != nil {
				t.Fatalf("answer %s/%s: %v", taker.id, q, err)
			}
		}
		if _, err := session.Finalize(ctx, app.TriggerManual); err != nil {
			t.Fatalf("finalize %s: %v", taker.id, err)
		}
		f.clock.Advance(time.Second)
	}

	leaderboard, err := f.service.Leaderboard(ctx, "contest-1")
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(leaderboard.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(leaderboard.Entries))
	}
	if leaderboard.Entries[0].DisplayName != "u2" || leaderboard.Entries[0].Score != 4 {
		t.Fatalf("expected u2 leading with 4, got %+v", leaderboard.Entries[0])
	}
	if leaderboard.Entries[1].DisplayName != "u3" || leaderboard.Entries[2].DisplayName != "u1" {
		t.Fatalf("unexpected order: %+v", leaderboard.Entries)
	}
}
