package domain

import "time"

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question with exactly one correct option.
// Questions are immutable for the lifetime of an attempt: the attempt
// snapshots them at start so a mid-attempt contest edit cannot drift
// the answer key.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
	Points  int      `json:"points"` // defaults to 1 if zero
}

// CorrectOption returns the ID of the correct option, or the first
// option ID when no correct flag is set.
func (q Question) CorrectOption() string {
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	if len(q.Options) > 0 {
		return q.Options[0].ID
	}
	return ""
}

// PointValue returns the question's point value with the 0-means-1 default.
func (q Question) PointValue() int {
	if q.Points == 0 {
		return 1
	}
	return q.Points
}

// Contest is a timed set of questions plus the integrity policy knobs
// that apply to every attempt of it.
type Contest struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	DurationSeconds int        `json:"durationSeconds"`
	MaxWarnings     int        `json:"maxWarnings"`
	GraceSeconds    int        `json:"graceSeconds"`
	Questions       []Question `json:"questions"`
}

// TakerIdentity identifies who is taking a contest: either an
// authenticated user or a guest profile. Exactly one of the two forms
// is populated.
type TakerIdentity struct {
	UserID     string `json:"userId,omitempty"`
	GuestID    string `json:"guestId,omitempty"`
	GuestName  string `json:"guestName,omitempty"`
	GuestEmail string `json:"guestEmail,omitempty"`
	GuestPhone string `json:"guestPhone,omitempty"`
}

// Key returns the canonical identity string used in storage keys and
// the one-submission-per-taker uniqueness check.
func (t TakerIdentity) Key() string {
	if t.UserID != "" {
		return t.UserID
	}
	return t.GuestID
}

// DisplayName returns a human-readable name for leaderboards.
func (t TakerIdentity) DisplayName() string {
	if t.GuestName != "" {
		return t.GuestName
	}
	return t.UserID
}

// CheatFlags are monotonically non-decreasing violation counters,
// recorded for audit alongside the final submission.
type CheatFlags struct {
	BlurCount           int `json:"blur_count"`
	TabSwitchCount      int `json:"tab_switches"`
	FullscreenExitCount int `json:"fullscreen_exits"`
}

// IntegritySignal names an anti-cheat event reported by the client.
type IntegritySignal string

const (
	SignalVisibilityHidden IntegritySignal = "visibility-hidden"
	SignalBlur             IntegritySignal = "blur"
	SignalFullscreenExit   IntegritySignal = "fullscreen-exit"
)

// Attempt is one taker's in-progress contest session. StartTime and
// DurationSeconds are set once at creation and never mutated; Answers
// change only when the taker selects an option; Flags change only via
// integrity signals.
type Attempt struct {
	ContestID       string            `json:"contestId"`
	Taker           TakerIdentity     `json:"taker"`
	StartTime       time.Time         `json:"startTime"`
	DurationSeconds int               `json:"durationSeconds"`
	Answers         map[string]string `json:"answers"`
	Flags           CheatFlags        `json:"flags"`
	CurrentIndex    int               `json:"currentIndex"`
	Questions       []Question        `json:"questions"`
}

// Remaining computes time left from the absolute start rather than a
// running counter, so it self-corrects after suspension or reload.
func (a *Attempt) Remaining(now time.Time) time.Duration {
	deadline := a.StartTime.Add(time.Duration(a.DurationSeconds) * time.Second)
	remaining := deadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Expired reports whether the attempt's time window has fully elapsed.
func (a *Attempt) Expired(now time.Time) bool {
	return a.Remaining(now) == 0
}

// Clone returns a deep copy so stores and snapshots never alias the
// live answers map.
func (a *Attempt) Clone() *Attempt {
	cp := *a
	cp.Answers = make(map[string]string, len(a.Answers))
	for k, v := range a.Answers {
		cp.Answers[k] = v
	}
	cp.Questions = append([]Question(nil), a.Questions...)
	return &cp
}

// SubmissionStatus records which path produced the final record.
// Scoring is identical either way; the status exists for audit.
type SubmissionStatus string

const (
	StatusSubmitted     SubmissionStatus = "submitted"
	StatusAutoSubmitted SubmissionStatus = "auto-submitted"
)

// SubmissionRecord is the authoritative, append-only result of an
// attempt. At most one record exists per (contest, taker).
type SubmissionRecord struct {
	ID             string            `json:"id"`
	ContestID      string            `json:"contest_id"`
	TakerKey       string            `json:"taker_key"`
	UserID         string            `json:"user_id,omitempty"`
	GuestName      string            `json:"guest_name,omitempty"`
	GuestEmail     string            `json:"guest_email,omitempty"`
	GuestPhone     string            `json:"guest_phone,omitempty"`
	Score          int               `json:"score"`
	TotalQuestions int               `json:"total_questions"`
	Answers        map[string]string `json:"answers"`
	CheatingFlags  CheatFlags        `json:"cheating_flags"`
	SubmittedAt    time.Time         `json:"submitted_at"`
	Status         SubmissionStatus  `json:"status"`
}

// DisplayName returns a human-readable name for leaderboards.
func (r SubmissionRecord) DisplayName() string {
	if r.GuestName != "" {
		return r.GuestName
	}
	return r.UserID
}

// LeaderboardEntry is a snapshot-friendly view of a finished attempt.
type LeaderboardEntry struct {
	DisplayName string    `json:"displayName"`
	Score       int       `json:"score"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Leaderboard is the ordered standings for one contest.
type Leaderboard struct {
	ContestID string             `json:"contestId"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}
