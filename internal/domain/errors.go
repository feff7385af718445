package domain

import "errors"

var (
	// ErrContestNotFound indicates the contest content could not be loaded.
	ErrContestNotFound = errors.New("contest not found")
	// ErrAttemptNotFound is returned when no in-progress attempt exists for the taker.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a submitted option ID is invalid.
	ErrOptionNotFound = errors.New("option not found")
	// ErrNoQuestions blocks entry into the timed flow when a contest has no questions.
	ErrNoQuestions = errors.New("contest has no questions")
	// ErrAlreadySubmitted is returned when a submission record already exists for the taker.
	ErrAlreadySubmitted = errors.New("already submitted")
	// ErrSubmissionInFlight is returned when a finalize call races one still outstanding.
	ErrSubmissionInFlight = errors.New("submission in flight")
)
