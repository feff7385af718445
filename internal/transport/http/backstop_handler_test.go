package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"contest-session-service/internal/app"
	"contest-session-service/internal/domain"
	"contest-session-service/internal/infra/memory"
)

type backstopFixture struct {
	attempts    *memory.AttemptStore
	submissions *memory.SubmissionRepository
	handler     *BackstopHandler
}

func newBackstopFixture() *backstopFixture {
	attempts := memory.NewAttemptStore()
	submissions := memory.NewSubmissionRepository()
	backstop := app.NewBackstop(attempts, submissions)
	return &backstopFixture{
		attempts:    attempts,
		submissions: submissions,
		handler:     NewBackstopHandler(backstop, attempts, 30),
	}
}

func postBackstop(t *testing.T, f *backstopFixture, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/auto-submit", strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestBackstopHandlerCORSPreflight(t *testing.T) {
	f := newBackstopFixture()
	req := httptest.NewRequest(http.MethodOptions, "/api/auto-submit", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected permissive CORS header, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestBackstopHandlerRejectsMissingFields(t *testing.T) {
	f := newBackstopFixture()

	if rec := postBackstop(t, f, `{"contest_id":"contest-1"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing user_id, got %d", rec.Code)
	}
	if rec := postBackstop(t, f, `{"user_id":"u1"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing contest_id, got %d", rec.Code)
	}
	if rec := postBackstop(t, f, `not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid body, got %d", rec.Code)
	}
}

func TestBackstopHandlerUnknownAttempt(t *testing.T) {
	f := newBackstopFixture()
	rec := postBackstop(t, f, `{"user_id":"ghost","contest_id":"contest-1","contest_duration":300}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestBackstopHandlerSchedulesLiveAttempt(t *testing.T) {
	f := newBackstopFixture()
	saveAttempt(t, f, time.Now()) // window still open

	rec := postBackstop(t, f, `{"user_id":"u1","contest_id":"contest-1","contest_duration":300}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "scheduled" {
		t.Fatalf("expected scheduled, got %v", resp["status"])
	}
}

func TestBackstopHandlerFinalizesOverdueAttempt(t *testing.T) {
	f := newBackstopFixture()
	saveAttempt(t, f, time.Now().Add(-10*time.Minute)) // 300s window long gone

	rec := postBackstop(t, f, `{"user_id":"u1","contest_id":"contest-1","contest_duration":300}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != string(app.BackstopAutoSubmitted) {
		t.Fatalf("expected auto-submitted, got %v", resp["status"])
	}
	if resp["score"] != float64(1) {
		t.Fatalf("expected score 1 from snapshot, got %v", resp["score"])
	}

	// Invoked again it must be a no-op, not a second record.
	rec = postBackstop(t, f, `{"user_id":"u1","contest_id":"contest-1","contest_duration":300}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeat, got %d", rec.Code)
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != string(app.BackstopAlreadySubmitted) {
		t.Fatalf("expected already-submitted on repeat, got %v", resp["status"])
	}
}

func saveAttempt(t *testing.T, f *backstopFixture, start time.Time) {
	t.Helper()
	attempt := &domain.Attempt{
		ContestID:       "contest-1",
		Taker:           domain.TakerIdentity{UserID: "u1"},
		StartTime:       start,
		DurationSeconds: 300,
		Answers:         map[string]string{"q1": "o2"},
		Questions: []domain.Question{
			{
				ID: "q1",
				Options: []domain.Option{
					{ID: "o1", Correct: false},
					{ID: "o2", Correct: true},
				},
				Points: 1,
			},
		},
	}
	if err := f.attempts.Save(context.Background(), attempt); err != nil {
		t.Fatalf("save attempt: %v", err)
	}
}
