package http

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"contest-session-service/internal/app"
)

// BackstopHandler exposes the remote backstop as an HTTP endpoint so an
// external scheduler (or the contest frontend at attempt start) can arm
// it. Invoked before the attempt window closes it schedules the delayed
// check; invoked after, it runs the existence-check-then-write sequence
// immediately.
type BackstopHandler struct {
	backstop     *app.Backstop
	attempts     app.AttemptStore
	graceSeconds int
	clock        func() time.Time
}

func NewBackstopHandler(backstop *app.Backstop, attempts app.AttemptStore, graceSeconds int) *BackstopHandler {
	return &BackstopHandler{
		backstop:     backstop,
		attempts:     attempts,
		graceSeconds: graceSeconds,
		clock:        time.Now,
	}
}

type backstopRequest struct {
	UserID          string `json:"user_id"`
	ContestID       string `json:"contest_id"`
	ContestDuration int    `json:"contest_duration"`
}

type backstopResponse struct {
	Status string `json:"status"`
	Score  int    `json:"score,omitempty"`
}

func (h *BackstopHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req backstopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.ContestID == "" {
		http.Error(w, "missing user_id or contest_id", http.StatusBadRequest)
		return
	}

	attempt, ok, err := h.attempts.Get(r.Context(), req.ContestID, req.UserID)
	if err != nil {
		log.Printf("backstop lookup %s/%s: %v", req.ContestID, req.UserID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if ok {
		duration := attempt.DurationSeconds
		if duration == 0 {
			duration = req.ContestDuration
		}
		due := attempt.StartTime.Add(time.Duration(duration+h.graceSeconds) * time.Second)
		if now := h.clock(); now.Before(due) {
			h.backstop.Schedule(req.ContestID, req.UserID, due.Sub(now))
			writeJSON(w, http.StatusOK, backstopResponse{Status: "scheduled"})
			return
		}
	}

	result, record, err := h.backstop.RunOnce(r.Context(), req.ContestID, req.UserID)
	if err != nil {
		log.Printf("backstop run %s/%s: %v", req.ContestID, req.UserID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	switch result {
	case app.BackstopNoAttempt:
		http.Error(w, "no score record found", http.StatusNotFound)
	case app.BackstopAutoSubmitted:
		writeJSON(w, http.StatusOK, backstopResponse{Status: string(result), Score: record.Score})
	default:
		writeJSON(w, http.StatusOK, backstopResponse{Status: string(result)})
	}
}

func writeCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("write response: %v", err)
	}
}
