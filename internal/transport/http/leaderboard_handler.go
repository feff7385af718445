package http

import (
	"log"
	"net/http"

	"contest-session-service/internal/app"
)

// LeaderboardHandler serves final standings built from submission records.
type LeaderboardHandler struct {
	service *app.AttemptService
}

func NewLeaderboardHandler(service *app.AttemptService) *LeaderboardHandler {
	return &LeaderboardHandler{service: service}
}

func (h *LeaderboardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	contestID := r.URL.Query().Get("contestId")
	if contestID == "" {
		http.Error(w, "missing contestId", http.StatusBadRequest)
		return
	}

	leaderboard, err := h.service.Leaderboard(r.Context(), contestID)
	if err != nil {
		log.Printf("leaderboard %s: %v", contestID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, leaderboard)
}
