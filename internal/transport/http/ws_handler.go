package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"contest-session-service/internal/app"
	"contest-session-service/internal/domain"
	"github.com/gorilla/websocket"
)

// WSHandler runs one live attempt per websocket connection: the timer
// protocol (start/stop in, tick/end out), answer and navigation
// updates, integrity signals, and the submit triggers all flow over the
// same socket.
type WSHandler struct {
	service  *app.AttemptService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.AttemptService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	// Timer protocol commands.
	Command  string `json:"command,omitempty"`
	Duration int    `json:"duration,omitempty"`
	// Session messages.
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
}

type navigatePayload struct {
	Index int `json:"index"`
}

type signalPayload struct {
	Signal string `json:"signal"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type warningPayload struct {
	WarningsUsed int `json:"warningsUsed"`
	WarningsLeft int `json:"warningsLeft"`
}

type optionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type questionView struct {
	ID      string       `json:"id"`
	Prompt  string       `json:"prompt"`
	Options []optionView `json:"options"`
	Points  int          `json:"points"`
}

type attemptView struct {
	ContestID    string            `json:"contestId"`
	Title        string            `json:"title"`
	TakerKey     string            `json:"takerKey"`
	Questions    []questionView    `json:"questions"`
	Answers      map[string]string `json:"answers"`
	CurrentIndex int               `json:"currentIndex"`
	Remaining    int               `json:"remaining"`
	Flags        domain.CheatFlags `json:"flags"`
	MaxWarnings  int               `json:"maxWarnings"`
}

type submittedPayload struct {
	Score          int    `json:"score"`
	TotalQuestions int    `json:"totalQuestions"`
	Status         string `json:"status"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into the
// contest session use cases.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	contestID := r.URL.Query().Get("contestId")
	if contestID == "" {
		http.Error(w, "missing contestId", http.StatusBadRequest)
		return
	}
	taker := takerFromQuery(r)
	if taker.UserID == "" && taker.GuestName == "" {
		http.Error(w, "missing userId or guestName", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	session, state, err := h.service.StartAttempt(r.Context(), contestID, taker)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: startErrorType(err), Payload: errorPayload{Message: err.Error()}})
		return
	}

	if state == app.StateExpired {
		// The stored session's window elapsed while the client was
		// away; finalize instead of resuming.
		record, err := session.Finalize(r.Context(), app.TriggerTimer)
		if err != nil && !errors.Is(err, domain.ErrAlreadySubmitted) {
			_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
			return
		}
		_ = conn.WriteJSON(outboundMessage[submittedPayload]{Type: "submitted", Payload: recordView(record)})
		return
	}

	send := make(chan any, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	pumpDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.Countdown().Run(ctx)

	// Countdown events flow out as-is; the terminal end event also
	// triggers finalization so the timer and a manual click race only
	// through the finalizer's guard.
	go func() {
		defer close(pumpDone)
		for {
			select {
			case event, ok := <-session.Countdown().Events():
				if !ok {
					return
				}
				select {
				case send <- event:
				case <-closeSignals:
					return
				}
				if event.Type == "end" {
					h.finalize(send, closeSignals, session, app.TriggerTimer)
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	startType := "started"
	if state == app.StateResumed {
		startType = "resumed"
	}
	send <- outboundMessage[attemptView]{Type: startType, Payload: viewOf(session)}
	session.StartCountdown()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}

		if inbound.Command != "" {
			h.handleCommand(send, session, inbound)
			continue
		}

		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
				continue
			}
			if err := session.SelectAnswer(r.Context(), payload.QuestionID, payload.OptionID); err != nil {
				send <- outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			}
		case "navigate":
			var payload navigatePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: "invalid navigate payload"}}
				continue
			}
			if err := session.Navigate(r.Context(), payload.Index); err != nil {
				send <- outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			}
		case "signal":
			var payload signalPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: "invalid signal payload"}}
				continue
			}
			outcome, err := session.ReportSignal(r.Context(), domain.IntegritySignal(payload.Signal))
			if err != nil {
				continue
			}
			if outcome.Warn {
				send <- outboundMessage[warningPayload]{Type: "warning", Payload: warningPayload{
					WarningsUsed: outcome.WarningsUsed,
					WarningsLeft: outcome.WarningsLeft,
				}}
			}
			if outcome.ForceSubmit {
				h.finalize(send, closeSignals, session, app.TriggerViolation)
			}
		case "submit":
			h.finalize(send, closeSignals, session, app.TriggerManual)
		default:
			send <- outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}

		if session.Submitted() {
			break
		}
	}

	close(closeSignals)
	<-pumpDone
	close(send)
	<-writerDone
}

// handleCommand implements the timer protocol's inbound side.
func (h *WSHandler) handleCommand(send chan<- any, session *app.AttemptSession, inbound inboundMessage) {
	switch inbound.Command {
	case "start":
		session.StartCountdown()
	case "stop":
		session.Countdown().Stop()
	default:
		send <- outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: "unsupported command"}}
	}
}

// finalize funnels every trigger through the session's guarded entry
// point. A duplicate is reported as submitted rather than an error; a
// transient store failure surfaces as retryable so the client can
// re-invoke the same operation.
func (h *WSHandler) finalize(send chan<- any, closeSignals <-chan struct{}, session *app.AttemptSession, trigger app.FinalizeTrigger) {
	trySend(send, closeSignals, outboundMessage[struct{}]{Type: "submitting"})

	record, err := session.Finalize(context.Background(), trigger)
	switch {
	case err == nil, errors.Is(err, domain.ErrAlreadySubmitted):
		trySend(send, closeSignals, outboundMessage[submittedPayload]{Type: "submitted", Payload: recordView(record)})
	case errors.Is(err, domain.ErrSubmissionInFlight):
		// Another trigger is mid-write; it will report the terminal state.
	default:
		trySend(send, closeSignals, outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: "submission failed, please retry"}})
	}
}

func trySend(send chan<- any, closeSignals <-chan struct{}, msg any) {
	select {
	case send <- msg:
	case <-closeSignals:
	}
}

func viewOf(session *app.AttemptSession) attemptView {
	attempt := session.Attempt()
	contest := session.Contest()

	questions := make([]questionView, 0, len(attempt.Questions))
	for _, q := range attempt.Questions {
		options := make([]optionView, 0, len(q.Options))
		for _, opt := range q.Options {
			options = append(options, optionView{ID: opt.ID, Text: opt.Text})
		}
		questions = append(questions, questionView{
			ID:      q.ID,
			Prompt:  q.Prompt,
			Options: options,
			Points:  q.PointValue(),
		})
	}

	return attemptView{
		ContestID:    attempt.ContestID,
		Title:        contest.Title,
		TakerKey:     attempt.Taker.Key(),
		Questions:    questions,
		Answers:      attempt.Answers,
		CurrentIndex: attempt.CurrentIndex,
		Remaining:    int(session.Remaining().Seconds()),
		Flags:        attempt.Flags,
		MaxWarnings:  contest.MaxWarnings,
	}
}

func recordView(record domain.SubmissionRecord) submittedPayload {
	return submittedPayload{
		Score:          record.Score,
		TotalQuestions: record.TotalQuestions,
		Status:         string(record.Status),
	}
}

func startErrorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrAlreadySubmitted):
		return "alreadySubmitted"
	case errors.Is(err, domain.ErrNoQuestions):
		return "empty"
	case errors.Is(err, domain.ErrContestNotFound):
		return "notFound"
	default:
		return "error"
	}
}

func takerFromQuery(r *http.Request) domain.TakerIdentity {
	q := r.URL.Query()
	return domain.TakerIdentity{
		UserID:     q.Get("userId"),
		GuestID:    q.Get("guestId"),
		GuestName:  q.Get("guestName"),
		GuestEmail: q.Get("guestEmail"),
		GuestPhone: q.Get("guestPhone"),
	}
}
