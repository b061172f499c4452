package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/interviewer/internal/conversation"
	"github.com/pavelanni/interviewer/internal/model"
	"github.com/pavelanni/interviewer/internal/selector"
)

const maxBodyBytes = 1 << 20

// Handler exposes interview sessions over a JSON HTTP API.
type Handler struct {
	conv     *conversation.Handler
	selector *selector.Selector
}

// New creates a new Handler.
func New(conv *conversation.Handler, sel *selector.Selector) *Handler {
	return &Handler{conv: conv, selector: sel}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.handleGetSession)
		r.Get("/question", h.handleCurrentQuestion)
		r.Post("/answer", h.handleAnswer)
		r.Post("/clarify", h.handleClarify)
		r.Post("/abandon", h.handleAbandon)
		r.Post("/retry", h.handleRetry)
		r.Get("/report", h.handleReport)
	})
	r.Get("/questions/stats", h.handleStats)
}

type answerRequest struct {
	Text             string  `json:"text"`
	SelectedOption   string  `json:"selected_option"`
	TimeSpentSeconds float64 `json:"time_spent_seconds"`
}

type clarifyRequest struct {
	Query string `json:"query"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req conversation.NewSession
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.conv.CreateSession(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err = h.conv.Start(r.Context(), sess.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("session started", "session_id", sess.ID, "topics", sess.Topics, "total", sess.Total)
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.conv.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleCurrentQuestion(w http.ResponseWriter, r *http.Request) {
	p, err := h.conv.CurrentQuestion(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := h.conv.SubmitAnswer(r.Context(), chi.URLParam(r, "sessionID"), model.Answer{
		Text:           req.Text,
		SelectedOption: req.SelectedOption,
		TimeSpent:      time.Duration(req.TimeSpentSeconds * float64(time.Second)),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleClarify(w http.ResponseWriter, r *http.Request) {
	var req clarifyRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.conv.RequestClarification(r.Context(), chi.URLParam(r, "sessionID"), req.Query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleAbandon(w http.ResponseWriter, r *http.Request) {
	sess, err := h.conv.Abandon(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	n, err := h.conv.RetryPending(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"corrected": n})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.conv.Report(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleStats accepts ?topic=a&topic=b as well as ?topic=a,b.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	var topics []string
	for _, v := range r.URL.Query()["topic"] {
		topics = append(topics, strings.Split(v, ",")...)
	}
	stats, err := h.selector.Stats(r.Context(), topics)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid JSON body: %v", err)})
		return false
	}
	return true
}

// statusFor maps the model error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidState), errors.Is(err, model.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrClarificationLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, model.ErrInsufficientPool):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
