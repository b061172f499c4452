// Package conversation drives interview sessions through their state machine.
//
// Every mutating operation loads the session from the SessionStore, applies
// the transition to that copy while holding the session's lock, and saves it
// before releasing the lock. A failed call leaves the stored session as it
// was. Transient phases (evaluating, awaiting clarification) exist only
// inside a call and are never persisted.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/interviewer/internal/aggregator"
	"github.com/pavelanni/interviewer/internal/evaluator"
	"github.com/pavelanni/interviewer/internal/i18n"
	"github.com/pavelanni/interviewer/internal/model"
	"github.com/pavelanni/interviewer/internal/selector"
)

// SessionStore persists sessions. Load returns an error wrapping
// model.ErrNotFound for an unknown id.
type SessionStore interface {
	Save(ctx context.Context, s *model.Session) error
	Load(ctx context.Context, id string) (*model.Session, error)
}

// QuestionRepository is the question pool.
type QuestionRepository interface {
	selector.QuestionFinder
	Get(ctx context.Context, id int64) (model.Question, error)
}

// Clarifier is the conversational AI capability. The last history entry is
// the pending request; its Reply is empty.
type Clarifier interface {
	Clarify(ctx context.Context, q model.Question, history []model.Clarification) (string, error)
}

// Deps are the Handler's collaborators. Clarifier may be nil.
type Deps struct {
	Store      SessionStore
	Questions  QuestionRepository
	Selector   *selector.Selector
	Evaluator  *evaluator.Evaluator
	Aggregator *aggregator.Aggregator
	Clarifier  Clarifier
}

// Handler owns the interview state machine.
type Handler struct {
	Deps
	cfg   model.EngineConfig
	locks *sessionLocks
	now   func() time.Time
	newID func() string
}

// New creates a Handler.
func New(d Deps, cfg model.EngineConfig) *Handler {
	return &Handler{
		Deps:  d,
		cfg:   cfg,
		locks: newSessionLocks(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// NewSession is a request to create an interview session.
type NewSession struct {
	Candidate        model.Candidate      `json:"candidate"`
	Topics           []string             `json:"topics" validate:"required,min=1"`
	Count            int                  `json:"count" validate:"gt=0"`
	Mode             model.DifficultyMode `json:"difficulty_mode" validate:"omitempty,oneof=fixed mixed adaptive"`
	Difficulty       model.Difficulty     `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	ClarificationCap *int                 `json:"clarification_cap" validate:"omitempty,gte=0"`
	Seed             uint64               `json:"seed"`
}

// CreateSession validates req, builds the question plan and stores a new
// session in the created state.
func (h *Handler) CreateSession(ctx context.Context, req NewSession) (*model.Session, error) {
	if err := model.ValidateStruct(req); err != nil {
		return nil, err
	}
	topics := selector.NormalizeTopics(req.Topics)
	if len(topics) == 0 {
		return nil, model.Invalid("topics", "at least one topic is required")
	}
	mode := req.Mode
	if mode == "" {
		mode = model.ModeMixed
	}

	plan, err := h.Selector.Select(ctx, selector.Request{
		Topics:     topics,
		Count:      req.Count,
		Mode:       mode,
		Difficulty: req.Difficulty,
		Seed:       req.Seed,
	})
	if err != nil {
		return nil, err
	}

	clarCap := h.cfg.ClarificationCap
	if req.ClarificationCap != nil {
		clarCap = *req.ClarificationCap
	}
	now := h.now()
	s := &model.Session{
		ID:        h.newID(),
		Candidate: req.Candidate,
		Topics:    topics,
		Config: model.SessionConfig{
			Count:            req.Count,
			Mode:             mode,
			Difficulty:       req.Difficulty,
			ClarificationCap: clarCap,
		},
		Seed:      plan.Seed,
		Status:    model.StatusCreated,
		Phase:     model.PhaseCreated,
		Plan:      plan.IDs(),
		Total:     len(plan.Questions),
		Shortfall: plan.Shortfall,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if mode == model.ModeAdaptive {
		s.Total = req.Count
		s.Adaptive = &model.AdaptiveState{Tier: model.DifficultyMedium}
	}

	if err := h.Store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	slog.Info("session created", "session_id", s.ID, "mode", mode, "planned", len(s.Plan), "total", s.Total)
	return s, nil
}

// Start moves a created session to awaiting its first answer.
func (h *Handler) Start(ctx context.Context, id string) (*model.Session, error) {
	return h.mutate(ctx, id, func(s *model.Session) error {
		if s.Phase != model.PhaseCreated {
			return &model.StateError{Op: "start", Phase: s.Phase}
		}
		now := h.now()
		s.Status = model.StatusInProgress
		s.Phase = model.PhaseAwaitingAnswer
		s.StartedAt = &now
		return nil
	})
}

// Get returns a snapshot of the session.
func (h *Handler) Get(ctx context.Context, id string) (*model.Session, error) {
	return h.Store.Load(ctx, id)
}

// CurrentQuestion returns the question at the session's position. It does
// not change the session.
func (h *Handler) CurrentQuestion(ctx context.Context, id string) (model.Presentation, error) {
	s, err := h.Store.Load(ctx, id)
	if err != nil {
		return model.Presentation{}, err
	}
	if s.Phase != model.PhaseAwaitingAnswer {
		return model.Presentation{}, &model.StateError{Op: "current question", Phase: s.Phase}
	}
	q, err := h.current(ctx, s)
	if err != nil {
		return model.Presentation{}, err
	}
	return model.Presentation{
		SessionID: s.ID,
		Number:    s.Position + 1,
		Total:     s.Total,
		Question:  q,
		Text:      Render(ctx, q, s.Position+1, s.Total),
	}, nil
}

// Outcome is the result of SubmitAnswer.
type Outcome struct {
	Evaluation model.Evaluation `json:"evaluation"`
	Position   int              `json:"position"`
	Total      int              `json:"total"`
	Completed  bool             `json:"completed"`
}

// SubmitAnswer evaluates answer for the current question, records the
// response and advances the session. A degraded evaluation is recorded with
// its pending flag and does not fail the call.
func (h *Handler) SubmitAnswer(ctx context.Context, id string, answer model.Answer) (Outcome, error) {
	if answer.TimeSpent < 0 {
		return Outcome{}, model.Invalid("time_spent", "must not be negative")
	}
	var out Outcome
	_, err := h.mutate(ctx, id, func(s *model.Session) error {
		if s.Phase != model.PhaseAwaitingAnswer {
			return &model.StateError{Op: "submit answer", Phase: s.Phase}
		}
		q, err := h.current(ctx, s)
		if err != nil {
			return err
		}

		s.Phase = model.PhaseEvaluating
		ev, err := h.Evaluator.Evaluate(ctx, q, answer)
		if err != nil {
			if !errors.Is(err, model.ErrEvaluationDegraded) {
				return fmt.Errorf("evaluate question %d: %w", q.ID, err)
			}
			slog.Warn("evaluation degraded", "session_id", s.ID, "question_id", q.ID, "position", s.Position, "error", err)
		}

		s.Responses = append(s.Responses, model.Response{
			Position:   s.Position,
			QuestionID: q.ID,
			Topic:      q.Topic,
			Type:       q.Type,
			Difficulty: q.Difficulty,
			Answer:     answer,
			Evaluation: ev,
			AnsweredAt: h.now(),
		})
		s.Position++

		if s.Adaptive != nil {
			if err := h.extend(ctx, s, ev.Combined); err != nil {
				return err
			}
		}

		if s.Position >= s.Total {
			now := h.now()
			s.Status = model.StatusCompleted
			s.Phase = model.PhaseCompleted
			s.EndedAt = &now
			slog.Info("session completed", "session_id", s.ID, "responses", len(s.Responses))
		} else {
			s.Phase = model.PhaseAwaitingAnswer
		}
		out = Outcome{Evaluation: ev, Position: s.Position, Total: s.Total, Completed: s.Status == model.StatusCompleted}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// extend applies the adaptive policy to score and appends the next plan
// entry. An exhausted pool ends the session early.
func (h *Handler) extend(ctx context.Context, s *model.Session, score float64) error {
	prev := s.Adaptive.Tier
	next := selector.Advance(*s.Adaptive, score, h.Selector.Thresholds())
	s.Adaptive = &next
	if next.Tier != prev {
		slog.Debug("adaptive tier changed", "session_id", s.ID, "from", prev, "tier", next.Tier)
	}
	if s.Position >= s.Total || s.Position < len(s.Plan) {
		return nil
	}

	selected := make(map[string]int, len(s.Topics))
	for _, r := range s.Responses {
		selected[r.Topic]++
	}
	q, ok, err := h.Selector.Next(ctx, selector.NextRequest{
		Topics:   s.Topics,
		Tier:     next.Tier,
		Selected: selected,
		Excluded: s.Plan,
		Seed:     s.Seed,
		Position: s.Position,
	})
	if err != nil {
		return fmt.Errorf("extend plan: %w", err)
	}
	if !ok {
		slog.Warn("question pool exhausted, ending adaptive session early", "session_id", s.ID, "position", s.Position)
		s.Total = s.Position
		return nil
	}
	s.Plan = append(s.Plan, q.ID)
	slog.Debug("plan extended", "session_id", s.ID, "question_id", q.ID, "tier", q.Difficulty)
	return nil
}

// RequestClarification asks the conversational capability to clarify the
// current question. When the capability fails a localized fallback reply is
// recorded instead; it still counts against the per-question cap.
func (h *Handler) RequestClarification(ctx context.Context, id, query string) (model.Clarification, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return model.Clarification{}, model.Invalid("query", "must not be empty")
	}
	var out model.Clarification
	_, err := h.mutate(ctx, id, func(s *model.Session) error {
		if s.Phase != model.PhaseAwaitingAnswer {
			return &model.StateError{Op: "request clarification", Phase: s.Phase}
		}
		if n := s.ClarificationsAt(s.Position); n >= s.Config.ClarificationCap {
			return fmt.Errorf("%w: %d of %d used for question %d", model.ErrClarificationLimit, n, s.Config.ClarificationCap, s.Position+1)
		}
		q, err := h.current(ctx, s)
		if err != nil {
			return err
		}

		s.Phase = model.PhaseAwaitingClarification
		out = model.Clarification{Position: s.Position, Query: query, At: h.now()}
		reply, err := h.clarify(ctx, q, s, out)
		if err != nil {
			slog.Warn("clarification unavailable, using fallback", "session_id", s.ID, "question_id", q.ID, "error", err)
			out.Reply = i18n.T(ctx, "ClarifyFallback")
			out.Fallback = true
		} else {
			out.Reply = reply
		}
		s.Clarifications = append(s.Clarifications, out)
		s.Phase = model.PhaseAwaitingAnswer
		return nil
	})
	if err != nil {
		return model.Clarification{}, err
	}
	return out, nil
}

func (h *Handler) clarify(ctx context.Context, q model.Question, s *model.Session, pending model.Clarification) (string, error) {
	if h.Clarifier == nil {
		return "", errors.New("no conversational capability configured")
	}
	history := s.Clarifications
	if limit := h.cfg.HistoryLimit; limit > 0 && len(history) > limit-1 {
		history = history[len(history)-(limit-1):]
	}
	history = append(slices.Clone(history), pending)

	if h.cfg.AITimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.AITimeout)
		defer cancel()
	}
	reply, err := h.Clarifier.Clarify(ctx, q, history)
	if err != nil {
		return "", err
	}
	if reply = strings.TrimSpace(reply); reply == "" {
		return "", errors.New("empty clarification reply")
	}
	return reply, nil
}

// Abandon ends a non-terminal session. No further mutation is accepted.
func (h *Handler) Abandon(ctx context.Context, id string) (*model.Session, error) {
	return h.mutate(ctx, id, func(s *model.Session) error {
		if s.Status.Terminal() {
			return &model.StateError{Op: "abandon", Phase: s.Phase}
		}
		now := h.now()
		s.Status = model.StatusAbandoned
		s.Phase = model.PhaseAbandoned
		s.EndedAt = &now
		slog.Info("session abandoned", "session_id", s.ID, "responses", len(s.Responses))
		return nil
	})
}

// Report aggregates a completed or abandoned session.
func (h *Handler) Report(ctx context.Context, id string) (*model.Report, error) {
	s, err := h.Store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return h.Aggregator.Aggregate(ctx, s)
}

const retryConcurrency = 4

// RetryPending re-runs the judgment for responses whose effective evaluation
// is still pending and appends a correction for each one that now succeeds.
// It returns the number of corrections recorded. Abandoned sessions are
// rejected.
func (h *Handler) RetryPending(ctx context.Context, id string) (int, error) {
	var corrected int
	_, err := h.mutate(ctx, id, func(s *model.Session) error {
		if s.Status == model.StatusAbandoned {
			return &model.StateError{Op: "retry pending", Phase: s.Phase}
		}
		var pending []int
		for i := range s.Responses {
			if s.EffectiveEvaluation(i).Pending {
				pending = append(pending, i)
			}
		}
		if len(pending) == 0 {
			return nil
		}

		results := make([]*model.Correction, len(pending))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(retryConcurrency)
		for i, pos := range pending {
			r := s.Responses[pos]
			g.Go(func() error {
				q, err := h.Questions.Get(gctx, r.QuestionID)
				if err != nil {
					return fmt.Errorf("load question %d: %w", r.QuestionID, err)
				}
				ev, err := h.Evaluator.Evaluate(gctx, q, r.Answer)
				if err != nil {
					slog.Warn("re-evaluation still degraded", "session_id", s.ID, "question_id", q.ID, "position", pos, "error", err)
					return nil
				}
				results[i] = &model.Correction{Position: pos, Evaluation: ev, At: h.now()}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for _, c := range results {
			if c != nil {
				s.Corrections = append(s.Corrections, *c)
				corrected++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return corrected, nil
}

// mutate runs fn on a fresh copy of the session under the session lock and
// saves the result. Nothing is saved when fn fails.
func (h *Handler) mutate(ctx context.Context, id string, fn func(*model.Session) error) (*model.Session, error) {
	release, err := h.locks.acquire(ctx, id, h.cfg.RetryDelay)
	if err != nil {
		return nil, err
	}
	defer release()

	s, err := h.Store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	before := s.Phase
	if err := fn(s); err != nil {
		return nil, err
	}
	s.UpdatedAt = h.now()
	if err := h.Store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save session %s: %w", id, err)
	}
	if s.Phase != before {
		slog.Debug("session transition", "session_id", id, "from", before, "to", s.Phase, "position", s.Position)
	}
	return s, nil
}

func (h *Handler) current(ctx context.Context, s *model.Session) (model.Question, error) {
	if s.Position >= len(s.Plan) {
		return model.Question{}, fmt.Errorf("%w: no planned question at position %d", model.ErrInvalidState, s.Position)
	}
	q, err := h.Questions.Get(ctx, s.Plan[s.Position])
	if err != nil {
		return model.Question{}, fmt.Errorf("load question %d: %w", s.Plan[s.Position], err)
	}
	return q, nil
}
