package model

import (
	"time"
)

// Difficulty represents question difficulty tier.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Tiers lists the difficulty tiers from lowest to highest.
var Tiers = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

// Valid reports whether d is one of the known tiers.
func (d Difficulty) Valid() bool {
	return d.Level() >= 0
}

// Level returns the tier's position in Tiers, or -1 for an unknown tier.
func (d Difficulty) Level() int {
	for i, t := range Tiers {
		if t == d {
			return i
		}
	}
	return -1
}

// TierAt returns the tier at level i, clamped to the easy..hard range.
func TierAt(i int) Difficulty {
	if i < 0 {
		i = 0
	}
	if i >= len(Tiers) {
		i = len(Tiers) - 1
	}
	return Tiers[i]
}

// QuestionType tags the question variant.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionOpenEnded      QuestionType = "open_ended"
)

// Option is one answer choice of a multiple-choice question.
type Option struct {
	Key  string `json:"key" yaml:"key" validate:"required"`
	Text string `json:"text" yaml:"text" validate:"required"`
}

// Question represents an interview question. Questions are immutable once stored.
type Question struct {
	ID            int64        `json:"id"`
	Topic         string       `json:"topic"`
	Type          QuestionType `json:"type"`
	Difficulty    Difficulty   `json:"difficulty"`
	Prompt        string       `json:"prompt"`
	Options       []Option     `json:"options,omitempty"`
	CorrectOption string       `json:"-"`
	Rubric        string       `json:"-"`
	ModelAnswer   string       `json:"-"`
}

// HasOption reports whether key names one of the question's options.
func (q Question) HasOption(key string) bool {
	for _, o := range q.Options {
		if o.Key == key {
			return true
		}
	}
	return false
}

// QuestionImport is used for loading questions from JSON or YAML files.
type QuestionImport struct {
	Topic         string       `json:"topic" yaml:"topic" validate:"required"`
	Type          QuestionType `json:"type" yaml:"type" validate:"required,oneof=multiple_choice open_ended"`
	Difficulty    Difficulty   `json:"difficulty" yaml:"difficulty" validate:"required,oneof=easy medium hard"`
	Prompt        string       `json:"prompt" yaml:"prompt" validate:"required"`
	Options       []Option     `json:"options,omitempty" yaml:"options,omitempty" validate:"omitempty,min=2,dive"`
	CorrectOption string       `json:"correct_option,omitempty" yaml:"correct_option,omitempty" validate:"required_if=Type multiple_choice"`
	Rubric        string       `json:"rubric,omitempty" yaml:"rubric,omitempty"`
	ModelAnswer   string       `json:"model_answer,omitempty" yaml:"model_answer,omitempty"`
}

// Question converts the import record into a Question without an ID.
func (qi QuestionImport) Question() Question {
	return Question{
		Topic:         qi.Topic,
		Type:          qi.Type,
		Difficulty:    qi.Difficulty,
		Prompt:        qi.Prompt,
		Options:       qi.Options,
		CorrectOption: qi.CorrectOption,
		Rubric:        qi.Rubric,
		ModelAnswer:   qi.ModelAnswer,
	}
}

// DifficultyMode selects how the question plan spreads across tiers.
type DifficultyMode string

const (
	ModeFixed    DifficultyMode = "fixed"
	ModeMixed    DifficultyMode = "mixed"
	ModeAdaptive DifficultyMode = "adaptive"
)

// SessionStatus represents the lifecycle status of an interview session.
type SessionStatus string

const (
	StatusCreated    SessionStatus = "created"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusAbandoned  SessionStatus = "abandoned"
)

// Terminal reports whether no further transition may leave this status.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Phase is the conversation state of a session.
type Phase string

const (
	PhaseCreated               Phase = "created"
	PhaseAwaitingAnswer        Phase = "awaiting_answer"
	PhaseEvaluating            Phase = "evaluating"
	PhaseAwaitingClarification Phase = "awaiting_clarification"
	PhaseCompleted             Phase = "completed"
	PhaseAbandoned             Phase = "abandoned"
)

// Candidate holds the interviewee's metadata.
type Candidate struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

// SessionConfig holds the per-session interview parameters.
type SessionConfig struct {
	Count            int            `json:"count"`
	Mode             DifficultyMode `json:"difficulty_mode"`
	Difficulty       Difficulty     `json:"difficulty,omitempty"` // fixed mode only
	ClarificationCap int            `json:"clarification_cap"`
}

// Answer is the raw payload a candidate submits for the current question.
type Answer struct {
	Text           string        `json:"text,omitempty"`
	SelectedOption string        `json:"selected_option,omitempty"`
	TimeSpent      time.Duration `json:"time_spent,omitempty"`
}

// Scores holds the per-dimension evaluation scores, each in [0,1].
type Scores struct {
	Accuracy      float64 `json:"accuracy"`
	Completeness  float64 `json:"completeness"`
	Communication float64 `json:"communication"`
}

// Evaluation is the scored result of one answer.
type Evaluation struct {
	Scores
	Combined float64 `json:"combined"`
	Pending  bool    `json:"evaluation_pending"`
	Feedback string  `json:"feedback,omitempty"`
}

// Response records an answer submitted for the question at Position.
// Responses are never modified after they are appended to a session.
type Response struct {
	Position   int          `json:"position"`
	QuestionID int64        `json:"question_id"`
	Topic      string       `json:"topic"`
	Type       QuestionType `json:"type"`
	Difficulty Difficulty   `json:"difficulty"`
	Answer     Answer       `json:"answer"`
	Evaluation Evaluation   `json:"evaluation"`
	AnsweredAt time.Time    `json:"answered_at"`
}

// Clarification records one clarification exchange for the question at Position.
type Clarification struct {
	Position int       `json:"position"`
	Query    string    `json:"query"`
	Reply    string    `json:"reply"`
	Fallback bool      `json:"fallback"`
	At       time.Time `json:"at"`
}

// Correction supersedes the evaluation of a pending response at Position.
type Correction struct {
	Position   int        `json:"position"`
	Evaluation Evaluation `json:"evaluation"`
	At         time.Time  `json:"at"`
}

// AdaptiveState tracks the rolling performance signal of an adaptive session.
type AdaptiveState struct {
	Tier   Difficulty `json:"tier"`
	Recent []float64  `json:"recent"`
}

// Session is an interview session. It exclusively owns its plan, responses,
// clarifications and corrections.
type Session struct {
	ID             string          `json:"id"`
	Candidate      Candidate       `json:"candidate"`
	Topics         []string        `json:"topics"`
	Config         SessionConfig   `json:"config"`
	Seed           uint64          `json:"seed"`
	Status         SessionStatus   `json:"status"`
	Phase          Phase           `json:"phase"`
	Plan           []int64         `json:"plan"`
	Total          int             `json:"total"`
	Position       int             `json:"position"`
	Responses      []Response      `json:"responses"`
	Clarifications []Clarification `json:"clarifications,omitempty"`
	Corrections    []Correction    `json:"corrections,omitempty"`
	Adaptive       *AdaptiveState  `json:"adaptive,omitempty"`
	Shortfall      map[string]int  `json:"shortfall,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	EndedAt        *time.Time      `json:"ended_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ClarificationsAt counts clarification exchanges recorded for position.
func (s *Session) ClarificationsAt(position int) int {
	n := 0
	for _, c := range s.Clarifications {
		if c.Position == position {
			n++
		}
	}
	return n
}

// EffectiveEvaluation returns the latest correction for the response at
// position, or the response's original evaluation.
func (s *Session) EffectiveEvaluation(position int) Evaluation {
	for i := len(s.Corrections) - 1; i >= 0; i-- {
		if s.Corrections[i].Position == position {
			return s.Corrections[i].Evaluation
		}
	}
	return s.Responses[position].Evaluation
}

// Planned reports whether questionID is already part of the plan.
func (s *Session) Planned(questionID int64) bool {
	for _, id := range s.Plan {
		if id == questionID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	c.Topics = append([]string(nil), s.Topics...)
	c.Plan = append([]int64(nil), s.Plan...)
	c.Responses = append([]Response(nil), s.Responses...)
	c.Clarifications = append([]Clarification(nil), s.Clarifications...)
	c.Corrections = append([]Correction(nil), s.Corrections...)
	if s.Adaptive != nil {
		a := *s.Adaptive
		a.Recent = append([]float64(nil), s.Adaptive.Recent...)
		c.Adaptive = &a
	}
	if s.Shortfall != nil {
		c.Shortfall = make(map[string]int, len(s.Shortfall))
		for k, v := range s.Shortfall {
			c.Shortfall[k] = v
		}
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// Presentation is the current question as shown to the candidate.
type Presentation struct {
	SessionID string   `json:"session_id"`
	Number    int      `json:"number"`
	Total     int      `json:"total"`
	Question  Question `json:"question"`
	Text      string   `json:"text"`
}

// Judgment is the raw per-dimension result of an AI judgment. A nil
// dimension means the capability did not return it.
type Judgment struct {
	Accuracy      *float64 `json:"accuracy"`
	Completeness  *float64 `json:"completeness"`
	Communication *float64 `json:"communication"`
	Feedback      string   `json:"feedback"`
}
