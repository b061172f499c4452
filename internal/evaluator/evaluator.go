// Package evaluator scores candidate answers.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pavelanni/interviewer/internal/model"
)

// Judge is the AI-judgment capability used for open-ended questions.
type Judge interface {
	Evaluate(ctx context.Context, prompt, rubric, answer string) (model.Judgment, error)
}

// NeutralScore is recorded for every dimension when the judgment fails.
const NeutralScore = 0.5

var (
	errNoJudge = errors.New("no judgment capability configured")
	errTimeout = errors.New("judgment timed out")
)

// Evaluator scores answers. Multiple-choice questions are scored locally;
// open-ended questions are delegated to a Judge.
type Evaluator struct {
	judge   Judge
	weights model.Weights
	timeout time.Duration
}

// New creates an Evaluator. judge may be nil, in which case every
// open-ended answer gets the neutral pending result.
func New(judge Judge, cfg model.EngineConfig) *Evaluator {
	return &Evaluator{judge: judge, weights: cfg.Weights, timeout: cfg.AITimeout}
}

// Evaluate scores answer against q. A failed open-ended judgment returns the
// neutral pending evaluation together with a *model.DegradedError; callers
// should record the evaluation and treat the error as non-fatal.
func (e *Evaluator) Evaluate(ctx context.Context, q model.Question, answer model.Answer) (model.Evaluation, error) {
	switch q.Type {
	case model.QuestionMultipleChoice:
		return Choice(q, answer.SelectedOption), nil
	case model.QuestionOpenEnded:
		return e.openEnded(ctx, q, answer.Text)
	}
	return model.Evaluation{}, model.Invalid("type", "unknown question type %q", q.Type)
}

// Choice scores a multiple-choice answer: exactly 1 when selected equals the
// correct key, 0 otherwise. No partial credit.
func Choice(q model.Question, selected string) model.Evaluation {
	score := 0.0
	if s := strings.TrimSpace(selected); s != "" && strings.EqualFold(s, q.CorrectOption) {
		score = 1
	}
	return model.Evaluation{
		Scores:   model.Scores{Accuracy: score, Completeness: score, Communication: score},
		Combined: score,
	}
}

// Neutral returns the pending evaluation recorded when judgment fails.
func Neutral() model.Evaluation {
	return model.Evaluation{
		Scores:   model.Scores{Accuracy: NeutralScore, Completeness: NeutralScore, Communication: NeutralScore},
		Combined: NeutralScore,
		Pending:  true,
	}
}

func (e *Evaluator) openEnded(ctx context.Context, q model.Question, text string) (model.Evaluation, error) {
	if e.judge == nil {
		return Neutral(), &model.DegradedError{QuestionID: q.ID, Cause: errNoJudge}
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	j, err := e.judge.Evaluate(ctx, q.Prompt, Rubric(q), text)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", errTimeout, err)
		}
		return Neutral(), &model.DegradedError{QuestionID: q.ID, Cause: err}
	}
	scores, err := checkJudgment(j)
	if err != nil {
		return Neutral(), &model.DegradedError{QuestionID: q.ID, Cause: err}
	}
	return model.Evaluation{
		Scores:   scores,
		Combined: e.weights.Combine(scores),
		Feedback: strings.TrimSpace(j.Feedback),
	}, nil
}

func checkJudgment(j model.Judgment) (model.Scores, error) {
	dims := []struct {
		name string
		v    *float64
	}{
		{"accuracy", j.Accuracy},
		{"completeness", j.Completeness},
		{"communication", j.Communication},
	}
	for _, d := range dims {
		if d.v == nil {
			return model.Scores{}, fmt.Errorf("judgment is missing %s", d.name)
		}
		if math.IsNaN(*d.v) || *d.v < 0 || *d.v > 1 {
			return model.Scores{}, fmt.Errorf("judgment %s = %v is outside [0,1]", d.name, *d.v)
		}
	}
	return model.Scores{
		Accuracy:      *j.Accuracy,
		Completeness:  *j.Completeness,
		Communication: *j.Communication,
	}, nil
}

// Rubric builds the scoring rubric passed to the judge for q.
func Rubric(q model.Question) string {
	var sb strings.Builder
	sb.WriteString("Score each dimension from 0 to 1.\n")
	sb.WriteString("- accuracy: technical correctness of the answer\n")
	sb.WriteString("- completeness: how fully the answer covers what the question asks\n")
	sb.WriteString("- communication: clarity and structure of the explanation\n")
	if r := strings.TrimSpace(q.Rubric); r != "" {
		sb.WriteString("\nQuestion-specific criteria:\n" + r + "\n")
	}
	if m := strings.TrimSpace(q.ModelAnswer); m != "" {
		sb.WriteString("\nReference answer (not shown to the candidate):\n" + m + "\n")
	}
	return sb.String()
}
