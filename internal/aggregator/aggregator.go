// Package aggregator folds per-question evaluations into an interview report.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/pavelanni/interviewer/internal/i18n"
	"github.com/pavelanni/interviewer/internal/model"
)

// HistoricalScoreSource supplies past overall scores for percentile ranking.
type HistoricalScoreSource interface {
	Scores(ctx context.Context, topics []string, excludeSessionID string) ([]float64, error)
}

// Summarizer is the AI capability that writes a narrative summary.
type Summarizer interface {
	Summarize(ctx context.Context, s *model.Session) (string, error)
}

// Aggregator builds reports. Both collaborators are optional.
type Aggregator struct {
	history    HistoricalScoreSource
	summarizer Summarizer
	timeout    time.Duration
	now        func() time.Time
}

// New creates an Aggregator.
func New(history HistoricalScoreSource, summarizer Summarizer, cfg model.EngineConfig) *Aggregator {
	return &Aggregator{
		history:    history,
		summarizer: summarizer,
		timeout:    cfg.AITimeout,
		now:        time.Now,
	}
}

// Aggregate builds the report of a completed or abandoned session. An
// abandoned session yields a partial report over its recorded responses.
func (a *Aggregator) Aggregate(ctx context.Context, s *model.Session) (*model.Report, error) {
	if s.Status != model.StatusCompleted && s.Status != model.StatusAbandoned {
		return nil, &model.StateError{Op: "aggregate", Phase: s.Phase}
	}

	scores := make([]float64, len(s.Responses))
	var mc, open, seconds []float64
	var degraded []model.DegradedItem
	for i, r := range s.Responses {
		ev := s.EffectiveEvaluation(i)
		scores[i] = ev.Combined
		switch r.Type {
		case model.QuestionMultipleChoice:
			mc = append(mc, ev.Combined)
		case model.QuestionOpenEnded:
			open = append(open, ev.Combined)
		}
		if r.Answer.TimeSpent > 0 {
			seconds = append(seconds, r.Answer.TimeSpent.Seconds())
		}
		if ev.Pending {
			degraded = append(degraded, model.DegradedItem{Position: r.Position, QuestionID: r.QuestionID})
		}
	}

	rep := &model.Report{
		SessionID:          s.ID,
		Status:             s.Status,
		Partial:            s.Status == model.StatusAbandoned,
		Responses:          len(scores),
		Overall:            mean(scores),
		Topics:             byTopic(s),
		Consistency:        Consistency(scores),
		MultipleChoice:     optionalMean(mc),
		OpenEnded:          optionalMean(open),
		AvgResponseSeconds: optionalMean(seconds),
		Degraded:           degraded,
		GeneratedAt:        a.now().UTC(),
	}
	rep.PerformanceLevel = model.PerformanceLevel(rep.Overall)

	if a.history != nil && len(scores) > 0 {
		hist, err := a.history.Scores(ctx, s.Topics, s.ID)
		if err != nil {
			slog.Warn("historical scores unavailable", "session_id", s.ID, "error", err)
		} else {
			rep.Percentile = Percentile(rep.Overall, hist)
		}
	}

	rep.Insights = Insights(ctx, rep)
	rep.AISummary = a.summarize(ctx, s)
	return rep, nil
}

func (a *Aggregator) summarize(ctx context.Context, s *model.Session) string {
	if a.summarizer == nil || len(s.Responses) == 0 {
		return ""
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	text, err := a.summarizer.Summarize(ctx, s)
	if err != nil {
		slog.Warn("AI summary unavailable, using templated insights only", "session_id", s.ID, "error", err)
		return ""
	}
	return strings.TrimSpace(text)
}

// byTopic groups effective scores by topic, in the session's topic order.
func byTopic(s *model.Session) []model.TopicScore {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	order := slices.Clone(s.Topics)
	for i, r := range s.Responses {
		if !slices.Contains(order, r.Topic) {
			order = append(order, r.Topic)
		}
		sums[r.Topic] += s.EffectiveEvaluation(i).Combined
		counts[r.Topic]++
	}
	var out []model.TopicScore
	for _, t := range order {
		if counts[t] == 0 {
			continue
		}
		out = append(out, model.TopicScore{Topic: t, Mean: sums[t] / float64(counts[t]), Count: counts[t]})
	}
	return out
}

// Consistency returns 1 minus the coefficient of variation of scores,
// clamped to [0,1], or nil for fewer than two scores.
func Consistency(scores []float64) *float64 {
	if len(scores) < 2 {
		return nil
	}
	m := mean(scores)
	var ss float64
	for _, v := range scores {
		ss += (v - m) * (v - m)
	}
	sd := math.Sqrt(ss / float64(len(scores)-1))
	c := 1.0
	if sd > 0 {
		c = clamp(1 - sd/m)
	}
	return &c
}

// Percentile ranks overall within history as the share of strictly lower
// scores, in percent. Ties share the lower percentile. It returns nil for
// an empty history.
func Percentile(overall float64, history []float64) *float64 {
	if len(history) == 0 {
		return nil
	}
	below := 0
	for _, h := range history {
		if h < overall {
			below++
		}
	}
	p := float64(below) / float64(len(history)) * 100
	return &p
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func optionalMean(v []float64) *float64 {
	if len(v) == 0 {
		return nil
	}
	m := mean(v)
	return &m
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func pct(v float64) string {
	return fmt.Sprintf("%.0f", v*100)
}

var levelMessages = map[string]string{
	model.LevelExcellent: "LevelExcellent",
	model.LevelGood:      "LevelGood",
	model.LevelAverage:   "LevelAverage",
	model.LevelPoor:      "LevelPoor",
}

// Insights renders the deterministic narrative for rep in the context's language.
func Insights(ctx context.Context, rep *model.Report) []string {
	if rep.Responses == 0 {
		out := []string{i18n.T(ctx, "InsightNoResponses")}
		if rep.Partial {
			out = append(out, i18n.T(ctx, "InsightPartial"))
		}
		return out
	}

	out := []string{i18n.Td(ctx, "InsightOverall", map[string]any{
		"Level": i18n.T(ctx, levelMessages[rep.PerformanceLevel]),
		"Score": pct(rep.Overall),
	})}

	if len(rep.Topics) == 1 {
		t := rep.Topics[0]
		out = append(out, i18n.Td(ctx, "InsightSingleTopic", map[string]any{"Topic": t.Topic, "Score": pct(t.Mean)}))
	} else if len(rep.Topics) > 1 {
		best, worst := rep.Topics[0], rep.Topics[0]
		for _, t := range rep.Topics[1:] {
			if t.Mean > best.Mean {
				best = t
			}
			if t.Mean < worst.Mean {
				worst = t
			}
		}
		if best.Topic == worst.Topic {
			worst = rep.Topics[len(rep.Topics)-1]
		}
		out = append(out,
			i18n.Td(ctx, "InsightStrongest", map[string]any{"Topic": best.Topic, "Score": pct(best.Mean)}),
			i18n.Td(ctx, "InsightWeakest", map[string]any{"Topic": worst.Topic, "Score": pct(worst.Mean)}),
		)
	}

	if c := rep.Consistency; c != nil {
		switch {
		case *c >= 0.8:
			out = append(out, i18n.T(ctx, "InsightConsistent"))
		case *c < 0.5:
			out = append(out, i18n.T(ctx, "InsightInconsistent"))
		}
	}
	if rep.Partial {
		out = append(out, i18n.T(ctx, "InsightPartial"))
	}
	if n := len(rep.Degraded); n > 0 {
		out = append(out, i18n.Tp(ctx, "InsightDegraded", n))
	}
	return out
}
