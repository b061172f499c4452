package selector

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/pavelanni/interviewer/internal/model"
)

// NextTier is the adaptive tier policy. It moves one level up after two
// consecutive scores >= th.Up, one level down after two consecutive scores
// <= th.Down, and otherwise keeps current. The result is clamped to easy..hard.
func NextTier(recent []float64, current model.Difficulty, th model.Thresholds) model.Difficulty {
	if len(recent) < 2 {
		return current
	}
	a, b := recent[len(recent)-2], recent[len(recent)-1]
	switch {
	case a >= th.Up && b >= th.Up:
		return model.TierAt(current.Level() + 1)
	case a <= th.Down && b <= th.Down:
		return model.TierAt(current.Level() - 1)
	}
	return current
}

// Advance records score in the rolling window and applies NextTier. The
// window keeps the last two scores and restarts whenever the tier changes,
// so each move needs two fresh scores.
func Advance(state model.AdaptiveState, score float64, th model.Thresholds) model.AdaptiveState {
	recent := append(slices.Clone(state.Recent), score)
	if len(recent) > 2 {
		recent = recent[len(recent)-2:]
	}
	next := NextTier(recent, state.Tier, th)
	if next != state.Tier {
		recent = nil
	}
	return model.AdaptiveState{Tier: next, Recent: recent}
}

// NextRequest asks for one more adaptive plan entry.
type NextRequest struct {
	Topics   []string
	Tier     model.Difficulty
	Selected map[string]int // planned questions per topic
	Excluded []int64
	Seed     uint64
	Position int
}

// Next picks the next adaptive question. The target tier is tried first,
// then the remaining tiers by distance, lower tier first on ties. Within a
// tier the topic with the fewest selected questions wins. It reports false
// when no eligible question is left.
func (s *Selector) Next(ctx context.Context, req NextRequest) (model.Question, bool, error) {
	topics := NormalizeTopics(req.Topics)
	if len(topics) == 0 {
		return model.Question{}, false, model.Invalid("topics", "at least one topic is required")
	}
	if !req.Tier.Valid() {
		return model.Question{}, false, model.Invalid("tier", "unknown tier %q", req.Tier)
	}
	rng := rand.New(rand.NewPCG(req.Seed, uint64(req.Position)+1))

	for _, tier := range byDistance(req.Tier) {
		qs, err := s.repo.Find(ctx, topics, tier, req.Excluded)
		if err != nil {
			return model.Question{}, false, fmt.Errorf("find %s questions: %w", tier, err)
		}
		if len(qs) == 0 {
			continue
		}
		byTopic := make(map[string][]model.Question, len(topics))
		for _, q := range qs {
			byTopic[q.Topic] = append(byTopic[q.Topic], q)
		}
		for _, t := range priority(topics, req.Selected) {
			if bucket := byTopic[t]; len(bucket) > 0 {
				return bucket[rng.IntN(len(bucket))], true, nil
			}
		}
	}
	return model.Question{}, false, nil
}

func byDistance(target model.Difficulty) []model.Difficulty {
	order := slices.Clone(model.Tiers)
	lvl := target.Level()
	slices.SortStableFunc(order, func(a, b model.Difficulty) int {
		return abs(a.Level()-lvl) - abs(b.Level()-lvl)
	})
	return order
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
