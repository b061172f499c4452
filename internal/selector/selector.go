// Package selector builds interview question plans from a question pool.
package selector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"github.com/pavelanni/interviewer/internal/model"
)

// QuestionFinder is the question repository as seen by the selector.
// Find must return questions in a stable order for a given input.
type QuestionFinder interface {
	Find(ctx context.Context, topics []string, tier model.Difficulty, excluded []int64) ([]model.Question, error)
}

// Selector chooses questions for a session plan.
type Selector struct {
	repo       QuestionFinder
	ratio      model.TierRatio
	thresholds model.Thresholds
	seedBatch  int

	mu    sync.Mutex
	seeds *rand.Rand
}

// New creates a Selector. A zero cfg.Seed draws session seeds at random.
func New(repo QuestionFinder, cfg model.EngineConfig) *Selector {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	batch := cfg.SeedBatch
	if batch < 1 {
		batch = 1
	}
	return &Selector{
		repo:       repo,
		ratio:      cfg.Ratio,
		thresholds: cfg.Thresholds,
		seedBatch:  batch,
		seeds:      rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

// Thresholds returns the adaptive policy thresholds.
func (s *Selector) Thresholds() model.Thresholds {
	return s.thresholds
}

// Request describes a plan to build.
type Request struct {
	Topics     []string
	Count      int
	Mode       model.DifficultyMode
	Difficulty model.Difficulty // fixed mode only
	Excluded   []int64
	Seed       uint64 // zero draws a fresh seed
}

// Plan is the result of Select.
type Plan struct {
	Questions []model.Question
	Shortfall map[string]int
	Seed      uint64
	Strategy  string
}

// IDs returns the plan's question identifiers in order.
func (p Plan) IDs() []int64 {
	ids := make([]int64, len(p.Questions))
	for i, q := range p.Questions {
		ids[i] = q.ID
	}
	return ids
}

// NormalizeTopics trims, drops empties and de-duplicates topics, keeping
// first-seen order.
func NormalizeTopics(topics []string) []string {
	out := make([]string, 0, len(topics))
	seen := make(map[string]bool, len(topics))
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Select builds an ordered question plan. In adaptive mode only the seed
// batch is chosen; later entries come from Next.
func (s *Selector) Select(ctx context.Context, req Request) (Plan, error) {
	topics := NormalizeTopics(req.Topics)
	if len(topics) == 0 {
		return Plan{}, model.Invalid("topics", "at least one topic is required")
	}
	if req.Count <= 0 {
		return Plan{}, model.Invalid("count", "must be positive, got %d", req.Count)
	}

	var targets map[model.Difficulty]int
	var strategy string
	switch req.Mode {
	case model.ModeFixed:
		if !req.Difficulty.Valid() {
			return Plan{}, model.Invalid("difficulty", "unknown tier %q", req.Difficulty)
		}
		targets = map[model.Difficulty]int{req.Difficulty: req.Count}
		strategy = "fixed difficulty: " + string(req.Difficulty)
	case model.ModeMixed, "":
		targets = allocate(req.Count, s.ratio)
		strategy = "mixed difficulty with balanced topic coverage"
	case model.ModeAdaptive:
		targets = map[model.Difficulty]int{model.DifficultyMedium: min(s.seedBatch, req.Count)}
		strategy = "adaptive, seeded at medium"
	default:
		return Plan{}, model.Invalid("difficulty_mode", "unknown mode %q", req.Mode)
	}

	seed := req.Seed
	if seed == 0 {
		seed = s.nextSeed()
	}
	rng := rand.New(rand.NewPCG(seed, 0))

	tiers := tiersToFetch(req.Mode, targets)
	avail, err := s.fetch(ctx, topics, tiers, req.Excluded, rng)
	if err != nil {
		return Plan{}, err
	}
	if avail.size() == 0 {
		return Plan{}, fmt.Errorf("%w: no eligible questions for topics %v", model.ErrInsufficientPool, topics)
	}

	p := newPicker(topics, avail)
	wanted := 0
	unfilled := 0
	for _, tier := range model.Tiers {
		for range targets[tier] {
			wanted++
			if _, ok := p.pick(tier); !ok {
				unfilled++
			}
		}
	}

	if unfilled > 0 && req.Mode != model.ModeFixed {
		order := topUpOrder(s.ratio)
		for ; unfilled > 0; unfilled-- {
			found := false
			for _, tier := range order {
				if _, ok := p.pick(tier); ok {
					found = true
					break
				}
			}
			if !found {
				break
			}
		}
	}

	plan := Plan{
		Questions: p.chosen,
		Shortfall: shortfall(topics, wanted, p.counts),
		Seed:      seed,
		Strategy:  strategy,
	}
	if len(plan.Questions) < wanted {
		slog.Warn("question pool could not satisfy request",
			"wanted", wanted, "selected", len(plan.Questions), "shortfall", plan.Shortfall)
	}
	slog.Debug("selected questions", "count", len(plan.Questions), "strategy", strategy, "seed", seed)
	return plan, nil
}

func (s *Selector) nextSeed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if v := s.seeds.Uint64(); v != 0 {
			return v
		}
	}
}

// allocate splits count across tiers by ratio, rounding down, and gives the
// remainder to the tier with the largest share.
func allocate(count int, r model.TierRatio) map[model.Difficulty]int {
	out := make(map[model.Difficulty]int, len(model.Tiers))
	assigned := 0
	for _, t := range model.Tiers {
		n := int(math.Floor(float64(count)*r.Of(t) + 1e-9))
		out[t] = n
		assigned += n
	}
	out[topUpOrder(r)[0]] += count - assigned
	return out
}

// topUpOrder returns tiers by descending ratio share; ties keep tier order.
func topUpOrder(r model.TierRatio) []model.Difficulty {
	order := slices.Clone(model.Tiers)
	slices.SortStableFunc(order, func(a, b model.Difficulty) int {
		switch ra, rb := r.Of(a), r.Of(b); {
		case ra > rb:
			return -1
		case ra < rb:
			return 1
		}
		return 0
	})
	return order
}

func tiersToFetch(mode model.DifficultyMode, targets map[model.Difficulty]int) []model.Difficulty {
	if mode != model.ModeFixed {
		return model.Tiers
	}
	var out []model.Difficulty
	for _, t := range model.Tiers {
		if _, ok := targets[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// shortfall reports, per topic, how far the selection fell below an even
// split of wanted across topics.
func shortfall(topics []string, wanted int, counts map[string]int) map[string]int {
	out := make(map[string]int)
	for i, t := range topics {
		quota := wanted / len(topics)
		if i < wanted%len(topics) {
			quota++
		}
		if missing := quota - counts[t]; missing > 0 {
			out[t] = missing
		}
	}
	return out
}
