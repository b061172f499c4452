package selector

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/pavelanni/interviewer/internal/model"
)

// pool holds shuffled eligible questions keyed by tier, then topic.
type pool map[model.Difficulty]map[string][]model.Question

func (p pool) size() int {
	n := 0
	for _, byTopic := range p {
		for _, qs := range byTopic {
			n += len(qs)
		}
	}
	return n
}

// fetch loads eligible questions for every tier and shuffles each (tier,
// topic) bucket. Iteration order is fixed so a seed reproduces the same pool.
func (s *Selector) fetch(ctx context.Context, topics []string, tiers []model.Difficulty, excluded []int64, rng *rand.Rand) (pool, error) {
	p := make(pool, len(tiers))
	for _, tier := range tiers {
		qs, err := s.repo.Find(ctx, topics, tier, excluded)
		if err != nil {
			return nil, fmt.Errorf("find %s questions: %w", tier, err)
		}
		byTopic := make(map[string][]model.Question, len(topics))
		for _, q := range qs {
			byTopic[q.Topic] = append(byTopic[q.Topic], q)
		}
		for _, t := range topics {
			bucket := byTopic[t]
			rng.Shuffle(len(bucket), func(i, j int) {
				bucket[i], bucket[j] = bucket[j], bucket[i]
			})
		}
		p[tier] = byTopic
	}
	return p, nil
}

// picker draws from a pool, keeping per-topic coverage balanced.
type picker struct {
	topics []string
	pool   pool
	counts map[string]int
	seen   map[int64]bool
	chosen []model.Question
}

func newPicker(topics []string, p pool) *picker {
	return &picker{
		topics: topics,
		pool:   p,
		counts: make(map[string]int, len(topics)),
		seen:   make(map[int64]bool),
	}
}

// priority orders topics by fewest selected so far; ties keep the caller's
// topic order.
func priority(topics []string, counts map[string]int) []string {
	order := slices.Clone(topics)
	slices.SortStableFunc(order, func(a, b string) int {
		return counts[a] - counts[b]
	})
	return order
}

// pick takes one question of the given tier from the highest-priority topic
// that still has one.
func (p *picker) pick(tier model.Difficulty) (model.Question, bool) {
	byTopic := p.pool[tier]
	for _, t := range priority(p.topics, p.counts) {
		for len(byTopic[t]) > 0 {
			q := byTopic[t][0]
			byTopic[t] = byTopic[t][1:]
			if p.seen[q.ID] {
				continue
			}
			p.seen[q.ID] = true
			p.counts[t]++
			p.chosen = append(p.chosen, q)
			return q, true
		}
	}
	return model.Question{}, false
}
