package selector

import (
	"context"
	"fmt"

	"github.com/pavelanni/interviewer/internal/model"
)

// TopicStats counts the available questions of one topic.
type TopicStats struct {
	Total  int                        `json:"total"`
	ByType map[model.QuestionType]int `json:"by_type"`
	ByTier map[model.Difficulty]int   `json:"by_tier"`
}

// PoolStats summarizes the question pool for a set of topics.
type PoolStats struct {
	Total   int                   `json:"total"`
	ByTopic map[string]TopicStats `json:"by_topic"`
}

// Stats counts the questions available for topics.
func (s *Selector) Stats(ctx context.Context, topics []string) (PoolStats, error) {
	topics = NormalizeTopics(topics)
	if len(topics) == 0 {
		return PoolStats{}, model.Invalid("topics", "at least one topic is required")
	}
	stats := PoolStats{ByTopic: make(map[string]TopicStats, len(topics))}
	for _, t := range topics {
		stats.ByTopic[t] = TopicStats{
			ByType: make(map[model.QuestionType]int),
			ByTier: make(map[model.Difficulty]int),
		}
	}
	for _, tier := range model.Tiers {
		qs, err := s.repo.Find(ctx, topics, tier, nil)
		if err != nil {
			return PoolStats{}, fmt.Errorf("find %s questions: %w", tier, err)
		}
		for _, q := range qs {
			ts, ok := stats.ByTopic[q.Topic]
			if !ok {
				continue
			}
			ts.Total++
			ts.ByType[q.Type]++
			ts.ByTier[q.Difficulty]++
			stats.ByTopic[q.Topic] = ts
			stats.Total++
		}
	}
	return stats, nil
}
