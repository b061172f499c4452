package model

import "time"

// Performance levels derived from the overall score.
const (
	LevelExcellent = "excellent"
	LevelGood      = "good"
	LevelAverage   = "average"
	LevelPoor      = "poor"
)

// PerformanceLevel buckets an overall score in [0,1].
func PerformanceLevel(score float64) string {
	switch {
	case score >= 0.9:
		return LevelExcellent
	case score >= 0.7:
		return LevelGood
	case score >= 0.5:
		return LevelAverage
	}
	return LevelPoor
}

// TopicScore is the per-topic breakdown of a report.
type TopicScore struct {
	Topic string  `json:"topic"`
	Mean  float64 `json:"mean"`
	Count int     `json:"count"`
}

// DegradedItem marks a response scored with the neutral fallback.
type DegradedItem struct {
	Position   int   `json:"position"`
	QuestionID int64 `json:"question_id"`
}

// Report is the derived interview summary of a session. It is never stored
// on its own and can be regenerated from the session at any time.
type Report struct {
	SessionID          string         `json:"session_id"`
	Status             SessionStatus  `json:"status"`
	Partial            bool           `json:"partial"`
	Responses          int            `json:"responses"`
	Overall            float64        `json:"overall_score"`
	PerformanceLevel   string         `json:"performance_level"`
	Topics             []TopicScore   `json:"topics"`
	Consistency        *float64       `json:"consistency"`
	Percentile         *float64       `json:"percentile"`
	MultipleChoice     *float64       `json:"multiple_choice_score"`
	OpenEnded          *float64       `json:"open_ended_score"`
	AvgResponseSeconds *float64       `json:"avg_response_seconds"`
	Insights           []string       `json:"insights"`
	AISummary          string         `json:"ai_summary,omitempty"`
	Degraded           []DegradedItem `json:"degraded,omitempty"`
	GeneratedAt        time.Time      `json:"generated_at"`
}
