package model

import (
	"errors"
	"testing"
	"time"
)

func TestEngineConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*EngineConfig)
		wantErr bool
	}{
		{"defaults", func(*EngineConfig) {}, false},
		{"ratios not summing to one", func(c *EngineConfig) { c.Ratio.Hard = 0.5 }, true},
		{"negative ratio", func(c *EngineConfig) { c.Ratio = TierRatio{Easy: -0.1, Medium: 0.6, Hard: 0.5} }, true},
		{"down above up", func(c *EngineConfig) { c.Thresholds = Thresholds{Up: 0.4, Down: 0.6} }, true},
		{"zero weights", func(c *EngineConfig) { c.Weights = Weights{} }, true},
		{"zero seed batch", func(c *EngineConfig) { c.SeedBatch = 0 }, true},
		{"zero timeout", func(c *EngineConfig) { c.AITimeout = 0 }, true},
		{"negative cap", func(c *EngineConfig) { c.ClarificationCap = -1 }, true},
		{"zero cap", func(c *EngineConfig) { c.ClarificationCap = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultEngineConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestValidateStructUsesJSONNames(t *testing.T) {
	err := ValidateStruct(QuestionImport{Topic: "go", Type: QuestionOpenEnded, Difficulty: "extreme", Prompt: "p"})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Field != "difficulty" {
		t.Errorf("field = %q, want difficulty", ve.Field)
	}

	err = ValidateStruct(QuestionImport{
		Topic: "go", Type: QuestionMultipleChoice, Difficulty: DifficultyEasy, Prompt: "p",
		Options: []Option{{Key: "A", Text: "x"}, {Key: "B"}}, CorrectOption: "A",
	})
	if !errors.As(err, &ve) || ve.Field != "options[1].text" {
		t.Errorf("expected options[1].text error, got %v", err)
	}

	err = ValidateStruct(QuestionImport{Topic: "go", Type: QuestionMultipleChoice, Difficulty: DifficultyEasy, Prompt: "p"})
	if !errors.As(err, &ve) || ve.Field != "correct_option" {
		t.Errorf("expected correct_option error, got %v", err)
	}
}

func TestCombine(t *testing.T) {
	s := Scores{Accuracy: 1, Completeness: 0.5, Communication: 0}
	tests := []struct {
		name string
		w    Weights
		want float64
	}{
		{"equal", Weights{1, 1, 1}, 0.5},
		{"accuracy only", Weights{Accuracy: 1}, 1},
		{"weighted", Weights{2, 1, 1}, 0.625},
		{"all zero falls back to equal", Weights{}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.w.Combine(s); got != tt.want {
				t.Errorf("Combine = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTiers(t *testing.T) {
	if TierAt(-1) != DifficultyEasy || TierAt(1) != DifficultyMedium || TierAt(5) != DifficultyHard {
		t.Error("TierAt should clamp to easy..hard")
	}
	if Difficulty("extreme").Valid() || !DifficultyHard.Valid() {
		t.Error("Valid mismatch")
	}
}

func TestPerformanceLevel(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{1, LevelExcellent},
		{0.9, LevelExcellent},
		{0.89, LevelGood},
		{0.7, LevelGood},
		{0.5, LevelAverage},
		{0.49, LevelPoor},
		{0, LevelPoor},
	}
	for _, tt := range tests {
		if got := PerformanceLevel(tt.score); got != tt.want {
			t.Errorf("PerformanceLevel(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestEffectiveEvaluationUsesLatestCorrection(t *testing.T) {
	s := &Session{
		Responses: []Response{
			{Position: 0, Evaluation: Evaluation{Combined: 0.5, Pending: true}},
			{Position: 1, Evaluation: Evaluation{Combined: 0.2}},
		},
		Corrections: []Correction{
			{Position: 0, Evaluation: Evaluation{Combined: 0.7}},
			{Position: 0, Evaluation: Evaluation{Combined: 0.9}},
		},
	}
	if got := s.EffectiveEvaluation(0); got.Combined != 0.9 || got.Pending {
		t.Errorf("EffectiveEvaluation(0) = %+v", got)
	}
	if got := s.EffectiveEvaluation(1); got.Combined != 0.2 {
		t.Errorf("EffectiveEvaluation(1) = %+v", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	s := &Session{
		Topics:    []string{"a"},
		Plan:      []int64{1},
		Adaptive:  &AdaptiveState{Tier: DifficultyMedium, Recent: []float64{0.5}},
		Shortfall: map[string]int{"a": 1},
		StartedAt: &now,
	}
	c := s.Clone()
	c.Topics[0] = "b"
	c.Plan = append(c.Plan, 2)
	c.Adaptive.Recent[0] = 1
	c.Shortfall["a"] = 5
	*c.StartedAt = now.Add(time.Hour)

	if s.Topics[0] != "a" || len(s.Plan) != 1 || s.Adaptive.Recent[0] != 0.5 || s.Shortfall["a"] != 1 || !s.StartedAt.Equal(now) {
		t.Errorf("clone shares state with the original: %+v", s)
	}
}
