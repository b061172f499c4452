package model

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// TierRatio is the target share of each tier in mixed mode.
type TierRatio struct {
	Easy   float64 `mapstructure:"easy" validate:"gte=0,lte=1"`
	Medium float64 `mapstructure:"medium" validate:"gte=0,lte=1"`
	Hard   float64 `mapstructure:"hard" validate:"gte=0,lte=1"`
}

// Of returns the share configured for tier d.
func (r TierRatio) Of(d Difficulty) float64 {
	switch d {
	case DifficultyEasy:
		return r.Easy
	case DifficultyMedium:
		return r.Medium
	case DifficultyHard:
		return r.Hard
	}
	return 0
}

// Thresholds bound the adaptive tier policy.
type Thresholds struct {
	Up   float64 `mapstructure:"up" validate:"gte=0,lte=1"`
	Down float64 `mapstructure:"down" validate:"gte=0,lte=1,ltfield=Up"`
}

// Weights combine the three evaluation dimensions into a single score.
type Weights struct {
	Accuracy      float64 `mapstructure:"accuracy" validate:"gte=0"`
	Completeness  float64 `mapstructure:"completeness" validate:"gte=0"`
	Communication float64 `mapstructure:"communication" validate:"gte=0"`
}

// Combine returns the weighted average of s.
func (w Weights) Combine(s Scores) float64 {
	total := w.Accuracy + w.Completeness + w.Communication
	if total <= 0 {
		return (s.Accuracy + s.Completeness + s.Communication) / 3
	}
	return (w.Accuracy*s.Accuracy + w.Completeness*s.Completeness + w.Communication*s.Communication) / total
}

// EngineConfig holds runtime interview engine parameters set via CLI flags or config file.
type EngineConfig struct {
	ClarificationCap int           `validate:"gte=0"`
	Ratio            TierRatio     `validate:"required"`
	Thresholds       Thresholds    `validate:"required"`
	SeedBatch        int           `validate:"gte=1"`
	Weights          Weights       `validate:"required"`
	AITimeout        time.Duration `validate:"gt=0"`
	RetryDelay       time.Duration `validate:"gte=0"`
	Seed             uint64
	HistoryLimit     int `validate:"gte=0"`
}

// DefaultEngineConfig returns the default policy.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ClarificationCap: 3,
		Ratio:            TierRatio{Easy: 0.3, Medium: 0.5, Hard: 0.2},
		Thresholds:       Thresholds{Up: 0.75, Down: 0.35},
		SeedBatch:        1,
		Weights:          Weights{Accuracy: 1, Completeness: 1, Communication: 1},
		AITimeout:        20 * time.Second,
		RetryDelay:       50 * time.Millisecond,
		HistoryLimit:     8,
	}
}

var validate = newValidator()

// newValidator reports fields by their JSON names where they have one.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks the engine configuration.
func (c EngineConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return toValidationError(err)
	}
	sum := c.Ratio.Easy + c.Ratio.Medium + c.Ratio.Hard
	if math.Abs(sum-1) > 1e-6 {
		return Invalid("Ratio", "tier ratios must sum to 1, got %.3f", sum)
	}
	if c.Weights.Accuracy+c.Weights.Completeness+c.Weights.Communication <= 0 {
		return Invalid("Weights", "at least one weight must be positive")
	}
	return nil
}

// ValidateStruct runs struct-tag validation and maps failures to ValidationError.
func ValidateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return toValidationError(err)
	}
	return nil
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		return Invalid(field, "failed %q check", fe.Tag())
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}
