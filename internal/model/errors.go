package model

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed configuration or input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an unknown session or question id.
	ErrNotFound = errors.New("not found")
	// ErrStorage marks a backing store failure.
	ErrStorage = errors.New("storage error")
	// ErrInsufficientPool marks a request with zero eligible questions.
	ErrInsufficientPool = errors.New("insufficient question pool")
	// ErrInvalidState marks an operation called outside its valid state.
	ErrInvalidState = errors.New("invalid state")
	// ErrClarificationLimit marks a clarification request past the per-question cap.
	ErrClarificationLimit = errors.New("clarification limit exceeded")
	// ErrConcurrencyConflict marks a mutating call on a session already being mutated.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrEvaluationDegraded marks a non-fatal evaluation fallback.
	ErrEvaluationDegraded = errors.New("evaluation degraded")
)

// ValidationError describes a rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Invalid returns a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// DegradedError reports that a question was scored with the neutral fallback.
type DegradedError struct {
	QuestionID int64
	Cause      error
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("evaluation degraded for question %d: %v", e.QuestionID, e.Cause)
}

// Is lets errors.Is match both ErrEvaluationDegraded and the cause chain.
func (e *DegradedError) Is(target error) bool {
	return target == ErrEvaluationDegraded
}

func (e *DegradedError) Unwrap() error {
	return e.Cause
}

// StateError reports an operation attempted in the wrong phase.
type StateError struct {
	Op    string
	Phase Phase
}

func (e *StateError) Error() string {
	return fmt.Sprintf("invalid state: %s not allowed in phase %s", e.Op, e.Phase)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidState
}
