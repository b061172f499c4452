package model

import "time"

// Export is the top-level JSON structure for session export.
type Export struct {
	ExportedAt time.Time       `json:"exported_at"`
	Topic      string          `json:"topic,omitempty"`
	Sessions   []SessionExport `json:"sessions"`
}

// SessionExport holds one session together with its questions and report.
type SessionExport struct {
	Session   *Session         `json:"session"`
	Questions []QuestionExport `json:"questions"`
	Report    *Report          `json:"report,omitempty"`
}

// QuestionExport holds per-question data for export, including the
// reviewer-only fields hidden from candidates.
type QuestionExport struct {
	Position      int               `json:"position"`
	ID            int64             `json:"id"`
	Topic         string            `json:"topic"`
	Type          QuestionType      `json:"type"`
	Difficulty    Difficulty        `json:"difficulty"`
	Prompt        string            `json:"prompt"`
	CorrectOption string            `json:"correct_option,omitempty"`
	Rubric        string            `json:"rubric,omitempty"`
	ModelAnswer   string            `json:"model_answer,omitempty"`
	Conversation  []ConversationMsg `json:"conversation"`
}

// ConversationMsg is a single message in an exported conversation.
type ConversationMsg struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}
