package prompts

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/interviewer/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

const maxAnswerRunes = 10000

var (
	candidateAnswerRegex    = regexp.MustCompile(`(?i)</?\s*candidate-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
	codeFenceRegex          = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
)

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[string]*template.Template
)

var funcs = template.FuncMap{"join": strings.Join}

// JudgeData holds template data for the judgment prompt.
type JudgeData struct {
	Prompt string
	Rubric string
	Answer string
}

// SummaryItem is one answered question in the summary prompt.
type SummaryItem struct {
	Number     int
	Topic      string
	Type       model.QuestionType
	Difficulty model.Difficulty
	Percent    float64
	Pending    bool
	Feedback   string
}

// SummaryData holds template data for the summary prompt.
type SummaryData struct {
	Candidate string
	Topics    []string
	Status    model.SessionStatus
	Items     []SummaryItem
}

// Load parses the embedded prompt templates. It is safe to call repeatedly.
func Load() error {
	loadOnce.Do(func() {
		templates = make(map[string]*template.Template)
		for _, name := range []string{"judge", "clarify", "summarize"} {
			file := "templates/" + name + ".txt"
			content, err := templateFS.ReadFile(file)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", file, err)
				return
			}
			tmpl, err := template.New(name).Funcs(funcs).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", file, err)
				return
			}
			templates[name] = tmpl
		}
	})
	return loadErr
}

func execute(name string, data any) (string, error) {
	if err := Load(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := templates[name].Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return buf.String(), nil
}

// BuildJudge renders the prompt asking for a three-dimension judgment.
func BuildJudge(prompt, rubric, answer string) (string, error) {
	return execute("judge", JudgeData{
		Prompt: prompt,
		Rubric: rubric,
		Answer: sanitizeAnswer(answer),
	})
}

// BuildClarify renders the system prompt for clarification exchanges on q.
// Correct options and reference answers never reach it.
func BuildClarify(q model.Question) (string, error) {
	return execute("clarify", model.Question{Prompt: q.Prompt, Options: q.Options})
}

// BuildSummary renders the prompt for a narrative summary of a session.
func BuildSummary(s *model.Session) (string, error) {
	data := SummaryData{
		Candidate: s.Candidate.Name,
		Topics:    s.Topics,
		Status:    s.Status,
	}
	for i, r := range s.Responses {
		ev := s.EffectiveEvaluation(i)
		data.Items = append(data.Items, SummaryItem{
			Number:     r.Position + 1,
			Topic:      r.Topic,
			Type:       r.Type,
			Difficulty: r.Difficulty,
			Percent:    ev.Combined * 100,
			Pending:    ev.Pending,
			Feedback:   ev.Feedback,
		})
	}
	return execute("summarize", data)
}

// CandidateMessage wraps untrusted candidate text for inclusion in a
// conversation.
func CandidateMessage(text string) string {
	return "<candidate-answer>\n" + sanitizeAnswer(text) + "\n</candidate-answer>"
}

type judgment struct {
	Accuracy      *float64 `json:"accuracy"`
	Completeness  *float64 `json:"completeness"`
	Communication *float64 `json:"communication"`
	Feedback      string   `json:"feedback"`
}

// ParseJudgment decodes a model reply into a Judgment. Code fences and text
// around the JSON object are tolerated; range checks are left to the caller.
func ParseJudgment(raw string) (model.Judgment, error) {
	body := extractJSON(raw)
	if body == "" {
		return model.Judgment{}, errors.New("no JSON object in model reply")
	}
	var j judgment
	if err := json.Unmarshal([]byte(body), &j); err != nil {
		return model.Judgment{}, fmt.Errorf("parse judgment: %w", err)
	}
	return model.Judgment{
		Accuracy:      j.Accuracy,
		Completeness:  j.Completeness,
		Communication: j.Communication,
		Feedback:      strings.TrimSpace(j.Feedback),
	}, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := codeFenceRegex.FindStringSubmatch(raw); m != nil {
		raw = strings.TrimSpace(m[1])
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return ""
	}
	return raw[start : end+1]
}

func sanitizeAnswer(answer string) string {
	answer = candidateAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
