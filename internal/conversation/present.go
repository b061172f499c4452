package conversation

import (
	"context"
	"strings"

	"github.com/pavelanni/interviewer/internal/i18n"
	"github.com/pavelanni/interviewer/internal/model"
)

// Render formats q as plain text with its number and the lettered options of
// a multiple-choice question.
func Render(ctx context.Context, q model.Question, number, total int) string {
	var sb strings.Builder
	sb.WriteString(i18n.Td(ctx, "QuestionHeader", map[string]any{"Number": number, "Total": total}))
	sb.WriteString("\n\n")
	sb.WriteString(strings.TrimSpace(q.Prompt))
	if q.Type == model.QuestionMultipleChoice {
		sb.WriteString("\n")
		for _, o := range q.Options {
			sb.WriteString("\n" + o.Key + ". " + o.Text)
		}
	}
	return sb.String()
}
