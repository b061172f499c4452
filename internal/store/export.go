package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/interviewer/internal/model"
)

// ExportSessions builds export-ready records of all sessions, optionally
// limited to sessions covering topic. Reports are left for the caller.
func (s *Store) ExportSessions(ctx context.Context, topic string) ([]model.SessionExport, error) {
	ids, err := s.ListSessionIDs(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var results []model.SessionExport
	for _, id := range ids {
		sess, err := s.Load(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", id, err)
		}

		var questions []model.QuestionExport
		for pos, qid := range sess.Plan {
			if pos >= len(sess.Responses) && pos != sess.Position {
				break
			}
			q, err := s.Get(ctx, qid)
			if err != nil {
				return nil, fmt.Errorf("get question %d: %w", qid, err)
			}
			questions = append(questions, model.QuestionExport{
				Position:      pos,
				ID:            q.ID,
				Topic:         q.Topic,
				Type:          q.Type,
				Difficulty:    q.Difficulty,
				Prompt:        q.Prompt,
				CorrectOption: q.CorrectOption,
				Rubric:        q.Rubric,
				ModelAnswer:   q.ModelAnswer,
				Conversation:  conversation(sess, pos),
			})
		}

		results = append(results, model.SessionExport{Session: sess, Questions: questions})
	}
	return results, nil
}

// conversation flattens the clarifications and the answer at pos into
// chronological messages.
func conversation(sess *model.Session, pos int) []model.ConversationMsg {
	var conv []model.ConversationMsg
	for _, c := range sess.Clarifications {
		if c.Position != pos {
			continue
		}
		conv = append(conv,
			model.ConversationMsg{Role: "candidate", Content: c.Query, At: c.At},
			model.ConversationMsg{Role: "interviewer", Content: c.Reply, At: c.At},
		)
	}
	if pos < len(sess.Responses) {
		r := sess.Responses[pos]
		content := r.Answer.Text
		if r.Answer.SelectedOption != "" {
			content = r.Answer.SelectedOption
		}
		conv = append(conv, model.ConversationMsg{Role: "candidate", Content: content, At: r.AnsweredAt})
	}
	return conv
}
