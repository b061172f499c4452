package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/pavelanni/interviewer/internal/conversation"
	appI18n "github.com/pavelanni/interviewer/internal/i18n"
	"github.com/pavelanni/interviewer/internal/model"
)

const (
	actionClarify = "Ask a clarifying question"
	actionQuit    = "Abandon the interview"
	quitCommand   = ":quit"
)

func interviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interview",
		Short: "Run an interview in the terminal",
		RunE:  runInterview,
	}
	f := cmd.Flags()
	f.String("db", "interviewer.db", "SQLite database path")
	f.StringP("lang", "l", "en", "Language of generated text (en, ru)")
	f.String("name", "", "Candidate name (required)")
	f.String("email", "", "Candidate email")
	f.StringSliceP("topic", "t", nil, "Interview topics (repeatable)")
	f.IntP("count", "n", 5, "Number of questions")
	f.String("mode", string(model.ModeMixed), "Difficulty mode (fixed, mixed, adaptive)")
	f.StringP("difficulty", "d", "", "Tier for fixed mode (easy, medium, hard)")
	addLLMFlags(f)
	addEngineFlags(f)
	addLogFlags(f)

	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func runInterview(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	cfg, err := engineConfig(v)
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	ctx = appI18n.WithLanguage(ctx, v.GetString("lang"))

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	ai, err := newAIClient(ctx, v)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	conv, _ := newConversation(db, ai, cfg)

	sess, err := conv.CreateSession(ctx, conversation.NewSession{
		Candidate:  model.Candidate{Name: v.GetString("name"), Email: v.GetString("email")},
		Topics:     v.GetStringSlice("topic"),
		Count:      v.GetInt("count"),
		Mode:       model.DifficultyMode(v.GetString("mode")),
		Difficulty: model.Difficulty(v.GetString("difficulty")),
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if sess, err = conv.Start(ctx, sess.ID); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	t := &terminal{conv: conv, sessionID: sess.ID, out: cmd.OutOrStdout()}
	if len(sess.Shortfall) > 0 {
		fmt.Fprintf(t.out, "Not enough questions for every topic, missing: %v\n", sess.Shortfall)
	}
	if err := t.run(ctx); err != nil {
		return err
	}

	rep, err := conv.Report(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	fmt.Fprintf(t.out, "\nSession %s\n", sess.ID)
	for _, line := range rep.Insights {
		fmt.Fprintln(t.out, line)
	}
	if rep.AISummary != "" {
		fmt.Fprintf(t.out, "\n%s\n", rep.AISummary)
	}
	return nil
}

// terminal drives one session through interactive prompts.
type terminal struct {
	conv      *conversation.Handler
	sessionID string
	out       io.Writer
}

func (t *terminal) run(ctx context.Context) error {
	for {
		p, err := t.conv.CurrentQuestion(ctx, t.sessionID)
		if errors.Is(err, model.ErrInvalidState) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(t.out, "\n%s\n\n", p.Text)

		started := time.Now()
		answer, quit, err := t.ask(ctx, p)
		if err != nil {
			return err
		}
		if quit {
			_, err := t.conv.Abandon(ctx, t.sessionID)
			return err
		}
		answer.TimeSpent = time.Since(started)

		res, err := t.conv.SubmitAnswer(ctx, t.sessionID, answer)
		if err != nil {
			return err
		}
		fmt.Fprintf(t.out, "Score: %.0f%%", res.Evaluation.Combined*100)
		if res.Evaluation.Pending {
			fmt.Fprint(t.out, " (evaluation pending)")
		}
		fmt.Fprintln(t.out)
		if res.Evaluation.Feedback != "" {
			fmt.Fprintln(t.out, res.Evaluation.Feedback)
		}
	}
}

// ask prompts until the candidate answers or quits. Clarification requests
// are handled in place.
func (t *terminal) ask(ctx context.Context, p model.Presentation) (model.Answer, bool, error) {
	for {
		if p.Question.Type == model.QuestionMultipleChoice {
			items := make([]string, 0, len(p.Question.Options)+2)
			for _, o := range p.Question.Options {
				items = append(items, o.Key+". "+o.Text)
			}
			items = append(items, actionClarify, actionQuit)

			sel := promptui.Select{Label: "Your answer", Items: items, Size: len(items)}
			i, choice, err := sel.Run()
			if err != nil {
				return model.Answer{}, interrupted(err), ignoreInterrupt(err)
			}
			switch choice {
			case actionQuit:
				return model.Answer{}, true, nil
			case actionClarify:
				q := promptui.Prompt{Label: "Question", Validate: nonEmpty}
				query, err := q.Run()
				if err != nil {
					return model.Answer{}, interrupted(err), ignoreInterrupt(err)
				}
				if err := t.clarify(ctx, query); err != nil {
					return model.Answer{}, false, err
				}
				continue
			}
			return model.Answer{SelectedOption: p.Question.Options[i].Key}, false, nil
		}

		prompt := promptui.Prompt{
			Label:    "Answer (start with ? to ask a question, " + quitCommand + " to stop)",
			Validate: nonEmpty,
		}
		text, err := prompt.Run()
		if err != nil {
			return model.Answer{}, interrupted(err), ignoreInterrupt(err)
		}
		text = strings.TrimSpace(text)
		switch {
		case text == quitCommand:
			return model.Answer{}, true, nil
		case strings.HasPrefix(text, "?"):
			if err := t.clarify(ctx, strings.TrimPrefix(text, "?")); err != nil {
				return model.Answer{}, false, err
			}
			continue
		}
		return model.Answer{Text: text}, false, nil
	}
}

func (t *terminal) clarify(ctx context.Context, query string) error {
	c, err := t.conv.RequestClarification(ctx, t.sessionID, query)
	switch {
	case errors.Is(err, model.ErrClarificationLimit):
		fmt.Fprintln(t.out, "No more clarifications for this question.")
		return nil
	case errors.Is(err, model.ErrValidation):
		fmt.Fprintln(t.out, err)
		return nil
	case err != nil:
		return err
	}
	fmt.Fprintf(t.out, "\n%s\n\n", c.Reply)
	return nil
}

func nonEmpty(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("must not be empty")
	}
	return nil
}

// interrupted treats Ctrl-C and Ctrl-D as a request to stop the interview.
func interrupted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF)
}

func ignoreInterrupt(err error) error {
	if interrupted(err) {
		return nil
	}
	return err
}
