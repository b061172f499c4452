package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/pavelanni/interviewer/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestQuestion(t *testing.T, s *Store, prompt string, difficulty model.Difficulty, topic string) int64 {
	t.Helper()
	id, err := s.InsertQuestion(context.Background(), model.Question{
		Topic:       topic,
		Type:        model.QuestionOpenEnded,
		Difficulty:  difficulty,
		Prompt:      prompt,
		Rubric:      "rubric for " + prompt,
		ModelAnswer: "answer for " + prompt,
	})
	if err != nil {
		t.Fatalf("insertTestQuestion: %v", err)
	}
	return id
}

func TestQuestionCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.QuestionCount(ctx)
	if err != nil {
		t.Fatalf("QuestionCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 questions, got %d", count)
	}

	id, err := s.InsertQuestion(ctx, model.Question{
		Topic:         "basics",
		Type:          model.QuestionMultipleChoice,
		Difficulty:    model.DifficultyEasy,
		Prompt:        "What is Go?",
		Options:       []model.Option{{Key: "A", Text: "A language"}, {Key: "B", Text: "A game"}},
		CorrectOption: "A",
	})
	if err != nil {
		t.Fatalf("InsertQuestion: %v", err)
	}
	q, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if q.Prompt != "What is Go?" || q.Difficulty != model.DifficultyEasy || q.Topic != "basics" {
		t.Errorf("unexpected question: %+v", q)
	}
	if len(q.Options) != 2 || q.Options[1].Text != "A game" || q.CorrectOption != "A" {
		t.Errorf("options not round-tripped: %+v", q)
	}

	_, err = s.Get(ctx, 9999)
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	insertTestQuestion(t, s, "What is a goroutine?", model.DifficultyMedium, "concurrency")
	list, err := s.ListQuestions(ctx, "")
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(list))
	}
	if len(list[1].Options) != 0 {
		t.Errorf("open-ended question should have no options, got %v", list[1].Options)
	}
}

func TestFind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	q1 := insertTestQuestion(t, s, "Q1", model.DifficultyEasy, "basics")
	insertTestQuestion(t, s, "Q2", model.DifficultyHard, "basics")
	q3 := insertTestQuestion(t, s, "Q3", model.DifficultyEasy, "concurrency")
	q4 := insertTestQuestion(t, s, "Q4", model.DifficultyEasy, "basics")

	tests := []struct {
		name     string
		topics   []string
		tier     model.Difficulty
		excluded []int64
		want     []int64
	}{
		{"one topic", []string{"basics"}, model.DifficultyEasy, nil, []int64{q1, q4}},
		{"two topics", []string{"basics", "concurrency"}, model.DifficultyEasy, nil, []int64{q1, q3, q4}},
		{"excluded", []string{"basics", "concurrency"}, model.DifficultyEasy, []int64{q1, q3}, []int64{q4}},
		{"no match", []string{"concurrency"}, model.DifficultyHard, nil, nil},
		{"no topics", nil, model.DifficultyEasy, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, err := s.Find(ctx, tt.topics, tt.tier, tt.excluded)
			if err != nil {
				t.Fatalf("Find: %v", err)
			}
			var got []int64
			for _, q := range qs {
				got = append(got, q.ID)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Find = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestListDistinctTopics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	topics, err := s.ListDistinctTopics(ctx)
	if err != nil {
		t.Fatalf("ListDistinctTopics: %v", err)
	}
	if len(topics) != 0 {
		t.Errorf("expected 0 topics, got %d", len(topics))
	}

	insertTestQuestion(t, s, "Q1", model.DifficultyEasy, "basics")
	insertTestQuestion(t, s, "Q2", model.DifficultyEasy, "basics")
	insertTestQuestion(t, s, "Q3", model.DifficultyEasy, "concurrency")
	insertTestQuestion(t, s, "Q4", model.DifficultyEasy, "advanced")
	topics, _ = s.ListDistinctTopics(ctx)
	if !reflect.DeepEqual(topics, []string{"advanced", "basics", "concurrency"}) {
		t.Errorf("expected [advanced basics concurrency], got %v", topics)
	}
}

func testSession(t *testing.T, s *Store) *model.Session {
	t.Helper()
	q1 := insertTestQuestion(t, s, "Q1", model.DifficultyEasy, "A")
	q2 := insertTestQuestion(t, s, "Q2", model.DifficultyEasy, "B")
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	return &model.Session{
		ID:        "s-1",
		Candidate: model.Candidate{Name: "Ada", Email: "ada@example.com"},
		Topics:    []string{"A", "B"},
		Config:    model.SessionConfig{Count: 2, Mode: model.ModeAdaptive, ClarificationCap: 3},
		Seed:      1<<63 + 5,
		Status:    model.StatusCreated,
		Phase:     model.PhaseCreated,
		Plan:      []int64{q1, q2},
		Total:     2,
		Adaptive:  &model.AdaptiveState{Tier: model.DifficultyMedium, Recent: []float64{0.5}},
		Shortfall: map[string]int{"B": 1},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession(t, s)

	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	started := sess.CreatedAt.Add(time.Minute)
	sess.Status = model.StatusInProgress
	sess.Phase = model.PhaseAwaitingAnswer
	sess.StartedAt = &started
	sess.Clarifications = append(sess.Clarifications, model.Clarification{
		Position: 0, Query: "what?", Reply: "this", Fallback: true, At: started,
	})
	sess.Responses = append(sess.Responses, model.Response{
		Position:   0,
		QuestionID: sess.Plan[0],
		Topic:      "A",
		Type:       model.QuestionOpenEnded,
		Difficulty: model.DifficultyEasy,
		Answer:     model.Answer{Text: "because", TimeSpent: 1500 * time.Millisecond},
		Evaluation: model.Evaluation{
			Scores:   model.Scores{Accuracy: 0.5, Completeness: 0.5, Communication: 0.5},
			Combined: 0.5,
			Pending:  true,
		},
		AnsweredAt: started.Add(time.Minute),
	})
	sess.Position = 1
	sess.Corrections = append(sess.Corrections, model.Correction{
		Position:   0,
		Evaluation: model.Evaluation{Scores: model.Scores{Accuracy: 1, Completeness: 0.8, Communication: 0.6}, Combined: 0.8, Feedback: "good"},
		At:         started.Add(2 * time.Minute),
	})
	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Seed != sess.Seed {
		t.Errorf("seed = %d, want %d", got.Seed, sess.Seed)
	}
	if got.Status != model.StatusInProgress || got.Phase != model.PhaseAwaitingAnswer || got.Position != 1 {
		t.Errorf("unexpected state: %s/%s/%d", got.Status, got.Phase, got.Position)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) || got.EndedAt != nil {
		t.Errorf("timestamps not round-tripped: started=%v ended=%v", got.StartedAt, got.EndedAt)
	}
	if !reflect.DeepEqual(got.Topics, sess.Topics) || !reflect.DeepEqual(got.Plan, sess.Plan) || got.Config != sess.Config {
		t.Errorf("plan/config not round-tripped: %+v", got)
	}
	if got.Adaptive == nil || got.Adaptive.Tier != model.DifficultyMedium || !reflect.DeepEqual(got.Adaptive.Recent, []float64{0.5}) {
		t.Errorf("adaptive state = %+v", got.Adaptive)
	}
	if got.Shortfall["B"] != 1 || got.Candidate != sess.Candidate {
		t.Errorf("shortfall/candidate = %v / %+v", got.Shortfall, got.Candidate)
	}
	if len(got.Responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(got.Responses))
	}
	r := got.Responses[0]
	if r.Answer.TimeSpent != 1500*time.Millisecond || !r.Evaluation.Pending || r.Answer.Text != "because" {
		t.Errorf("response not round-tripped: %+v", r)
	}
	if len(got.Clarifications) != 1 || !got.Clarifications[0].Fallback || got.Clarifications[0].Reply != "this" {
		t.Errorf("clarifications = %+v", got.Clarifications)
	}
	if len(got.Corrections) != 1 || got.EffectiveEvaluation(0).Combined != 0.8 {
		t.Errorf("corrections = %+v", got.Corrections)
	}
}

func TestSaveRejectsStaleCopy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession(t, s)
	sess.Status, sess.Phase = model.StatusInProgress, model.PhaseAwaitingAnswer
	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}
	stale := sess.Clone()

	sess.Responses = append(sess.Responses, model.Response{
		Position: 0, QuestionID: sess.Plan[0], Topic: "A", Type: model.QuestionOpenEnded,
		Difficulty: model.DifficultyEasy, AnsweredAt: time.Now(),
	})
	sess.Position = 1
	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := s.Save(ctx, stale); !errors.Is(err, model.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict for stale copy, got %v", err)
	}
	got, _ := s.Load(ctx, sess.ID)
	if got.Position != 1 || len(got.Responses) != 1 {
		t.Errorf("stale save overwrote the session: position=%d responses=%d", got.Position, len(got.Responses))
	}
}

func TestLoadUnknownSession(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load(context.Background(), "nope")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHistoricalScores(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	q := insertTestQuestion(t, s, "Q", model.DifficultyEasy, "A")

	save := func(id string, topics []string, status model.SessionStatus, combined ...float64) {
		t.Helper()
		sess := &model.Session{
			ID: id, Candidate: model.Candidate{Name: id}, Topics: topics, Status: status,
			Phase: model.PhaseCompleted, CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}
		for i, c := range combined {
			sess.Plan = append(sess.Plan, q)
			sess.Responses = append(sess.Responses, model.Response{
				Position: i, QuestionID: q, Topic: topics[0], Type: model.QuestionOpenEnded,
				Difficulty: model.DifficultyEasy, Evaluation: model.Evaluation{Combined: c}, AnsweredAt: time.Now(),
			})
		}
		sess.Position, sess.Total = len(combined), len(combined)
		if err := s.Save(ctx, sess); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	save("s1", []string{"A"}, model.StatusCompleted, 1.0, 0.5)
	save("s2", []string{"B", "A"}, model.StatusCompleted, 0.2)
	save("s3", []string{"C"}, model.StatusCompleted, 0.9)
	save("s4", []string{"A"}, model.StatusAbandoned, 0.1)

	got, err := s.Scores(ctx, []string{"A"}, "")
	if err != nil {
		t.Fatalf("Scores: %v", err)
	}
	if !reflect.DeepEqual(got, []float64{0.2, 0.75}) {
		t.Errorf("Scores(A) = %v, want [0.2 0.75]", got)
	}

	got, err = s.Scores(ctx, []string{"A"}, "s1")
	if err != nil {
		t.Fatalf("Scores: %v", err)
	}
	if !reflect.DeepEqual(got, []float64{0.2}) {
		t.Errorf("Scores(A) without s1 = %v, want [0.2]", got)
	}

	ids, err := s.ListSessionIDs(ctx, "A")
	if err != nil {
		t.Fatalf("ListSessionIDs: %v", err)
	}
	if len(ids) != 3 {
		t.Errorf("expected 3 sessions covering A, got %v", ids)
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hash, err := s.GetImportedFileHash(ctx, "/some/path.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "" {
		t.Errorf("expected empty hash, got %q", hash)
	}

	if err := s.SetImportedFileHash(ctx, "/some/path.json", "abc123"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	hash, _ = s.GetImportedFileHash(ctx, "/some/path.json")
	if hash != "abc123" {
		t.Errorf("expected 'abc123', got %q", hash)
	}

	if err := s.SetImportedFileHash(ctx, "/some/path.json", "def456"); err != nil {
		t.Fatalf("SetImportedFileHash update: %v", err)
	}
	hash, _ = s.GetImportedFileHash(ctx, "/some/path.json")
	if hash != "def456" {
		t.Errorf("expected 'def456', got %q", hash)
	}
}

const yamlBank = `
- topic: go
  type: multiple_choice
  difficulty: easy
  prompt: Which keyword starts a goroutine?
  options:
    - {key: A, text: go}
    - {key: B, text: async}
  correct_option: A
- topic: go
  type: open_ended
  difficulty: hard
  prompt: Explain the scheduler.
  rubric: Mentions M, P and G.
`

const jsonBank = `[{"topic": "sql", "type": "open_ended", "difficulty": "medium", "prompt": "What is an index?"}]`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestImportFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	yamlPath := writeFile(t, "bank.yaml", yamlBank)
	res, err := s.ImportFile(ctx, yamlPath)
	if err != nil {
		t.Fatalf("ImportFile yaml: %v", err)
	}
	if res.Imported != 2 || res.Skipped {
		t.Errorf("unexpected result: %+v", res)
	}

	res, err = s.ImportFile(ctx, writeFile(t, "bank.json", jsonBank))
	if err != nil {
		t.Fatalf("ImportFile json: %v", err)
	}
	if res.Imported != 1 {
		t.Errorf("expected 1 imported, got %+v", res)
	}

	qs, err := s.Find(ctx, []string{"go"}, model.DifficultyEasy, nil)
	if err != nil || len(qs) != 1 {
		t.Fatalf("Find after import: %v %v", qs, err)
	}
	if qs[0].CorrectOption != "A" || len(qs[0].Options) != 2 {
		t.Errorf("imported question lost options: %+v", qs[0])
	}

	res, err = s.ImportFile(ctx, yamlPath)
	if err != nil || !res.Skipped || res.Reason != "unchanged" {
		t.Errorf("re-import unchanged: %+v, %v", res, err)
	}

	if err := os.WriteFile(yamlPath, []byte(yamlBank+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err = s.ImportFile(ctx, yamlPath)
	if err != nil || !res.Skipped || res.Reason != "changed since last import" {
		t.Errorf("re-import changed: %+v, %v", res, err)
	}

	count, _ := s.QuestionCount(ctx)
	if count != 3 {
		t.Errorf("expected 3 questions, got %d", count)
	}
}

func TestParseQuestionsValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing prompt", `[{"topic": "a", "type": "open_ended", "difficulty": "easy"}]`},
		{"bad tier", `[{"topic": "a", "type": "open_ended", "difficulty": "extreme", "prompt": "p"}]`},
		{"bad type", `[{"topic": "a", "type": "essay", "difficulty": "easy", "prompt": "p"}]`},
		{"mc without options", `[{"topic": "a", "type": "multiple_choice", "difficulty": "easy", "prompt": "p", "correct_option": "A"}]`},
		{"mc wrong key", `[{"topic": "a", "type": "multiple_choice", "difficulty": "easy", "prompt": "p",
			"options": [{"key": "A", "text": "x"}, {"key": "B", "text": "y"}], "correct_option": "C"}]`},
		{"duplicate keys", `[{"topic": "a", "type": "multiple_choice", "difficulty": "easy", "prompt": "p",
			"options": [{"key": "A", "text": "x"}, {"key": "A", "text": "y"}], "correct_option": "A"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQuestions("bank.json", []byte(tt.body))
			if !errors.Is(err, model.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}

	if _, err := ParseQuestions("bank.json", []byte("{not json")); err == nil {
		t.Error("expected parse error")
	}
}

func TestExportSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess := testSession(t, s)
	sess.Status, sess.Phase = model.StatusInProgress, model.PhaseAwaitingAnswer
	sess.Clarifications = []model.Clarification{{Position: 0, Query: "q?", Reply: "r.", At: time.Now()}}
	sess.Responses = []model.Response{{
		Position: 0, QuestionID: sess.Plan[0], Topic: "A", Type: model.QuestionOpenEnded,
		Difficulty: model.DifficultyEasy, Answer: model.Answer{Text: "ans"}, AnsweredAt: time.Now(),
	}}
	sess.Position = 1
	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := s.ExportSessions(ctx, "")
	if err != nil {
		t.Fatalf("ExportSessions: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 session, got %d", len(out))
	}
	qs := out[0].Questions
	if len(qs) != 2 {
		t.Fatalf("expected answered and current question, got %d", len(qs))
	}
	conv := qs[0].Conversation
	if len(conv) != 3 || conv[0].Role != "candidate" || conv[1].Content != "r." || conv[2].Content != "ans" {
		t.Errorf("unexpected conversation: %+v", conv)
	}
	if qs[0].Rubric == "" {
		t.Error("export should include reviewer-only fields")
	}

	none, err := s.ExportSessions(ctx, "Z")
	if err != nil || len(none) != 0 {
		t.Errorf("ExportSessions(Z) = %v, %v", none, err)
	}
}
