package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pavelanni/interviewer/internal/model"
)

// Save writes the session atomically. Responses, clarifications and
// corrections are append-only: rows already stored are never rewritten, and
// a session holding fewer entries than the stored copy is rejected.
func (s *Store) Save(ctx context.Context, sess *model.Session) error {
	topics, err := json.Marshal(sess.Topics)
	if err != nil {
		return fmt.Errorf("encode topics: %w", err)
	}
	cfg, err := json.Marshal(sess.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	plan, err := json.Marshal(sess.Plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	adaptive, err := nullJSON(sess.Adaptive != nil, sess.Adaptive)
	if err != nil {
		return fmt.Errorf("encode adaptive state: %w", err)
	}
	shortfall, err := nullJSON(len(sess.Shortfall) > 0, sess.Shortfall)
	if err != nil {
		return fmt.Errorf("encode shortfall: %w", err)
	}

	var overall sql.NullFloat64
	if sess.Status == model.StatusCompleted && len(sess.Responses) > 0 {
		overall = sql.NullFloat64{Float64: overallScore(sess), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, candidate_name, candidate_email, topics, config, seed, status, phase, plan,
			total, position, adaptive, shortfall, overall_score, created_at, started_at, ended_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status, phase = excluded.phase, plan = excluded.plan,
			total = excluded.total, position = excluded.position, adaptive = excluded.adaptive,
			overall_score = excluded.overall_score, started_at = excluded.started_at,
			ended_at = excluded.ended_at, updated_at = excluded.updated_at`,
		sess.ID, sess.Candidate.Name, sess.Candidate.Email, string(topics), string(cfg),
		strconv.FormatUint(sess.Seed, 10), sess.Status, sess.Phase, string(plan),
		sess.Total, sess.Position, adaptive, shortfall, overall,
		sess.CreatedAt, nullTime(sess.StartedAt), nullTime(sess.EndedAt), sess.UpdatedAt,
	)
	if err != nil {
		return storageErr("save session "+sess.ID, err)
	}

	for _, t := range sess.Topics {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO session_topics (session_id, topic) VALUES (?, ?)`, sess.ID, t); err != nil {
			return storageErr("save session topics", err)
		}
	}

	n, err := countRows(ctx, tx, "responses", sess.ID)
	if err != nil {
		return err
	}
	if n > len(sess.Responses) {
		return fmt.Errorf("%w: stale copy of session %s has %d responses, stored %d", model.ErrConcurrencyConflict, sess.ID, len(sess.Responses), n)
	}
	for _, r := range sess.Responses[n:] {
		ev := r.Evaluation
		_, err := tx.ExecContext(ctx,
			`INSERT INTO responses (session_id, position, question_id, topic, type, difficulty, answer_text,
				selected_option, time_spent_ms, accuracy, completeness, communication, combined, pending, feedback, answered_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, r.Position, r.QuestionID, r.Topic, r.Type, r.Difficulty, r.Answer.Text,
			r.Answer.SelectedOption, r.Answer.TimeSpent.Milliseconds(),
			ev.Accuracy, ev.Completeness, ev.Communication, ev.Combined, ev.Pending, ev.Feedback, r.AnsweredAt,
		)
		if err != nil {
			return storageErr("save response", err)
		}
	}

	n, err = countRows(ctx, tx, "clarifications", sess.ID)
	if err != nil {
		return err
	}
	for _, c := range sess.Clarifications[min(n, len(sess.Clarifications)):] {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO clarifications (session_id, position, query, reply, fallback, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			sess.ID, c.Position, c.Query, c.Reply, c.Fallback, c.At,
		)
		if err != nil {
			return storageErr("save clarification", err)
		}
	}

	n, err = countRows(ctx, tx, "corrections", sess.ID)
	if err != nil {
		return err
	}
	for _, c := range sess.Corrections[min(n, len(sess.Corrections)):] {
		ev := c.Evaluation
		_, err := tx.ExecContext(ctx,
			`INSERT INTO corrections (session_id, position, accuracy, completeness, communication, combined, pending, feedback, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, c.Position, ev.Accuracy, ev.Completeness, ev.Communication, ev.Combined, ev.Pending, ev.Feedback, c.At,
		)
		if err != nil {
			return storageErr("save correction", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit session "+sess.ID, err)
	}
	return nil
}

// Load returns the stored session with its responses, clarifications and
// corrections.
func (s *Store) Load(ctx context.Context, id string) (*model.Session, error) {
	var (
		sess                    model.Session
		topics, cfg, seed, plan string
		adaptive, shortfall     sql.NullString
		startedAt, endedAt      sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, candidate_name, candidate_email, topics, config, seed, status, phase, plan, total, position,
			adaptive, shortfall, created_at, started_at, ended_at, updated_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Candidate.Name, &sess.Candidate.Email, &topics, &cfg, &seed, &sess.Status, &sess.Phase,
		&plan, &sess.Total, &sess.Position, &adaptive, &shortfall, &sess.CreatedAt, &startedAt, &endedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, storageErr("session "+id, err)
	}

	if err := json.Unmarshal([]byte(topics), &sess.Topics); err != nil {
		return nil, fmt.Errorf("decode topics of session %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(cfg), &sess.Config); err != nil {
		return nil, fmt.Errorf("decode config of session %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(plan), &sess.Plan); err != nil {
		return nil, fmt.Errorf("decode plan of session %s: %w", id, err)
	}
	if sess.Seed, err = strconv.ParseUint(seed, 10, 64); err != nil {
		return nil, fmt.Errorf("decode seed of session %s: %w", id, err)
	}
	if adaptive.Valid {
		sess.Adaptive = &model.AdaptiveState{}
		if err := json.Unmarshal([]byte(adaptive.String), sess.Adaptive); err != nil {
			return nil, fmt.Errorf("decode adaptive state of session %s: %w", id, err)
		}
	}
	if shortfall.Valid {
		if err := json.Unmarshal([]byte(shortfall.String), &sess.Shortfall); err != nil {
			return nil, fmt.Errorf("decode shortfall of session %s: %w", id, err)
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		sess.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}

	if sess.Responses, err = s.loadResponses(ctx, id); err != nil {
		return nil, err
	}
	if sess.Clarifications, err = s.loadClarifications(ctx, id); err != nil {
		return nil, err
	}
	if sess.Corrections, err = s.loadCorrections(ctx, id); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) loadResponses(ctx context.Context, id string) ([]model.Response, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, question_id, topic, type, difficulty, answer_text, selected_option, time_spent_ms,
			accuracy, completeness, communication, combined, pending, feedback, answered_at
		 FROM responses WHERE session_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, storageErr("load responses", err)
	}
	defer rows.Close()
	var out []model.Response
	for rows.Next() {
		var r model.Response
		var ms int64
		ev := &r.Evaluation
		if err := rows.Scan(&r.Position, &r.QuestionID, &r.Topic, &r.Type, &r.Difficulty, &r.Answer.Text,
			&r.Answer.SelectedOption, &ms, &ev.Accuracy, &ev.Completeness, &ev.Communication, &ev.Combined,
			&ev.Pending, &ev.Feedback, &r.AnsweredAt); err != nil {
			return nil, storageErr("scan response", err)
		}
		r.Answer.TimeSpent = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) loadClarifications(ctx context.Context, id string) ([]model.Clarification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, query, reply, fallback, created_at FROM clarifications WHERE session_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, storageErr("load clarifications", err)
	}
	defer rows.Close()
	var out []model.Clarification
	for rows.Next() {
		var c model.Clarification
		if err := rows.Scan(&c.Position, &c.Query, &c.Reply, &c.Fallback, &c.At); err != nil {
			return nil, storageErr("scan clarification", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) loadCorrections(ctx context.Context, id string) ([]model.Correction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, accuracy, completeness, communication, combined, pending, feedback, created_at
		 FROM corrections WHERE session_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, storageErr("load corrections", err)
	}
	defer rows.Close()
	var out []model.Correction
	for rows.Next() {
		var c model.Correction
		ev := &c.Evaluation
		if err := rows.Scan(&c.Position, &ev.Accuracy, &ev.Completeness, &ev.Communication, &ev.Combined,
			&ev.Pending, &ev.Feedback, &c.At); err != nil {
			return nil, storageErr("scan correction", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListSessionIDs returns session ids, newest first, optionally limited to
// sessions covering topic.
func (s *Store) ListSessionIDs(ctx context.Context, topic string) ([]string, error) {
	query := `SELECT id FROM sessions ORDER BY created_at DESC, id`
	var args []any
	if topic != "" {
		query = `SELECT s.id FROM sessions s JOIN session_topics t ON t.session_id = s.id
			WHERE t.topic = ? ORDER BY s.created_at DESC, s.id`
		args = append(args, topic)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list sessions", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan session id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Scores returns the overall scores of completed sessions that share at
// least one of topics, leaving out the session excludeSessionID.
func (s *Store) Scores(ctx context.Context, topics []string, excludeSessionID string) ([]float64, error) {
	if len(topics) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(topics)+1)
	args = append(args, excludeSessionID)
	for _, t := range topics {
		args = append(args, t)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.overall_score FROM sessions s
		 WHERE s.status = 'completed' AND s.overall_score IS NOT NULL AND s.id <> ?
		   AND EXISTS (SELECT 1 FROM session_topics t WHERE t.session_id = s.id AND t.topic IN (`+placeholders(len(topics))+`))
		 ORDER BY s.overall_score`, args...)
	if err != nil {
		return nil, storageErr("historical scores", err)
	}
	defer rows.Close()
	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, storageErr("scan score", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func overallScore(sess *model.Session) float64 {
	var sum float64
	for i := range sess.Responses {
		sum += sess.EffectiveEvaluation(i).Combined
	}
	return sum / float64(len(sess.Responses))
}

func countRows(ctx context.Context, tx *sql.Tx, table, sessionID string) (int, error) {
	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return 0, storageErr("count "+table, err)
	}
	return n, nil
}

func nullJSON(valid bool, v any) (sql.NullString, error) {
	if !valid {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
