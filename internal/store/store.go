// Package store is the SQLite backing store for questions and sessions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pavelanni/interviewer/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic TEXT NOT NULL,
		type TEXT NOT NULL,
		difficulty TEXT NOT NULL,
		prompt TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '[]',
		correct_option TEXT NOT NULL DEFAULT '',
		rubric TEXT NOT NULL DEFAULT '',
		model_answer TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_questions_tier_topic ON questions(difficulty, topic);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		candidate_name TEXT NOT NULL,
		candidate_email TEXT NOT NULL DEFAULT '',
		topics TEXT NOT NULL,
		config TEXT NOT NULL,
		seed TEXT NOT NULL,
		status TEXT NOT NULL,
		phase TEXT NOT NULL,
		plan TEXT NOT NULL,
		total INTEGER NOT NULL,
		position INTEGER NOT NULL,
		adaptive TEXT,
		shortfall TEXT,
		overall_score REAL,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		ended_at DATETIME,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_topics (
		session_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		PRIMARY KEY (session_id, topic),
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE TABLE IF NOT EXISTS responses (
		session_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		topic TEXT NOT NULL,
		type TEXT NOT NULL,
		difficulty TEXT NOT NULL,
		answer_text TEXT NOT NULL DEFAULT '',
		selected_option TEXT NOT NULL DEFAULT '',
		time_spent_ms INTEGER NOT NULL DEFAULT 0,
		accuracy REAL NOT NULL,
		completeness REAL NOT NULL,
		communication REAL NOT NULL,
		combined REAL NOT NULL,
		pending INTEGER NOT NULL DEFAULT 0,
		feedback TEXT NOT NULL DEFAULT '',
		answered_at DATETIME NOT NULL,
		PRIMARY KEY (session_id, position),
		FOREIGN KEY (session_id) REFERENCES sessions(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS clarifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		query TEXT NOT NULL,
		reply TEXT NOT NULL,
		fallback INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE TABLE IF NOT EXISTS corrections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		accuracy REAL NOT NULL,
		completeness REAL NOT NULL,
		communication REAL NOT NULL,
		combined REAL NOT NULL,
		pending INTEGER NOT NULL DEFAULT 0,
		feedback TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// storageErr wraps a database failure, mapping missing rows to ErrNotFound.
func storageErr(what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %v", what, model.ErrStorage, err)
}

const questionColumns = `id, topic, type, difficulty, prompt, options, correct_option, rubric, model_answer`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (model.Question, error) {
	var q model.Question
	var options string
	if err := row.Scan(&q.ID, &q.Topic, &q.Type, &q.Difficulty, &q.Prompt, &options, &q.CorrectOption, &q.Rubric, &q.ModelAnswer); err != nil {
		return q, err
	}
	if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
		return q, fmt.Errorf("decode options of question %d: %w", q.ID, err)
	}
	return q, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// InsertQuestion stores a question.
func (s *Store) InsertQuestion(ctx context.Context, q model.Question) (int64, error) {
	return insertQuestion(ctx, s.db, q)
}

func insertQuestion(ctx context.Context, db execer, q model.Question) (int64, error) {
	options := []byte("[]")
	if len(q.Options) > 0 {
		var err error
		if options, err = json.Marshal(q.Options); err != nil {
			return 0, fmt.Errorf("encode options: %w", err)
		}
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO questions (topic, type, difficulty, prompt, options, correct_option, rubric, model_answer, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.Topic, q.Type, q.Difficulty, q.Prompt, string(options), q.CorrectOption, q.Rubric, q.ModelAnswer, time.Now().UTC(),
	)
	if err != nil {
		return 0, storageErr("insert question", err)
	}
	return res.LastInsertId()
}

// Get returns a question by ID.
func (s *Store) Get(ctx context.Context, id int64) (model.Question, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = ?`, id))
	if err != nil {
		return q, storageErr(fmt.Sprintf("question %d", id), err)
	}
	return q, nil
}

// Find returns the questions of tier in any of topics, excluding the given
// ids, ordered by id.
func (s *Store) Find(ctx context.Context, topics []string, tier model.Difficulty, excluded []int64) ([]model.Question, error) {
	if len(topics) == 0 {
		return nil, nil
	}
	query := `SELECT ` + questionColumns + ` FROM questions WHERE difficulty = ? AND topic IN (` + placeholders(len(topics)) + `)`
	args := []any{tier}
	for _, t := range topics {
		args = append(args, t)
	}
	if len(excluded) > 0 {
		query += ` AND id NOT IN (` + placeholders(len(excluded)) + `)`
		for _, id := range excluded {
			args = append(args, id)
		}
	}
	query += ` ORDER BY id`
	return s.queryQuestions(ctx, query, args...)
}

// ListQuestions returns all questions, optionally limited to one topic.
func (s *Store) ListQuestions(ctx context.Context, topic string) ([]model.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions`
	var args []any
	if topic != "" {
		query += ` WHERE topic = ?`
		args = append(args, topic)
	}
	return s.queryQuestions(ctx, query+` ORDER BY id`, args...)
}

func (s *Store) queryQuestions(ctx context.Context, query string, args ...any) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query questions", err)
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, storageErr("scan question", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("query questions", err)
	}
	return questions, nil
}

// QuestionCount returns the number of questions in the database.
func (s *Store) QuestionCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&count)
	if err != nil {
		return 0, storageErr("count questions", err)
	}
	return count, nil
}

// ListDistinctTopics returns the question topics in alphabetical order.
func (s *Store) ListDistinctTopics(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT topic FROM questions ORDER BY topic`)
	if err != nil {
		return nil, storageErr("list topics", err)
	}
	defer rows.Close()
	var topics []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, storageErr("scan topic", err)
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
