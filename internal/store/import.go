package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/interviewer/internal/model"
)

// ImportResult describes what ImportFile did with one file.
type ImportResult struct {
	Path     string `json:"path"`
	Imported int    `json:"imported"`
	Skipped  bool   `json:"skipped"`
	Reason   string `json:"reason,omitempty"`
}

// ParseQuestions decodes a question bank. Files ending in .yaml or .yml are
// read as YAML, everything else as JSON.
func ParseQuestions(path string, data []byte) ([]model.QuestionImport, error) {
	var questions []model.QuestionImport
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &questions); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &questions); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	for i, qi := range questions {
		if err := checkImport(qi); err != nil {
			return nil, fmt.Errorf("%s: question %d: %w", path, i+1, err)
		}
	}
	return questions, nil
}

func checkImport(qi model.QuestionImport) error {
	if err := model.ValidateStruct(qi); err != nil {
		return err
	}
	if qi.Type == model.QuestionMultipleChoice {
		if len(qi.Options) < 2 {
			return model.Invalid("options", "multiple-choice questions need at least two options")
		}
		seen := make(map[string]bool, len(qi.Options))
		for _, o := range qi.Options {
			if seen[o.Key] {
				return model.Invalid("options", "duplicate option key %q", o.Key)
			}
			seen[o.Key] = true
		}
		if !seen[qi.CorrectOption] {
			return model.Invalid("correct_option", "%q is not one of the option keys", qi.CorrectOption)
		}
	}
	return nil
}

// ImportFile loads a question bank file. A file whose sha256 was already
// recorded is skipped; a changed file that was imported before is skipped
// too, since existing sessions reference its question ids.
func (s *Store) ImportFile(ctx context.Context, path string) (ImportResult, error) {
	res := ImportResult{Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}

	hash := sha256sum(data)
	storedHash, err := s.GetImportedFileHash(ctx, path)
	if err != nil {
		return res, fmt.Errorf("check import status for %s: %w", path, err)
	}
	if storedHash == hash {
		slog.Info("questions file unchanged, skipping", "path", path)
		res.Skipped, res.Reason = true, "unchanged"
		return res, nil
	}
	if storedHash != "" {
		slog.Warn("questions file changed since last import, skipping to avoid breaking existing sessions",
			"path", path)
		res.Skipped, res.Reason = true, "changed since last import"
		return res, nil
	}

	questions, err := ParseQuestions(path, data)
	if err != nil {
		return res, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, storageErr("begin import", err)
	}
	defer tx.Rollback()
	for _, qi := range questions {
		if _, err := insertQuestion(ctx, tx, qi.Question()); err != nil {
			return res, fmt.Errorf("insert question from %s: %w", path, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		importHashPrefix+path, hash); err != nil {
		return res, storageErr("record import for "+path, err)
	}
	if err := tx.Commit(); err != nil {
		return res, storageErr("commit import", err)
	}

	res.Imported = len(questions)
	slog.Info("imported questions", "path", path, "count", len(questions))
	return res, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
