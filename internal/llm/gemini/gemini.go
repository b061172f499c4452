// Package gemini binds the interview's AI capabilities to the Google Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/pavelanni/interviewer/internal/llm/prompts"
	"github.com/pavelanni/interviewer/internal/model"
)

const defaultModel = "gemini-2.5-flash"

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client implements the judgment, clarification and summary capabilities.
type Client struct {
	models    contentGenerator
	modelName string
}

// New creates a client for the Gemini API backend.
func New(ctx context.Context, apiKey, modelName string) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if modelName = strings.TrimSpace(modelName); modelName == "" {
		modelName = defaultModel
	}
	return &Client{models: client.Models, modelName: modelName}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.modelName
}

// Evaluate asks Gemini to score an answer on the three dimensions.
func (c *Client) Evaluate(ctx context.Context, prompt, rubric, answer string) (model.Judgment, error) {
	text, err := prompts.BuildJudge(prompt, rubric, answer)
	if err != nil {
		return model.Judgment{}, err
	}
	temp := float32(0.1)
	raw, err := c.generate(ctx, genai.Text(text), &genai.GenerateContentConfig{
		Temperature:      &temp,
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return model.Judgment{}, err
	}
	slog.Debug("gemini judgment", "raw", raw)

	j, err := prompts.ParseJudgment(raw)
	if err != nil {
		return model.Judgment{}, fmt.Errorf("%w (raw: %s)", err, raw)
	}
	return j, nil
}

// Clarify answers the pending clarification request, the last entry of
// history.
func (c *Client) Clarify(ctx context.Context, q model.Question, history []model.Clarification) (string, error) {
	system, err := prompts.BuildClarify(q)
	if err != nil {
		return "", err
	}

	var contents []*genai.Content
	for _, h := range history {
		contents = append(contents, &genai.Content{
			Role:  string(genai.RoleUser),
			Parts: []*genai.Part{{Text: prompts.CandidateMessage(h.Query)}},
		})
		if h.Reply != "" {
			contents = append(contents, &genai.Content{
				Role:  string(genai.RoleModel),
				Parts: []*genai.Part{{Text: h.Reply}},
			})
		}
	}

	temp := float32(0.3)
	return c.generate(ctx, contents, &genai.GenerateContentConfig{
		Temperature: &temp,
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		},
	})
}

// Summarize writes a short narrative summary of a finished session.
func (c *Client) Summarize(ctx context.Context, s *model.Session) (string, error) {
	text, err := prompts.BuildSummary(s)
	if err != nil {
		return "", err
	}
	return c.generate(ctx, genai.Text(text), nil)
}

func (c *Client) generate(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error) {
	if len(contents) == 0 {
		return "", errors.New("prompt must not be empty")
	}

	resp, err := c.models.GenerateContent(ctx, c.modelName, contents, config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		return "", errors.New("gemini api returned empty response")
	}
	return output, nil
}
