package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/interviewer/internal/llm/prompts"
	"github.com/pavelanni/interviewer/internal/model"
)

// Client binds the interview's AI capabilities to an OpenAI-compatible API.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Ping checks that the endpoint is reachable and the API key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Evaluate asks the model to score an answer on accuracy, completeness and
// communication.
func (c *Client) Evaluate(ctx context.Context, prompt, rubric, answer string) (model.Judgment, error) {
	system, err := prompts.BuildJudge(prompt, rubric, answer)
	if err != nil {
		return model.Judgment{}, err
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return model.Judgment{}, fmt.Errorf("LLM judgment call: %w", err)
	}
	raw, err := firstChoice(resp)
	if err != nil {
		return model.Judgment{}, err
	}
	slog.Debug("LLM judgment", "raw", raw)

	j, err := prompts.ParseJudgment(raw)
	if err != nil {
		return model.Judgment{}, fmt.Errorf("%w (raw: %s)", err, raw)
	}
	return j, nil
}

// Clarify answers the candidate's pending clarification request, the last
// entry of history, without revealing the answer.
func (c *Client) Clarify(ctx context.Context, q model.Question, history []model.Clarification) (string, error) {
	system, err := prompts.BuildClarify(q)
	if err != nil {
		return "", err
	}

	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}
	for _, h := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: prompts.CandidateMessage(h.Query),
		})
		if h.Reply != "" {
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: h.Reply,
			})
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("LLM clarification call: %w", err)
	}
	return firstChoice(resp)
}

// Summarize writes a short narrative summary of a finished session.
func (c *Client) Summarize(ctx context.Context, s *model.Session) (string, error) {
	prompt, err := prompts.BuildSummary(s)
	if err != nil {
		return "", err
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("LLM summary call: %w", err)
	}
	return firstChoice(resp)
}

func firstChoice(resp openai.ChatCompletionResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", errors.New("LLM returned no choices")
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", errors.New("LLM returned an empty reply")
	}
	return out, nil
}
