// Package llm asks an OpenAI-compatible model for advisory scores on essay and
// short-answer questions. Suggestions are shown to the tutor and never stored.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/tutorgate/internal/llm/prompts"
	"github.com/pavelanni/tutorgate/internal/model"
)

// Suggestion is the model's proposed score for one pending question.
type Suggestion struct {
	Index    int    `json:"index"`
	Score    int    `json:"score"`
	Points   int    `json:"points"`
	Feedback string `json:"feedback"`
}

type suggestResponse struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string, variant prompts.PromptVariant) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if variant == "" {
		variant = prompts.PromptStandard
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: variant,
	}
}

// SuggestScore asks the model to score one answer. The score is clamped to the question's points.
func (c *Client) SuggestScore(ctx context.Context, q model.Question, answer string) (Suggestion, error) {
	prompt, err := prompts.BuildSuggestPrompt(c.variant, q, answer)
	if err != nil {
		return Suggestion{}, fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return Suggestion{}, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Suggestion{}, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "question", q.Index, "raw", raw)

	var out suggestResponse
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Suggestion{}, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	score := min(max(int(out.Score+0.5), 0), q.Points)
	return Suggestion{Index: q.Index, Score: score, Points: q.Points, Feedback: out.Feedback}, nil
}

// SuggestForAttempt returns suggestions for every question of the attempt still awaiting
// manual points. A failure on one question is logged and skipped.
func (c *Client) SuggestForAttempt(ctx context.Context, exam model.Exam, a model.Attempt) []Suggestion {
	pending := make(map[int]bool)
	for _, qr := range a.Results {
		if qr.Pending {
			pending[qr.Index] = true
		}
	}

	var out []Suggestion
	for _, q := range exam.Questions {
		if !pending[q.Index] {
			continue
		}
		s, err := c.SuggestScore(ctx, q, a.Answers[q.Index])
		if err != nil {
			slog.Warn("score suggestion failed", "attempt_id", a.ID, "question", q.Index, "error", err)
			continue
		}
		out = append(out, s)
	}
	return out
}
