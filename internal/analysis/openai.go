package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rpggio/tally/internal/logging"
	"github.com/rpggio/tally/internal/sentiment"
	"github.com/sashabaranov/go-openai"
)

const engineSystemPrompt = `You group customer feedback into topics.
Reply with a JSON object: {"topics":[{"id":"","name":"","summary":"","opinionIds":[],"confidence":0.0}],"insights":[""]}.
Reuse an existing topic by returning its id. Topics marked protected must keep their exact name and summary.
Every opinion id belongs to at most one topic.`

// OpenAIEngine asks a chat model to cluster opinions.
type OpenAIEngine struct {
	client sentiment.ChatClient
	model  string
	logger *slog.Logger
}

// NewOpenAIEngine creates an engine backed by a chat completion client.
func NewOpenAIEngine(client sentiment.ChatClient, model string, logger *slog.Logger) *OpenAIEngine {
	return &OpenAIEngine{client: client, model: model, logger: logging.Component(logger, "analysis.openai")}
}

type promptOpinion struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type promptTopic struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Summary   string `json:"summary"`
	Protected bool   `json:"protected"`
}

// Analyze implements Engine.
func (e *OpenAIEngine) Analyze(ctx context.Context, in Input) (*Result, error) {
	prompt := struct {
		Project   string          `json:"project"`
		MaxTopics int             `json:"maxTopics,omitempty"`
		Language  string          `json:"language,omitempty"`
		Topics    []promptTopic   `json:"topics"`
		Opinions  []promptOpinion `json:"opinions"`
	}{Project: in.Project.Name, MaxTopics: in.Options.MaxTopics, Language: in.Options.Language}
	for _, t := range in.Topics {
		prompt.Topics = append(prompt.Topics, promptTopic{ID: t.ID, Name: t.Name, Summary: t.Summary, Protected: t.Protection.Protected})
	}
	for _, o := range in.Opinions {
		prompt.Opinions = append(prompt.Opinions, promptOpinion{ID: o.ID, Content: o.Content})
	}
	body, err := json.Marshal(prompt)
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}

	e.logger.Debug("requesting analysis", "model", e.model, "opinions", len(in.Opinions), "topics", len(in.Topics))
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: engineSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(body)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, fmt.Errorf("analysis completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("analysis completion returned no choices")
	}

	var result Result
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("decode analysis reply: %w", err)
	}
	return &result, nil
}
