package sentiment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rpggio/tally/internal/config"
	"github.com/rpggio/tally/internal/domain/opinion"
	"github.com/rpggio/tally/internal/logging"
	"github.com/sashabaranov/go-openai"
)

const systemPrompt = "Classify the sentiment of the user's feedback. Reply with exactly one word: positive, neutral or negative."

// ChatClient is the part of the OpenAI client the classifiers use.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewChatClient builds an OpenAI client from config.
func NewChatClient(cfg config.OpenAIConfig) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

// OpenAI classifies with a chat completion.
type OpenAI struct {
	client ChatClient
	model  string
	logger *slog.Logger
}

// NewOpenAI creates an OpenAI classifier.
func NewOpenAI(client ChatClient, model string, logger *slog.Logger) *OpenAI {
	return &OpenAI{client: client, model: model, logger: logging.Component(logger, "sentiment")}
}

// Classify implements Classifier.
func (o *OpenAI) Classify(ctx context.Context, content string) (opinion.Sentiment, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: content},
		},
		MaxCompletionTokens: 4,
	})
	if err != nil {
		return "", fmt.Errorf("sentiment completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("sentiment completion returned no choices")
	}
	s, ok := Parse(resp.Choices[0].Message.Content)
	if !ok {
		o.logger.Debug("unrecognized sentiment reply", "reply", resp.Choices[0].Message.Content)
		return "", fmt.Errorf("unrecognized sentiment %q", resp.Choices[0].Message.Content)
	}
	return s, nil
}

// New returns the OpenAI classifier when an API key is configured and the
// lexicon otherwise.
func New(cfg config.OpenAIConfig, logger *slog.Logger) Classifier {
	if cfg.APIKey == "" {
		return Lexicon{}
	}
	return NewOpenAI(NewChatClient(cfg), cfg.Model, logger)
}
