package llm

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sjawhar/voice-journal/internal/remote"
)

const openaiService = "openai"

type openaiClient struct {
	client *openai.Client
	apiKey string
	model  string
}

func newOpenAIClient(apiKey, model string, opts *clientOptions) (*openaiClient, error) {
	config := openai.DefaultConfig(apiKey)
	if opts.baseURL != "" {
		config.BaseURL = opts.baseURL
	}
	if opts.httpClient != nil {
		config.HTTPClient = opts.httpClient
	}
	return &openaiClient{client: openai.NewClientWithConfig(config), apiKey: apiKey, model: model}, nil
}

func (c *openaiClient) Complete(ctx context.Context, messages []Message) (string, error) {
	if c.apiKey == "" {
		return "", remote.MissingKey(openaiService, "chat completion")
	}

	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{Model: c.model, Messages: msgs})
	if err != nil {
		return "", remote.Wrap(openaiService, "chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", remote.New(openaiService, "chat completion", 0, errors.New("no choices in response"))
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
