package transcribe

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sjawhar/voice-journal/internal/remote"
)

const openaiService = "openai"

type openaiClient struct {
	client *openai.Client
	apiKey string
	model  string
}

func newOpenAIClient(apiKey, model string, opts *clientOptions) *openaiClient {
	if model == "" {
		model = openai.Whisper1
	}
	config := openai.DefaultConfig(apiKey)
	if opts.baseURL != "" {
		config.BaseURL = opts.baseURL
	}
	if opts.httpClient != nil {
		config.HTTPClient = opts.httpClient
	}
	return &openaiClient{client: openai.NewClientWithConfig(config), apiKey: apiKey, model: model}
}

func (c *openaiClient) Transcribe(ctx context.Context, path string) (string, error) {
	if c.apiKey == "" {
		return "", remote.MissingKey(openaiService, "transcription")
	}

	f, err := openAudio(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: path,
		Reader:   f,
	})
	if err != nil {
		return "", remote.Wrap(openaiService, "transcription", err)
	}
	return resp.Text, nil
}
