package speech

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sjawhar/voice-journal/internal/audio"
	"github.com/sjawhar/voice-journal/internal/remote"
)

const openaiService = "openai"

type openaiClient struct {
	client  *openai.Client
	apiKey  string
	model   openai.SpeechModel
	voice   openai.SpeechVoice
	tempDir string
}

func newOpenAIClient(apiKey, model, voice string, opts *clientOptions) *openaiClient {
	if model == "" {
		model = string(openai.TTSModel1)
	}
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}
	config := openai.DefaultConfig(apiKey)
	if opts.baseURL != "" {
		config.BaseURL = opts.baseURL
	}
	if opts.httpClient != nil {
		config.HTTPClient = opts.httpClient
	}
	return &openaiClient{
		client:  openai.NewClientWithConfig(config),
		apiKey:  apiKey,
		model:   openai.SpeechModel(model),
		voice:   openai.SpeechVoice(voice),
		tempDir: opts.tempDir,
	}
}

func (c *openaiClient) Synthesize(ctx context.Context, text string) (*audio.TempFile, error) {
	if c.apiKey == "" {
		return nil, remote.MissingKey(openaiService, "speech")
	}

	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          c.model,
		Input:          text,
		Voice:          c.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, remote.Wrap(openaiService, "speech", err)
	}
	defer func() { _ = resp.Close() }()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, remote.New(openaiService, "speech", 0, err)
	}
	if len(data) == 0 {
		return nil, remote.New(openaiService, "speech", 0, errors.New("empty audio response"))
	}
	return writeSpeech(c.tempDir, data)
}
