package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/sjawhar/voice-journal/internal/audio"
	"github.com/sjawhar/voice-journal/internal/remote"
)

const (
	elevenLabsService      = "elevenlabs"
	elevenLabsBaseURL      = "https://api.elevenlabs.io"
	elevenLabsOutputFormat = "mp3_44100_128"
	defaultElevenLabsModel = "eleven_multilingual_v2"
	// Rachel, the stock voice every account has access to.
	defaultElevenLabsVoice = "21m00Tcm4TlvDq8ikWAM"
)

type elevenLabsClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
	model   string
	voice   string
	tempDir string
}

type elevenLabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

func newElevenLabsClient(apiKey, model, voice string, opts *clientOptions) *elevenLabsClient {
	if model == "" {
		model = defaultElevenLabsModel
	}
	if voice == "" {
		voice = defaultElevenLabsVoice
	}
	baseURL := elevenLabsBaseURL
	if opts.baseURL != "" {
		baseURL = strings.TrimRight(opts.baseURL, "/")
	}
	httpClient := opts.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &elevenLabsClient{
		http:    httpClient,
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		voice:   voice,
		tempDir: opts.tempDir,
	}
}

func (c *elevenLabsClient) Synthesize(ctx context.Context, text string) (*audio.TempFile, error) {
	if c.apiKey == "" {
		return nil, remote.MissingKey(elevenLabsService, "speech")
	}

	body, err := sonic.Marshal(elevenLabsRequest{Text: text, ModelID: c.model})
	if err != nil {
		return nil, fmt.Errorf("marshal speech request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		c.baseURL, url.PathEscape(c.voice), elevenLabsOutputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, remote.New(elevenLabsService, "speech", 0, err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, remote.New(elevenLabsService, "speech", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, remote.New(elevenLabsService, "speech", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, remote.New(elevenLabsService, "speech", resp.StatusCode, errors.New(msg))
	}
	if len(data) == 0 {
		return nil, remote.New(elevenLabsService, "speech", resp.StatusCode, errors.New("empty audio response"))
	}
	return writeSpeech(c.tempDir, data)
}
