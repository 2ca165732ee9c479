// Package transcribe turns a recorded WAV file into text through a remote
// speech-to-text provider.
package transcribe

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sjawhar/voice-journal/internal/audio"
)

// Client returns the recognised text for the audio file at path. The text is
// passed through verbatim: no language hint, no confidence filtering.
type Client interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// WithTimeout bounds each transcription request. Zero keeps the transport default.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.timeout = d
			o.httpClient = &http.Client{Timeout: d}
		}
	}
}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "openai":
		return newOpenAIClient(apiKey, model, o), nil
	case "deepgram":
		return newDeepgramClient(apiKey, model, o), nil
	default:
		return nil, fmt.Errorf("unknown transcription provider %q: supported providers are openai, deepgram", provider)
	}
}

func openAudio(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &audio.EncodingError{Path: path, Err: fmt.Errorf("open recording: %w", err)}
	}
	return f, nil
}
