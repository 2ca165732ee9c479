// Package speech synthesises assistant replies into playable audio files.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sjawhar/voice-journal/internal/audio"
)

const speechPattern = "speech-*.mp3"

// Client renders text as speech. The returned file belongs to the caller,
// who must Remove it once playback is no longer needed.
type Client interface {
	Synthesize(ctx context.Context, text string) (*audio.TempFile, error)
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL    string
	httpClient *http.Client
	tempDir    string
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithTempDir sets where synthesised files are written. Empty means os.TempDir.
func WithTempDir(dir string) Option {
	return func(o *clientOptions) {
		o.tempDir = dir
	}
}

func NewClient(provider, apiKey, model, voice string, opts ...Option) (Client, error) {
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "openai":
		return newOpenAIClient(apiKey, model, voice, o), nil
	case "elevenlabs":
		return newElevenLabsClient(apiKey, model, voice, o), nil
	default:
		return nil, fmt.Errorf("unknown speech provider %q: supported providers are openai, elevenlabs", provider)
	}
}

func writeSpeech(dir string, data []byte) (*audio.TempFile, error) {
	return audio.CreateTemp(dir, speechPattern, bytes.NewReader(data))
}
