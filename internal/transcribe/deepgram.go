package transcribe

import (
	"context"
	"errors"
	"sync"
	"time"

	prerecorded "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/sjawhar/voice-journal/internal/remote"
)

const (
	deepgramService      = "deepgram"
	defaultDeepgramModel = "nova-2"
)

var deepgramInit sync.Once

type deepgramClient struct {
	apiKey  string
	model   string
	host    string
	timeout time.Duration
	options *interfaces.PreRecordedTranscriptionOptions
}

func newDeepgramClient(apiKey, model string, opts *clientOptions) *deepgramClient {
	deepgramInit.Do(func() {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
	})
	if model == "" {
		model = defaultDeepgramModel
	}
	return &deepgramClient{
		apiKey:  apiKey,
		model:   model,
		host:    opts.baseURL,
		timeout: opts.timeout,
		options: &interfaces.PreRecordedTranscriptionOptions{
			Model:       model,
			Punctuate:   true,
			SmartFormat: true,
		},
	}
}

func (c *deepgramClient) Transcribe(ctx context.Context, path string) (string, error) {
	if c.apiKey == "" {
		return "", remote.MissingKey(deepgramService, "transcription")
	}

	f, err := openAudio(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	// The SDK builds its own http.Client, so the timeout rides on ctx.
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	rest := client.NewREST(c.apiKey, &interfaces.ClientOptions{Host: c.host})
	dg := prerecorded.New(rest)

	res, err := dg.FromStream(ctx, f, c.options)
	if err != nil {
		return "", deepgramError(err)
	}
	if res == nil || len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return res.Results.Channels[0].Alternatives[0].Transcript, nil
}

func deepgramError(err error) error {
	var statusErr *interfaces.StatusError
	if errors.As(err, &statusErr) && statusErr.Resp != nil {
		return remote.New(deepgramService, "transcription", statusErr.Resp.StatusCode, err)
	}
	return remote.Wrap(deepgramService, "transcription", err)
}
