package session

import (
	"context"
	"time"

	"github.com/sjawhar/voice-journal/internal/audio"
	"github.com/sjawhar/voice-journal/internal/storage"
)

type Capturer interface {
	Capture(duration time.Duration, sampleRate int) (audio.Buffer, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// Responder produces the assistant reply for text. history holds the entries
// committed before this turn, oldest first.
type Responder interface {
	Respond(ctx context.Context, text string, history []Entry) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*audio.TempFile, error)
}

type EventBroadcaster interface {
	BroadcastStateChanged(state State, runID string)
	BroadcastEntryAppended(entry Entry)
	BroadcastTurnCompleted(runID string)
	BroadcastTurnFailed(runID, stage, message string)
	BroadcastSessionEnded(reason string)
}

type RunLog interface {
	CreateRun(id string, startedAt time.Time) error
	FinishRun(id string, endedAt time.Time, result storage.RunResult) error
}

// Observer receives pipeline timings. The metrics package implements it.
type Observer interface {
	ObserveStage(stage string, d time.Duration, err error)
	ObserveTurn(status string)
	SetProcessing(processing bool)
}

type nopObserver struct{}

func (nopObserver) ObserveStage(string, time.Duration, error) {}
func (nopObserver) ObserveTurn(string)                        {}
func (nopObserver) SetProcessing(bool)                        {}
