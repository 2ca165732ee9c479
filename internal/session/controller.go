package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/voice-journal/internal/audio"
	"github.com/sjawhar/voice-journal/internal/storage"
)

type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
)

const (
	StageCapture    = "capture"
	StageEncode     = "encode"
	StageTranscribe = "transcribe"
	StageRespond    = "respond"
	StageSynthesize = "synthesize"
)

const (
	DefaultRecordDuration = 5 * time.Second

	// EndReasonIdle and EndReasonReset are the reasons passed to EndSession.
	EndReasonIdle  = "idle_timeout"
	EndReasonReset = "reset"
)

// Encoder materialises a captured buffer as a WAV file in dir.
type Encoder func(dir string, buf audio.Buffer) (*audio.TempFile, error)

type Stages struct {
	Capturer    Capturer
	Encoder     Encoder
	Transcriber Transcriber
	Responder   Responder
	Synthesizer Synthesizer
}

type Options struct {
	RecordDuration time.Duration
	SampleRate     int
	TempDir        string
	Logger         *slog.Logger
	Observer       Observer
}

// Turn is the outcome of one successful pipeline run.
type Turn struct {
	RunID      string
	User       Entry
	Assistant  Entry
	SpeechPath string
}

type Status struct {
	State     State  `json:"state"`
	RunID     string `json:"run_id,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Controller owns the conversation history and runs the capture, encode,
// transcribe, respond and synthesize stages for each trigger. Only one run is
// active at a time and a started run cannot be cancelled.
type Controller struct {
	stages   Stages
	hub      EventBroadcaster
	runs     RunLog
	detector *Detector
	history  *History
	opts     Options
	logger   *slog.Logger
	observer Observer

	mu        sync.Mutex
	state     State
	runID     string
	lastError string
	speech    *audio.TempFile
	closed    bool
	wg        sync.WaitGroup
}

func NewController(stages Stages, hub EventBroadcaster, runs RunLog, detector *Detector, opts Options) *Controller {
	if stages.Encoder == nil {
		stages.Encoder = audio.WriteTempWAV
	}
	if detector == nil {
		detector = NewDetector(0)
	}
	if opts.RecordDuration <= 0 {
		opts.RecordDuration = DefaultRecordDuration
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = audio.DefaultSampleRate
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	c := &Controller{
		stages:   stages,
		hub:      hub,
		runs:     runs,
		detector: detector,
		history:  NewHistory(),
		opts:     opts,
		logger:   logger,
		observer: observer,
		state:    StateIdle,
	}

	detector.OnExpire(func() {
		if err := c.EndSession(EndReasonIdle); err != nil && !errors.Is(err, ErrBusy) && !errors.Is(err, ErrClosed) {
			c.logger.Warn("idle session end failed", "error", err)
		}
	})

	return c
}

// Trigger starts a run in the background and returns its id. A second
// trigger while a run is active is rejected with ErrBusy, never queued.
func (c *Controller) Trigger() (string, error) {
	runID, err := c.begin()
	if err != nil {
		return "", err
	}
	go func() {
		_, _ = c.run(context.Background(), runID)
	}()
	return runID, nil
}

// RunTurn runs the pipeline on the calling goroutine. ctx only carries values;
// its cancellation is ignored.
func (c *Controller) RunTurn(ctx context.Context) (Turn, error) {
	runID, err := c.begin()
	if err != nil {
		return Turn{}, err
	}
	return c.run(ctx, runID)
}

func (c *Controller) History() []Entry {
	return c.history.Entries()
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, RunID: c.runID, LastError: c.lastError}
}

// LatestSpeech returns the path of the most recent synthesized reply.
func (c *Controller) LatestSpeech() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.speech == nil {
		return "", false
	}
	return c.speech.Path(), true
}

// EndSession clears the history and releases the speech file. It is refused
// while a turn is running.
func (c *Controller) EndSession(reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateProcessing {
		c.mu.Unlock()
		return ErrBusy
	}
	speech := c.speech
	c.speech = nil
	c.lastError = ""
	c.history.Reset()
	c.mu.Unlock()

	c.detector.Disarm()
	c.removeTemp(speech, "")
	c.logger.Info("session ended", "reason", reason)
	if c.hub != nil {
		c.hub.BroadcastSessionEnded(reason)
	}
	return nil
}

// Close waits for a background run to finish and removes the speech file.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.detector.Disarm()
	c.wg.Wait()

	c.mu.Lock()
	speech := c.speech
	c.speech = nil
	c.mu.Unlock()
	c.removeTemp(speech, "")
}

func (c *Controller) begin() (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if c.state == StateProcessing {
		c.mu.Unlock()
		return "", ErrBusy
	}
	runID := uuid.NewString()
	c.state = StateProcessing
	c.runID = runID
	c.wg.Add(1)
	c.mu.Unlock()

	c.detector.Disarm()
	c.observer.SetProcessing(true)
	if c.hub != nil {
		c.hub.BroadcastStateChanged(StateProcessing, runID)
	}
	return runID, nil
}

func (c *Controller) finish(runID string, runErr error) {
	c.mu.Lock()
	c.state = StateIdle
	c.runID = ""
	if runErr != nil {
		c.lastError = runErr.Error()
	} else {
		c.lastError = ""
	}
	closed := c.closed
	c.mu.Unlock()

	c.observer.SetProcessing(false)
	if !closed {
		c.detector.Arm()
	}
	if c.hub != nil {
		c.hub.BroadcastStateChanged(StateIdle, runID)
	}
	c.wg.Done()
}

func (c *Controller) run(ctx context.Context, runID string) (turn Turn, err error) {
	ctx = context.WithoutCancel(ctx)
	startedAt := time.Now().UTC()
	durations := map[string]int64{}
	logger := c.logger.With("run_id", runID)

	if c.runs != nil {
		if err := c.runs.CreateRun(runID, startedAt); err != nil {
			logger.Warn("record run start failed", "error", err)
		}
	}
	logger.Info("turn started")

	var wav *audio.TempFile
	defer func() {
		c.removeTemp(wav, runID)
		c.recordOutcome(runID, durations, err)
		c.finish(runID, err)
	}()

	var buf audio.Buffer
	if err = c.stage(logger, StageCapture, durations, func() (stageErr error) {
		buf, stageErr = c.stages.Capturer.Capture(c.opts.RecordDuration, c.opts.SampleRate)
		return stageErr
	}); err != nil {
		return Turn{}, err
	}

	if err = c.stage(logger, StageEncode, durations, func() (stageErr error) {
		wav, stageErr = c.stages.Encoder(c.opts.TempDir, buf)
		return stageErr
	}); err != nil {
		return Turn{}, err
	}

	var text string
	if err = c.stage(logger, StageTranscribe, durations, func() (stageErr error) {
		text, stageErr = c.stages.Transcriber.Transcribe(ctx, wav.Path())
		return stageErr
	}); err != nil {
		return Turn{}, err
	}
	user := Entry{Role: RoleUser, Content: text, Timestamp: time.Now().UTC()}

	var reply string
	if err = c.stage(logger, StageRespond, durations, func() (stageErr error) {
		reply, stageErr = c.stages.Responder.Respond(ctx, text, c.history.Entries())
		return stageErr
	}); err != nil {
		return Turn{}, err
	}
	assistant := Entry{Role: RoleAssistant, Content: reply, Timestamp: time.Now().UTC()}

	var speech *audio.TempFile
	if err = c.stage(logger, StageSynthesize, durations, func() (stageErr error) {
		speech, stageErr = c.stages.Synthesizer.Synthesize(ctx, reply)
		return stageErr
	}); err != nil {
		return Turn{}, err
	}

	c.mu.Lock()
	previous := c.speech
	c.speech = speech
	c.history.AppendTurn(user, assistant)
	c.mu.Unlock()
	c.removeTemp(previous, runID)

	if c.hub != nil {
		c.hub.BroadcastEntryAppended(user)
		c.hub.BroadcastEntryAppended(assistant)
		c.hub.BroadcastTurnCompleted(runID)
	}

	return Turn{RunID: runID, User: user, Assistant: assistant, SpeechPath: speech.Path()}, nil
}

func (c *Controller) stage(logger *slog.Logger, name string, durations map[string]int64, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	durations[name] = elapsed.Milliseconds()
	c.observer.ObserveStage(name, elapsed, err)

	if err != nil {
		logger.Error("stage failed", "stage", name, "duration", elapsed, "error", err)
		return &StageError{Stage: name, Err: err}
	}
	logger.Debug("stage completed", "stage", name, "duration", elapsed)
	return nil
}

func (c *Controller) recordOutcome(runID string, durations map[string]int64, err error) {
	result := storage.RunResult{Status: storage.RunSucceeded, StageMillis: durations}
	if err != nil {
		result.Status = storage.RunFailed
		result.Error = err.Error()
		var stageErr *StageError
		if errors.As(err, &stageErr) {
			result.FailedStage = stageErr.Stage
			result.Error = stageErr.Err.Error()
		}
		if c.hub != nil {
			c.hub.BroadcastTurnFailed(runID, result.FailedStage, result.Error)
		}
	}

	c.observer.ObserveTurn(result.Status)
	if c.runs != nil {
		if logErr := c.runs.FinishRun(runID, time.Now().UTC(), result); logErr != nil {
			c.logger.Warn("record run result failed", "run_id", runID, "error", logErr)
		}
	}
	if err == nil {
		c.logger.Info("turn completed", "run_id", runID)
	}
}

func (c *Controller) removeTemp(f *audio.TempFile, runID string) {
	if err := f.Remove(); err != nil {
		c.logger.Warn("remove temp file failed", "run_id", runID, "path", f.Path(), "error", err)
	}
}
