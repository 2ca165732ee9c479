package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sjawhar/voice-journal/internal/audio"
	"github.com/sjawhar/voice-journal/internal/remote"
	"github.com/sjawhar/voice-journal/internal/storage"
)

type capturerMock struct {
	mu       sync.Mutex
	err      error
	block    chan struct{}
	started  chan struct{}
	calls    int
	duration time.Duration
	rate     int
}

func (c *capturerMock) Capture(duration time.Duration, sampleRate int) (audio.Buffer, error) {
	c.mu.Lock()
	c.calls++
	c.duration = duration
	c.rate = sampleRate
	c.mu.Unlock()

	if c.started != nil {
		c.started <- struct{}{}
	}
	if c.block != nil {
		<-c.block
	}
	if c.err != nil {
		return audio.Buffer{}, c.err
	}
	return audio.Buffer{Samples: make([]float32, audio.SampleCount(duration, sampleRate)), SampleRate: sampleRate}, nil
}

type transcriberMock struct {
	texts    []string
	err      error
	calls    int
	sawFile  bool
	ctxErr   error
	lastPath string
}

func (m *transcriberMock) Transcribe(ctx context.Context, path string) (string, error) {
	m.ctxErr = ctx.Err()
	m.lastPath = path
	if _, err := os.Stat(path); err == nil {
		m.sawFile = true
	}
	idx := m.calls
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.texts[idx%len(m.texts)], nil
}

type responderMock struct {
	replies   []string
	err       error
	calls     int
	histories [][]Entry
}

func (m *responderMock) Respond(_ context.Context, text string, history []Entry) (string, error) {
	m.histories = append(m.histories, history)
	idx := m.calls
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.replies[idx%len(m.replies)], nil
}

type synthesizerMock struct {
	dir   string
	err   error
	calls int
}

func (m *synthesizerMock) Synthesize(_ context.Context, text string) (*audio.TempFile, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return audio.CreateTemp(m.dir, "speech-*.mp3", strings.NewReader("mp3:"+text))
}

type hubMock struct {
	mu       sync.Mutex
	events   []string
	entries  []Entry
	failures []string
	ended    chan string
}

func (h *hubMock) record(event string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *hubMock) BroadcastStateChanged(state State, _ string) {
	h.record("state:" + string(state))
}

func (h *hubMock) BroadcastEntryAppended(entry Entry) {
	h.mu.Lock()
	h.entries = append(h.entries, entry)
	h.mu.Unlock()
	h.record("entry:" + entry.Role)
}

func (h *hubMock) BroadcastTurnCompleted(string) {
	h.record("turn_completed")
}

func (h *hubMock) BroadcastTurnFailed(_, stage, _ string) {
	h.mu.Lock()
	h.failures = append(h.failures, stage)
	h.mu.Unlock()
	h.record("turn_failed")
}

func (h *hubMock) BroadcastSessionEnded(reason string) {
	h.record("session_ended")
	if h.ended != nil {
		h.ended <- reason
	}
}

func (h *hubMock) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

type runLogMock struct {
	mu        sync.Mutex
	created   []string
	results   map[string]storage.RunResult
	finishErr error
}

func (r *runLogMock) CreateRun(id string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, id)
	return nil
}

func (r *runLogMock) FinishRun(id string, _ time.Time, result storage.RunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = map[string]storage.RunResult{}
	}
	r.results[id] = result
	return r.finishErr
}

type fixture struct {
	dir         string
	capturer    *capturerMock
	transcriber *transcriberMock
	responder   *responderMock
	synthesizer *synthesizerMock
	hub         *hubMock
	runs        *runLogMock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	return &fixture{
		dir:         dir,
		capturer:    &capturerMock{},
		transcriber: &transcriberMock{texts: []string{"I went for a run this morning."}},
		responder:   &responderMock{replies: []string{"That sounds energising."}},
		synthesizer: &synthesizerMock{dir: dir},
		hub:         &hubMock{},
		runs:        &runLogMock{},
	}
}

func (f *fixture) controller(detector *Detector) *Controller {
	return NewController(Stages{
		Capturer:    f.capturer,
		Transcriber: f.transcriber,
		Responder:   f.responder,
		Synthesizer: f.synthesizer,
	}, f.hub, f.runs, detector, Options{
		RecordDuration: 10 * time.Millisecond,
		SampleRate:     8000,
		TempDir:        f.dir,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func (f *fixture) leftoverWAVs(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(f.dir, "turn-*.wav"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return matches
}

func TestRunTurnAppendsUserThenAssistant(t *testing.T) {
	f := newFixture(t)
	c := f.controller(nil)
	defer c.Close()

	turn, err := c.RunTurn(context.Background())
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	history := c.History()
	if len(history) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(history))
	}
	if history[0].Role != RoleUser || history[0].Content != "I went for a run this morning." {
		t.Fatalf("unexpected user entry %#v", history[0])
	}
	if history[1].Role != RoleAssistant || history[1].Content != "That sounds energising." {
		t.Fatalf("unexpected assistant entry %#v", history[1])
	}
	if history[1].Timestamp.Before(history[0].Timestamp) {
		t.Fatal("assistant entry is older than user entry")
	}

	if f.capturer.duration != 10*time.Millisecond || f.capturer.rate != 8000 {
		t.Fatalf("capturer called with %v at %d Hz", f.capturer.duration, f.capturer.rate)
	}
	if !f.transcriber.sawFile {
		t.Fatal("transcriber did not receive an existing wav file")
	}
	if len(f.responder.histories[0]) != 0 {
		t.Fatalf("first turn should see empty history, got %d entries", len(f.responder.histories[0]))
	}
	if left := f.leftoverWAVs(t); len(left) != 0 {
		t.Fatalf("expected wav removed after run, found %v", left)
	}

	path, ok := c.LatestSpeech()
	if !ok || path != turn.SpeechPath {
		t.Fatalf("expected latest speech %q, got %q (ok=%v)", turn.SpeechPath, path, ok)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read speech: %v", err)
	}
	if string(data) != "mp3:That sounds energising." {
		t.Fatalf("unexpected speech contents %q", data)
	}

	if status := c.Status(); status.State != StateIdle || status.LastError != "" {
		t.Fatalf("expected idle without error, got %#v", status)
	}

	want := []string{"state:processing", "entry:user", "entry:assistant", "turn_completed", "state:idle"}
	if got := f.hub.snapshot(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected events %v", got)
	}

	result := f.runs.results[turn.RunID]
	if result.Status != storage.RunSucceeded {
		t.Fatalf("expected succeeded run, got %#v", result)
	}
	for _, stage := range []string{StageCapture, StageEncode, StageTranscribe, StageRespond, StageSynthesize} {
		if _, ok := result.StageMillis[stage]; !ok {
			t.Fatalf("missing duration for stage %s", stage)
		}
	}
}

func TestTwoTurnsAppendFourEntriesInOrder(t *testing.T) {
	f := newFixture(t)
	f.transcriber.texts = []string{"first thought", "second thought"}
	f.responder.replies = []string{"first reply", "second reply"}
	c := f.controller(nil)
	defer c.Close()

	first, err := c.RunTurn(context.Background())
	if err != nil {
		t.Fatalf("first RunTurn failed: %v", err)
	}
	second, err := c.RunTurn(context.Background())
	if err != nil {
		t.Fatalf("second RunTurn failed: %v", err)
	}

	history := c.History()
	want := []string{"first thought", "first reply", "second thought", "second reply"}
	if len(history) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(history))
	}
	for i, content := range want {
		if history[i].Content != content {
			t.Fatalf("entry %d: expected %q, got %q", i, content, history[i].Content)
		}
	}

	if len(f.responder.histories[1]) != 2 {
		t.Fatalf("second turn should see the first turn, got %d entries", len(f.responder.histories[1]))
	}
	if first.RunID == second.RunID {
		t.Fatal("expected distinct run ids")
	}
	if _, err := os.Stat(first.SpeechPath); !os.IsNotExist(err) {
		t.Fatalf("expected previous speech file removed, stat err = %v", err)
	}
	if _, err := os.Stat(second.SpeechPath); err != nil {
		t.Fatalf("expected latest speech file present: %v", err)
	}
}

func TestTranscribeFailureLeavesHistoryUnchanged(t *testing.T) {
	f := newFixture(t)
	c := f.controller(nil)
	defer c.Close()

	if _, err := c.RunTurn(context.Background()); err != nil {
		t.Fatalf("first RunTurn failed: %v", err)
	}

	f.transcriber.err = remote.New("openai", "transcription", 503, errors.New("unavailable"))
	_, err := c.RunTurn(context.Background())

	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageTranscribe {
		t.Fatalf("expected transcribe StageError, got %v", err)
	}
	var svcErr *remote.ServiceError
	if !errors.As(err, &svcErr) || svcErr.StatusCode != 503 {
		t.Fatalf("expected ServiceError 503, got %v", err)
	}

	if got := len(c.History()); got != 2 {
		t.Fatalf("expected history length unchanged at 2, got %d", got)
	}
	if f.responder.calls != 1 || f.synthesizer.calls != 1 {
		t.Fatalf("later stages ran after failure: respond=%d synthesize=%d", f.responder.calls, f.synthesizer.calls)
	}
	if left := f.leftoverWAVs(t); len(left) != 0 {
		t.Fatalf("expected wav removed after failure, found %v", left)
	}

	status := c.Status()
	if status.State != StateIdle {
		t.Fatalf("expected idle after failure, got %q", status.State)
	}
	if !strings.Contains(status.LastError, "transcribe") {
		t.Fatalf("expected last error to name stage, got %q", status.LastError)
	}
}

func TestRespondFailureCommitsNothing(t *testing.T) {
	f := newFixture(t)
	f.responder.err = remote.New("openai", "chat completion", 429, errors.New("rate limited"))
	c := f.controller(nil)
	defer c.Close()

	_, err := c.RunTurn(context.Background())
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageRespond {
		t.Fatalf("expected respond StageError, got %v", err)
	}
	if !remote.IsRateLimited(err) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if f.transcriber.calls != 1 {
		t.Fatalf("expected transcription to have run once, got %d", f.transcriber.calls)
	}
	if got := len(c.History()); got != 0 {
		t.Fatalf("expected empty history, got %d entries", got)
	}
	if f.synthesizer.calls != 0 {
		t.Fatalf("synthesizer should not run, got %d calls", f.synthesizer.calls)
	}
	if _, ok := c.LatestSpeech(); ok {
		t.Fatal("expected no speech after failure")
	}

	events := f.hub.snapshot()
	for _, e := range events {
		if strings.HasPrefix(e, "entry:") {
			t.Fatalf("no entries should be broadcast, got %v", events)
		}
	}
	if len(f.hub.failures) != 1 || f.hub.failures[0] != StageRespond {
		t.Fatalf("expected one respond failure broadcast, got %v", f.hub.failures)
	}
}

func TestSynthesizeFailureRecordedInRunLog(t *testing.T) {
	f := newFixture(t)
	f.synthesizer.err = remote.MissingKey("openai", "speech")
	c := f.controller(nil)
	defer c.Close()

	_, err := c.RunTurn(context.Background())
	if !remote.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if got := len(c.History()); got != 0 {
		t.Fatalf("expected empty history, got %d entries", got)
	}

	if len(f.runs.created) != 1 {
		t.Fatalf("expected one run created, got %d", len(f.runs.created))
	}
	result := f.runs.results[f.runs.created[0]]
	if result.Status != storage.RunFailed || result.FailedStage != StageSynthesize {
		t.Fatalf("unexpected run result %#v", result)
	}
	if !strings.Contains(result.Error, "api key not configured") {
		t.Fatalf("expected cause in run error, got %q", result.Error)
	}
}

func TestCaptureFailureSurfacesDeviceError(t *testing.T) {
	f := newFixture(t)
	f.capturer.err = &audio.DeviceError{Op: "open", SampleRate: 8000, Err: errors.New("no default input device")}
	c := f.controller(nil)
	defer c.Close()

	_, err := c.RunTurn(context.Background())
	var devErr *audio.DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("expected DeviceError, got %v", err)
	}
	if f.transcriber.calls != 0 {
		t.Fatal("transcriber should not run after capture failure")
	}
	if c.Status().State != StateIdle {
		t.Fatal("expected idle after capture failure")
	}
}

func TestEncodeFailureSurfacesEncodingError(t *testing.T) {
	f := newFixture(t)
	c := NewController(Stages{
		Capturer: f.capturer,
		Encoder: func(string, audio.Buffer) (*audio.TempFile, error) {
			return nil, &audio.EncodingError{Path: "/nowhere", Err: errors.New("read-only file system")}
		},
		Transcriber: f.transcriber,
		Responder:   f.responder,
		Synthesizer: f.synthesizer,
	}, nil, nil, nil, Options{RecordDuration: time.Millisecond, SampleRate: 8000})
	defer c.Close()

	_, err := c.RunTurn(context.Background())
	var encErr *audio.EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncodingError, got %v", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageEncode {
		t.Fatalf("expected encode StageError, got %v", err)
	}
}

func TestRunTurnIgnoresCallerCancellation(t *testing.T) {
	f := newFixture(t)
	c := f.controller(nil)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.RunTurn(ctx); err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if f.transcriber.ctxErr != nil {
		t.Fatalf("expected run context detached from caller, got %v", f.transcriber.ctxErr)
	}
}

func TestTriggerRejectsWhileProcessing(t *testing.T) {
	f := newFixture(t)
	f.capturer.block = make(chan struct{})
	f.capturer.started = make(chan struct{}, 1)
	c := f.controller(nil)

	runID, err := c.Trigger()
	if err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}
	<-f.capturer.started

	status := c.Status()
	if status.State != StateProcessing || status.RunID != runID {
		t.Fatalf("expected processing %s, got %#v", runID, status)
	}
	if _, err := c.Trigger(); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy from second trigger, got %v", err)
	}
	if _, err := c.RunTurn(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy from RunTurn, got %v", err)
	}
	if err := c.EndSession(EndReasonReset); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy from EndSession, got %v", err)
	}

	close(f.capturer.block)
	c.Close()

	if got := len(c.History()); got != 2 {
		t.Fatalf("expected 2 entries after background run, got %d", got)
	}
	if f.capturer.calls != 1 {
		t.Fatalf("expected exactly one capture, got %d", f.capturer.calls)
	}
	if _, err := c.Trigger(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestEndSessionClearsHistoryAndSpeech(t *testing.T) {
	f := newFixture(t)
	c := f.controller(nil)
	defer c.Close()

	turn, err := c.RunTurn(context.Background())
	if err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	if err := c.EndSession(EndReasonReset); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if got := len(c.History()); got != 0 {
		t.Fatalf("expected empty history, got %d", got)
	}
	if _, ok := c.LatestSpeech(); ok {
		t.Fatal("expected no speech after session end")
	}
	if _, err := os.Stat(turn.SpeechPath); !os.IsNotExist(err) {
		t.Fatalf("expected speech file removed, stat err = %v", err)
	}

	events := f.hub.snapshot()
	if events[len(events)-1] != "session_ended" {
		t.Fatalf("expected session_ended last, got %v", events)
	}
}

func TestIdleTimeoutEndsSession(t *testing.T) {
	f := newFixture(t)
	f.hub.ended = make(chan string, 1)
	c := f.controller(NewDetector(20 * time.Millisecond))
	defer c.Close()

	if _, err := c.RunTurn(context.Background()); err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}

	select {
	case reason := <-f.hub.ended:
		if reason != EndReasonIdle {
			t.Fatalf("expected reason %q, got %q", EndReasonIdle, reason)
		}
	case <-time.After(time.Second):
		t.Fatal("expected idle timeout to end the session")
	}
	if got := len(c.History()); got != 0 {
		t.Fatalf("expected history cleared, got %d", got)
	}
}

func TestRunLogFailureDoesNotFailTurn(t *testing.T) {
	f := newFixture(t)
	f.runs.finishErr = errors.New("database is locked")
	c := f.controller(nil)
	defer c.Close()

	if _, err := c.RunTurn(context.Background()); err != nil {
		t.Fatalf("RunTurn failed: %v", err)
	}
	if got := len(c.History()); got != 2 {
		t.Fatalf("expected 2 entries, got %d", got)
	}
}
