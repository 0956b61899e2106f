package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lmonteiro/james/pkg/audio"
	"github.com/lmonteiro/james/pkg/core"
	"github.com/lmonteiro/james/pkg/profile"
	"github.com/lmonteiro/james/pkg/transcript"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type fakeStream struct {
	events chan Event

	mu       sync.Mutex
	frames   []string
	images   int
	closed   bool
	closeErr error
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan Event, 16)}
}

func (s *fakeStream) Events() <-chan Event { return s.events }

func (s *fakeStream) SendAudioFrame(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

func (s *fakeStream) SendImageFrame(data []byte, mimeType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images++
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return s.closeErr
}

func (s *fakeStream) emit(ev Event) { s.events <- ev }

func (s *fakeStream) sentFrames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

type fakeConnector struct {
	mu     sync.Mutex
	stream *fakeStream
	err    error
	opts   ConnectOptions
	block  chan struct{}
}

func (c *fakeConnector) Connect(ctx context.Context, opts ConnectOptions) (Stream, error) {
	c.mu.Lock()
	c.opts = opts
	block := c.block
	c.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.stream, nil
}

type fakeCapture struct {
	mu       sync.Mutex
	running  bool
	startErr error
	forward  audio.FrameFunc
	stops    int
}

func (c *fakeCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.running = true
	return nil
}

func (c *fakeCapture) SetForward(fn audio.FrameFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forward = fn
}

func (c *fakeCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.stops++
}

func (c *fakeCapture) feed(frame string) {
	c.mu.Lock()
	fn := c.forward
	c.mu.Unlock()
	if fn != nil {
		fn(frame)
	}
}

func (c *fakeCapture) stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.running
}

type fakeScheduler struct {
	mu       sync.Mutex
	segments []audio.Segment
	stops    int
}

func (s *fakeScheduler) Schedule(seg audio.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = append(s.segments, seg)
}

func (s *fakeScheduler) Speaking() bool { return false }

func (s *fakeScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
}

func (s *fakeScheduler) scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.segments)
}

func (s *fakeScheduler) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

type fakeProfiles struct {
	mu   sync.Mutex
	prof *profile.Profile
	err  error
}

func (p *fakeProfiles) Current(ctx context.Context) (*profile.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.prof.Clone(), nil
}

func (p *fakeProfiles) Save(ctx context.Context, prof *profile.Profile) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prof = prof.Clone()
	return nil
}

type fakeAnalyzer struct {
	mu   sync.Mutex
	runs int
}

func (a *fakeAnalyzer) Run(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs++
}

func (a *fakeAnalyzer) runCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runs
}

type engineFixture struct {
	engine    *Engine
	connector *fakeConnector
	stream    *fakeStream
	capture   *fakeCapture
	scheduler *fakeScheduler
	sink      *transcript.Log
	analyzer  *fakeAnalyzer
}

func newEngineFixture() *engineFixture {
	stream := newFakeStream()
	f := &engineFixture{
		connector: &fakeConnector{stream: stream},
		stream:    stream,
		capture:   &fakeCapture{},
		scheduler: &fakeScheduler{},
		sink:      transcript.NewLog(),
		analyzer:  &fakeAnalyzer{},
	}
	f.engine = NewEngine(Options{
		Connector: f.connector,
		Capture:   f.capture,
		Scheduler: f.scheduler,
		Profiles:  &fakeProfiles{prof: profile.Default()},
		Sink:      f.sink,
		Analyzer:  f.analyzer,
		Logger:    testLogger(),
	})
	return f
}

func waitForPhase(t *testing.T, e *Engine, want Phase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.Phase() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("phase = %v, want %v", e.Phase(), want)
}

func TestEngine_Lifecycle(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	if err := f.engine.Start(ctx, true); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := f.engine.Phase(); got != PhaseConnecting {
		t.Fatalf("phase after start = %v, want connecting", got)
	}

	f.stream.emit(OpenedEvent{})
	waitForPhase(t, f.engine, PhaseActive)

	f.capture.feed("frame-1")
	if frames := f.stream.sentFrames(); len(frames) != 1 || frames[0] != "frame-1" {
		t.Fatalf("forwarded frames = %v", frames)
	}

	pcm := audio.EncodePCM16(make([]float32, 2400))
	f.stream.emit(AudioEvent{Data: pcm})
	f.stream.emit(TranscriptEvent{Text: "what is"})
	f.stream.emit(TranscriptEvent{Text: "what is on my agenda"})
	f.stream.emit(TurnCompleteEvent{})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && f.scheduler.scheduled() == 0 {
		time.Sleep(time.Millisecond)
	}
	if f.scheduler.scheduled() != 1 {
		t.Fatalf("scheduled segments = %d, want 1", f.scheduler.scheduled())
	}

	f.engine.Stop()
	waitForPhase(t, f.engine, PhaseIdle)

	var user []transcript.Message
	for _, m := range f.sink.Messages() {
		if m.Role == transcript.RoleUser {
			user = append(user, m)
		}
	}
	if len(user) != 1 || user[0].Content != "what is on my agenda" {
		t.Fatalf("user messages = %+v, want single cumulative transcript", user)
	}
	if !f.capture.stopped() {
		t.Fatalf("capture still running after stop")
	}
	if f.scheduler.stopCount() == 0 {
		t.Fatalf("scheduler not stopped")
	}
	if f.analyzer.runCount() != 1 {
		t.Fatalf("analysis runs = %d, want 1", f.analyzer.runCount())
	}
}

func TestEngine_StartWhileActiveFails(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	if err := f.engine.Start(ctx, true); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := f.engine.Start(ctx, true)
	if !core.IsType(err, core.ErrConnect) {
		t.Fatalf("second start = %v, want connect error", err)
	}

	f.engine.Stop()
	waitForPhase(t, f.engine, PhaseIdle)
}

func TestEngine_PermissionDeniedReturnsToIdle(t *testing.T) {
	f := newEngineFixture()
	f.capture.startErr = core.NewPermissionDeniedError("microphone access denied", nil)

	err := f.engine.Start(context.Background(), true)
	if !core.IsType(err, core.ErrPermissionDenied) {
		t.Fatalf("start = %v, want permission denied", err)
	}
	if got := f.engine.Phase(); got != PhaseIdle {
		t.Fatalf("phase = %v, want idle", got)
	}

	msgs := f.sink.Messages()
	if len(msgs) != 1 || msgs[0].Role != transcript.RoleSystem {
		t.Fatalf("messages = %+v, want one system notice", msgs)
	}
}

func TestEngine_ConnectFailureReturnsToIdle(t *testing.T) {
	f := newEngineFixture()
	f.connector.err = errors.New("dial refused")

	err := f.engine.Start(context.Background(), true)
	if !core.IsType(err, core.ErrConnect) {
		t.Fatalf("start = %v, want connect error", err)
	}
	if got := f.engine.Phase(); got != PhaseIdle {
		t.Fatalf("phase = %v, want idle", got)
	}
	if !f.capture.stopped() {
		t.Fatalf("capture must be released on connect failure")
	}
}

func TestEngine_StopDuringConnecting(t *testing.T) {
	f := newEngineFixture()
	f.connector.block = make(chan struct{})

	errCh := make(chan error, 1)
	go func() { errCh <- f.engine.Start(context.Background(), true) }()
	waitForPhase(t, f.engine, PhaseConnecting)

	f.engine.Stop()
	waitForPhase(t, f.engine, PhaseIdle)
	close(f.connector.block)

	if err := <-errCh; err != nil {
		t.Fatalf("interrupted start = %v, want nil", err)
	}
	if !f.capture.stopped() {
		t.Fatalf("capture must be released")
	}
}

func TestEngine_TeardownCompletesDespiteCloseFailure(t *testing.T) {
	f := newEngineFixture()
	f.stream.closeErr = errors.New("socket already gone")

	if err := f.engine.Start(context.Background(), true); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.stream.emit(OpenedEvent{})
	waitForPhase(t, f.engine, PhaseActive)

	f.engine.Stop()
	waitForPhase(t, f.engine, PhaseIdle)

	if !f.capture.stopped() {
		t.Fatalf("capture not released")
	}
	if f.scheduler.stopCount() == 0 {
		t.Fatalf("scheduler not released")
	}
}

func TestEngine_RemoteCloseTriggersTeardown(t *testing.T) {
	f := newEngineFixture()

	if err := f.engine.Start(context.Background(), true); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.stream.emit(OpenedEvent{})
	waitForPhase(t, f.engine, PhaseActive)

	f.stream.emit(ClosedEvent{})
	_ = f.stream.Close()
	waitForPhase(t, f.engine, PhaseIdle)
}

func TestEngine_EmptyTurnEmitsNothing(t *testing.T) {
	f := newEngineFixture()

	if err := f.engine.Start(context.Background(), true); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.stream.emit(OpenedEvent{})
	waitForPhase(t, f.engine, PhaseActive)

	f.stream.emit(TurnCompleteEvent{})
	f.engine.Stop()
	waitForPhase(t, f.engine, PhaseIdle)

	for _, m := range f.sink.Messages() {
		if m.Role == transcript.RoleUser {
			t.Fatalf("unexpected user message %+v from empty turn", m)
		}
	}
	if f.analyzer.runCount() != 0 {
		t.Fatalf("analysis must not run without exchanged messages")
	}
}

func TestEngine_TranscriptionDisabledDropsPartials(t *testing.T) {
	f := newEngineFixture()

	if err := f.engine.Start(context.Background(), false); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.stream.emit(OpenedEvent{})
	waitForPhase(t, f.engine, PhaseActive)

	f.stream.emit(TranscriptEvent{Text: "hello there"})
	f.stream.emit(TurnCompleteEvent{})
	f.engine.Stop()
	waitForPhase(t, f.engine, PhaseIdle)

	for _, m := range f.sink.Messages() {
		if m.Role == transcript.RoleUser {
			t.Fatalf("transcription disabled yet got user message %+v", m)
		}
	}
}

func TestEngine_SubmitVisualFrameOnlyWhileActive(t *testing.T) {
	f := newEngineFixture()

	f.engine.SubmitVisualFrame([]byte{0xff, 0xd8})
	if f.stream.images != 0 {
		t.Fatalf("idle engine must not forward frames")
	}

	if err := f.engine.Start(context.Background(), true); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.stream.emit(OpenedEvent{})
	waitForPhase(t, f.engine, PhaseActive)

	f.engine.SubmitVisualFrame([]byte{0xff, 0xd8})
	f.stream.mu.Lock()
	images := f.stream.images
	f.stream.mu.Unlock()
	if images != 1 {
		t.Fatalf("images forwarded = %d, want 1", images)
	}

	f.engine.Stop()
	waitForPhase(t, f.engine, PhaseIdle)
}

// staleConnector blocks its first connect until released (ignoring the
// context) and serves the stream immediately on later calls.
type staleConnector struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
	stream  *fakeStream
}

func (c *staleConnector) Connect(ctx context.Context, opts ConnectOptions) (Stream, error) {
	c.mu.Lock()
	c.calls++
	call := c.calls
	c.mu.Unlock()
	if call == 1 {
		<-c.release
		return nil, errors.New("dial timed out")
	}
	return c.stream, nil
}

func TestEngine_StaleConnectFailureDoesNotDisturbNewSession(t *testing.T) {
	stream := newFakeStream()
	conn := &staleConnector{release: make(chan struct{}), stream: stream}
	capture := &fakeCapture{}
	engine := NewEngine(Options{
		Connector: conn,
		Capture:   capture,
		Scheduler: &fakeScheduler{},
		Profiles:  &fakeProfiles{prof: profile.Default()},
		Sink:      transcript.NewLog(),
		Analyzer:  &fakeAnalyzer{},
		Logger:    testLogger(),
	})
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() { errCh <- engine.Start(ctx, true) }()
	waitForPhase(t, engine, PhaseConnecting)

	engine.Stop()
	waitForPhase(t, engine, PhaseIdle)

	if err := engine.Start(ctx, true); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if got := engine.Phase(); got != PhaseConnecting {
		t.Fatalf("phase = %v, want connecting", got)
	}

	// Let the first attempt's dial fail while the second is connecting.
	close(conn.release)
	if err := <-errCh; err != nil {
		t.Fatalf("stale start = %v, want nil", err)
	}

	if got := engine.Phase(); got != PhaseConnecting {
		t.Fatalf("stale failure reset phase to %v", got)
	}
	if capture.stopped() {
		t.Fatalf("stale attempt released the new session's microphone")
	}

	stream.emit(OpenedEvent{})
	waitForPhase(t, engine, PhaseActive)
	engine.Stop()
	waitForPhase(t, engine, PhaseIdle)
}

func TestEngine_RestartAfterStop(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	if err := f.engine.Start(ctx, true); err != nil {
		t.Fatalf("first start: %v", err)
	}
	f.stream.emit(OpenedEvent{})
	waitForPhase(t, f.engine, PhaseActive)
	f.engine.Stop()
	waitForPhase(t, f.engine, PhaseIdle)

	next := newFakeStream()
	f.connector.mu.Lock()
	f.connector.stream = next
	f.connector.mu.Unlock()

	if err := f.engine.Start(ctx, true); err != nil {
		t.Fatalf("second start: %v", err)
	}
	next.emit(OpenedEvent{})
	waitForPhase(t, f.engine, PhaseActive)
	f.engine.Stop()
	waitForPhase(t, f.engine, PhaseIdle)
}
