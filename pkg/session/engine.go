package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lmonteiro/james/pkg/audio"
	"github.com/lmonteiro/james/pkg/core"
	"github.com/lmonteiro/james/pkg/profile"
	"github.com/lmonteiro/james/pkg/transcript"
)

// Phase is the engine's lifecycle state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseActive
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseActive:
		return "active"
	case PhaseClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// CapturePipeline is the microphone side of the session.
type CapturePipeline interface {
	Start() error
	SetForward(fn audio.FrameFunc)
	Stop()
}

// PlaybackScheduler is the output side of the session.
type PlaybackScheduler interface {
	Schedule(seg audio.Segment)
	Speaking() bool
	Stop()
}

// Analyzer runs the post-session analysis pipeline. Failures are the
// analyzer's to report; Run never blocks teardown from completing.
type Analyzer interface {
	Run(ctx context.Context)
}

// Options wire an Engine.
type Options struct {
	Connector Connector
	Capture   CapturePipeline
	Scheduler PlaybackScheduler
	Profiles  profile.Provider
	Sink      transcript.Sink
	Analyzer  Analyzer
	Location  LocationProvider
	Logger    *slog.Logger

	// AnalysisTimeout bounds the post-session pipeline. Zero means a
	// 60 second default.
	AnalysisTimeout time.Duration

	// ConnectTimeout bounds the connect attempt only; an established
	// session is never cut by it. Zero means a 15 second default.
	ConnectTimeout time.Duration
}

// Engine is the session state machine. It exclusively owns the capture
// device, the playback scheduler, and the remote stream for the
// session's lifetime; one session may be active at a time.
type Engine struct {
	connector Connector
	capture   CapturePipeline
	scheduler PlaybackScheduler
	profiles  profile.Provider
	sink      transcript.Sink
	analyzer  Analyzer
	location  LocationProvider
	logger    *slog.Logger

	analysisTimeout time.Duration
	connectTimeout  time.Duration

	acc transcript.Accumulator

	mu            sync.Mutex
	phase         Phase
	attempt       uint64
	stream        Stream
	cancelConnect context.CancelFunc
	loopDone      chan struct{}
	transcription bool
	exchanged     int
}

// NewEngine builds an idle engine.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.AnalysisTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 15 * time.Second
	}
	return &Engine{
		connector:       opts.Connector,
		capture:         opts.Capture,
		scheduler:       opts.Scheduler,
		profiles:        opts.Profiles,
		sink:            opts.Sink,
		analyzer:        opts.Analyzer,
		location:        opts.Location,
		logger:          logger,
		analysisTimeout: timeout,
		connectTimeout:  connectTimeout,
	}
}

// Phase returns the current lifecycle phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Start opens a new conversation session. It acquires the microphone,
// composes the dynamic system instruction, and opens the remote
// stream. A permission refusal or connect failure is reported to the
// transcript and returned; the engine is back in Idle either way.
func (e *Engine) Start(ctx context.Context, transcriptionEnabled bool) error {
	e.mu.Lock()
	if e.phase != PhaseIdle {
		e.mu.Unlock()
		return core.NewConnectError("a session is already active", nil)
	}
	e.phase = PhaseConnecting
	e.attempt++
	attempt := e.attempt
	e.transcription = transcriptionEnabled
	e.exchanged = 0
	connectCtx, cancel := context.WithCancel(ctx)
	e.cancelConnect = cancel
	e.mu.Unlock()

	e.acc.Reset()

	prof, err := e.profiles.Current(ctx)
	if err != nil {
		e.abortConnect(attempt, cancel)
		e.report("I could not load your profile. Please try again.")
		return core.NewConnectError("loading profile failed", err)
	}

	if err := e.capture.Start(); err != nil {
		e.abortConnect(attempt, cancel)
		e.report("Microphone access was denied. Please allow it in your system settings.")
		return err
	}

	sys := ComposeSystemInstruction(prof, time.Now(), e.lookupLocation(ctx, prof))

	// Cancel only the connect attempt on timeout. The established
	// stream must not share the deadline, so no WithTimeout here.
	dialTimer := time.AfterFunc(e.connectTimeout, cancel)
	stream, err := e.connector.Connect(connectCtx, ConnectOptions{
		SystemInstruction: sys,
		Voice:             prof.Voice,
		Transcription:     transcriptionEnabled,
	})
	dialTimer.Stop()
	if err != nil {
		e.mu.Lock()
		owned := e.attempt == attempt
		interrupted := !owned || e.phase != PhaseConnecting
		if owned && e.phase == PhaseConnecting {
			e.phase = PhaseIdle
			e.cancelConnect = nil
		}
		e.mu.Unlock()
		cancel()
		if !owned {
			// A newer session owns the devices now; touch nothing.
			return nil
		}
		e.capture.Stop()
		if interrupted {
			// Stop was issued mid-connect; teardown owns recovery.
			return nil
		}
		e.report("I could not connect. Check your internet connection and try again.")
		return core.NewConnectError("opening remote stream failed", err)
	}

	e.mu.Lock()
	if e.attempt != attempt || e.phase != PhaseConnecting {
		// Stop or a newer session raced the connect; release only what
		// this attempt still owns.
		stale := e.attempt != attempt
		e.mu.Unlock()
		if err := stream.Close(); err != nil {
			e.logger.Error("closing raced stream failed", "error", err)
		}
		if !stale {
			e.capture.Stop()
		}
		return nil
	}
	e.stream = stream
	e.loopDone = make(chan struct{})
	loopDone := e.loopDone
	e.mu.Unlock()

	e.report("Conversation started...")
	go e.runLoop(stream, loopDone)
	return nil
}

// Stop tears the session down. Fire-and-forget: teardown and the
// post-session analysis run asynchronously. Safe to call from any
// phase; a stop while Idle is a no-op.
func (e *Engine) Stop() {
	go e.shutdown()
}

// SubmitVisualFrame forwards one still image to the remote stream.
// Only meaningful while Active; silently ignored otherwise. No
// acknowledgement is expected.
func (e *Engine) SubmitVisualFrame(data []byte) {
	e.mu.Lock()
	stream := e.stream
	active := e.phase == PhaseActive
	e.mu.Unlock()
	if !active || stream == nil || len(data) == 0 {
		return
	}
	if err := stream.SendImageFrame(data, "image/jpeg"); err != nil {
		e.logger.Warn("visual frame dropped", "error", err)
	}
}

func (e *Engine) runLoop(stream Stream, done chan struct{}) {
	defer close(done)
	for ev := range stream.Events() {
		switch ev := ev.(type) {
		case OpenedEvent:
			e.onOpened(stream)
		case AudioEvent:
			seg, err := audio.DecodeSegment(ev.Data, audio.PlaybackSampleRate, 1)
			if err != nil {
				e.logger.Warn("dropping undecodable audio segment", "error", err)
				continue
			}
			e.scheduler.Schedule(seg)
		case TranscriptEvent:
			if e.transcriptionEnabled() {
				e.acc.SetPartial(ev.Text)
			}
		case TurnCompleteEvent:
			if text, ok := e.acc.Flush(); ok {
				e.appendExchanged(transcript.New(transcript.RoleUser, text))
			}
		case ErrorEvent:
			e.logger.Error("remote stream error", "error", ev.Err)
			e.report("Something went wrong while processing the response. The conversation was closed to keep things stable.")
			go e.shutdown()
		case ClosedEvent:
			go e.shutdown()
		}
	}
}

func (e *Engine) onOpened(stream Stream) {
	e.mu.Lock()
	if e.phase != PhaseConnecting {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	// Forward must be live before the phase flips to Active.
	e.capture.SetForward(func(frame string) {
		if err := stream.SendAudioFrame(frame); err != nil {
			e.logger.Warn("outbound audio frame dropped", "error", err)
		}
	})

	e.mu.Lock()
	if e.phase == PhaseConnecting {
		e.phase = PhaseActive
	} else {
		// Teardown raced the open; undo the forward.
		e.mu.Unlock()
		e.capture.SetForward(nil)
		return
	}
	e.mu.Unlock()
}

// shutdown is the single teardown path. The release sequence is
// unconditional: every step is attempted even if a prior one fails, and
// failures are logged rather than propagated, so teardown always
// completes. The engine stays in Closing until post-session analysis
// finishes, which serializes it with the next Start.
func (e *Engine) shutdown() {
	e.mu.Lock()
	if e.phase == PhaseIdle || e.phase == PhaseClosing {
		e.mu.Unlock()
		return
	}
	e.phase = PhaseClosing
	cancel := e.cancelConnect
	e.cancelConnect = nil
	stream := e.stream
	e.stream = nil
	loopDone := e.loopDone
	e.loopDone = nil
	exchanged := e.exchanged
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			e.logger.Error("closing remote stream failed", "error", err)
		}
	}
	e.capture.SetForward(nil)
	e.capture.Stop()
	e.scheduler.Stop()
	e.acc.Reset()

	if loopDone != nil {
		<-loopDone
	}

	if exchanged > 0 && e.analyzer != nil {
		ctx, cancelAnalysis := context.WithTimeout(context.Background(), e.analysisTimeout)
		e.analyzer.Run(ctx)
		cancelAnalysis()
	}

	e.mu.Lock()
	e.phase = PhaseIdle
	e.mu.Unlock()
}

// abortConnect rolls a failed connect attempt back to Idle. It only
// touches engine state still owned by this attempt, so a concurrent
// stop or a newer session is never disturbed.
func (e *Engine) abortConnect(attempt uint64, cancel context.CancelFunc) {
	e.mu.Lock()
	if e.attempt == attempt && e.phase == PhaseConnecting {
		e.phase = PhaseIdle
		e.cancelConnect = nil
	}
	e.mu.Unlock()
	cancel()
}

func (e *Engine) lookupLocation(ctx context.Context, prof *profile.Profile) *Location {
	if e.location == nil || !prof.Integrations.Geolocation {
		return nil
	}
	loc, err := e.location.Current(ctx)
	if err != nil {
		e.logger.Warn("location unavailable", "error", err)
		return nil
	}
	return loc
}

func (e *Engine) transcriptionEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transcription
}

func (e *Engine) appendExchanged(msg transcript.Message) {
	e.mu.Lock()
	e.exchanged++
	e.mu.Unlock()
	e.sink.Append(msg)
}

func (e *Engine) report(content string) {
	e.sink.Append(transcript.New(transcript.RoleSystem, content))
}
