// Package session orchestrates one live voice conversation: connect,
// streaming, teardown, and the handoff to post-session analysis.
package session

import "context"

// Event is an inbound message from the remote conversation stream,
// dispatched by the engine's single consuming loop.
type Event interface {
	sessionEventType() string
}

// OpenedEvent acknowledges the stream is ready for audio.
type OpenedEvent struct{}

func (OpenedEvent) sessionEventType() string { return "opened" }

// AudioEvent carries one synthesized audio delivery: raw 16-bit PCM at
// the playback sample rate.
type AudioEvent struct {
	Data []byte
}

func (AudioEvent) sessionEventType() string { return "audio" }

// TranscriptEvent carries the latest cumulative partial transcript of
// the user's current utterance.
type TranscriptEvent struct {
	Text string
}

func (TranscriptEvent) sessionEventType() string { return "partial_transcript" }

// TurnCompleteEvent marks the end of the current user turn.
type TurnCompleteEvent struct{}

func (TurnCompleteEvent) sessionEventType() string { return "turn_complete" }

// ErrorEvent reports a protocol-level failure on the stream.
type ErrorEvent struct {
	Err error
}

func (ErrorEvent) sessionEventType() string { return "error" }

// ClosedEvent reports that the remote closed the stream.
type ClosedEvent struct{}

func (ClosedEvent) sessionEventType() string { return "closed" }

// Stream is one open bidirectional conversation with the remote model.
// Events terminates (the channel closes) once the stream is closed from
// either side.
type Stream interface {
	Events() <-chan Event
	SendAudioFrame(frame string) error
	SendImageFrame(data []byte, mimeType string) error
	Close() error
}

// ConnectOptions configure a new stream.
type ConnectOptions struct {
	SystemInstruction string
	Voice             string
	Transcription     bool
}

// Connector opens remote conversation streams.
type Connector interface {
	Connect(ctx context.Context, opts ConnectOptions) (Stream, error)
}
