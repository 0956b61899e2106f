// Package transcript models the conversation log: ordered messages with
// serializable interactive actions, the sink the engine emits into, and
// the accumulator that turns partial transcription updates into user
// turns.
package transcript

import (
	"sync"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ActionKind identifies what an interactive action does when triggered.
// Actions are plain data resolved by a central handler so messages stay
// serializable.
type ActionKind string

const (
	ActionAcceptReminder  ActionKind = "accept_reminder"
	ActionDeclineReminder ActionKind = "decline_reminder"
)

// Action is one interactive choice attached to a message.
type Action struct {
	Kind   ActionKind `json:"kind"`
	Label  string     `json:"label"`
	ItemID string     `json:"itemId,omitempty"`
}

// Message is one conversation entry.
type Message struct {
	ID      string   `json:"id"`
	Role    Role     `json:"role"`
	Content string   `json:"content"`
	Actions []Action `json:"actions,omitempty"`
}

// New builds a message with a fresh id.
func New(role Role, content string, actions ...Action) Message {
	return Message{ID: uuid.NewString(), Role: role, Content: content, Actions: actions}
}

// Sink consumes conversation messages in order. Remove withdraws a
// previously appended interactive message once its action has been
// decided; the engine never reads messages back through this interface.
type Sink interface {
	Append(msg Message)
	Remove(id string)
}

// Log is an in-memory Sink that keeps the ordered message sequence for
// the transcript view.
type Log struct {
	mu   sync.Mutex
	msgs []Message
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{msgs: make([]Message, 0, 32)}
}

// Append adds a message to the end of the log.
func (l *Log) Append(msg Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
}

// Remove deletes the message with the given id, preserving order.
func (l *Log) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, msg := range l.msgs {
		if msg.ID == id {
			l.msgs = append(l.msgs[:i], l.msgs[i+1:]...)
			return
		}
	}
}

// Messages returns a snapshot of the log.
func (l *Log) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Accumulator buffers the latest cumulative partial transcript for the
// current user turn. The remote stream delivers cumulative text, so each
// update replaces the buffer instead of appending.
type Accumulator struct {
	mu     sync.Mutex
	buffer string
}

// SetPartial replaces the buffer with the latest cumulative text.
func (a *Accumulator) SetPartial(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffer = text
}

// Current returns the buffered partial transcript.
func (a *Accumulator) Current() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buffer
}

// Flush returns the buffered text and clears the buffer. The boolean is
// false when the buffer was empty, in which case no turn should be
// emitted.
func (a *Accumulator) Flush() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	text := a.buffer
	a.buffer = ""
	return text, text != ""
}

// Reset discards any buffered text.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffer = ""
}
