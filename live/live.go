// Package live runs a real-time voice conversation between a user and a live
// model. Inbound audio is forwarded to the model and a transcriber; model
// audio goes straight back to the user; tool calls are answered inline; and
// each completed turn is written to memory once.
package live

import (
	"context"
	"errors"
	"fmt"

	"github.com/becomeliminal/nim-companion/core"
)

var (
	// ErrInputClosed is returned by the forwarder when the inbound audio
	// channel is closed.
	ErrInputClosed = errors.New("live: audio input closed")

	// ErrTransportClosed is returned when the user-facing transport is gone.
	ErrTransportClosed = errors.New("live: transport closed")
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateRecovering
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateRecovering:
		return "recovering"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// EventKind tags an Event.
type EventKind int

const (
	EventAudio EventKind = iota + 1
	EventText
	EventToolCall
	EventTurnComplete
)

// Event is one message received from the live model. Exactly one payload
// field is set, selected by Kind.
type Event struct {
	Kind  EventKind
	Audio []byte
	Text  string
	Calls []ToolCall
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResponse answers a ToolCall.
type ToolResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

// ModelConn is an open live model connection. Implementations must allow
// Receive to run concurrently with the Send methods.
type ModelConn interface {
	// SendAudio streams one chunk of realtime audio input. It does not mark
	// the end of the user's turn.
	SendAudio(ctx context.Context, chunk []byte) error
	SendToolResponses(ctx context.Context, responses []ToolResponse) error
	// Receive blocks until the next event arrives.
	Receive(ctx context.Context) (Event, error)
	Close() error
}

// ModelDialer opens live model connections.
type ModelDialer interface {
	Dial(ctx context.Context) (ModelConn, error)
}

// Transcript is a piece of recognised user speech.
type Transcript struct {
	Text  string
	Final bool
}

// Transcriber turns audio into transcripts. Transcribe consumes audio until
// the channel is closed or ctx is done and calls emit for every transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audio <-chan []byte, emit func(Transcript)) error
}

// Output is the user-facing side of the session.
type Output interface {
	SendAudio(ctx context.Context, chunk []byte) error
	// Closed reports whether the transport has gone away.
	Closed() bool
}

// Memory is the part of memory.Coordinator a session writes to.
type Memory interface {
	AppendShortTerm(userID string, role core.Role, text string)
	Store(ctx context.Context, userID, agentID, userText, agentText string) string
}
