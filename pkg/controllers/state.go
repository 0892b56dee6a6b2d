package controllers

import (
	"context"
	"errors"

	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/stream"
)

var (
	ErrEmptyMessage    = errors.New("message content cannot be empty")
	ErrNothingToRetry  = errors.New("no user message to retry")
	ErrStreamerMissing = errors.New("no streamer configured")
)

// State is the generation state seen by front-ends
type State int

const (
	StateIdle State = iota
	StateGenerating
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	default:
		return "unknown"
	}
}

// Session is an open event stream that can be cancelled
type Session interface {
	Cancel()
	Done() <-chan struct{}
}

// Streamer opens event streams. Implementations must deliver events from
// their own goroutine, never from inside Open.
type Streamer interface {
	Open(ctx context.Context, req stream.Request, handlers stream.Handlers) (Session, error)
}

// StreamerFunc adapts a function to Streamer
type StreamerFunc func(ctx context.Context, req stream.Request, handlers stream.Handlers) (Session, error)

// Open implements Streamer
func (f StreamerFunc) Open(ctx context.Context, req stream.Request, handlers stream.Handlers) (Session, error) {
	return f(ctx, req, handlers)
}

// FromClient adapts a stream client to Streamer
func FromClient(client *stream.Client) Streamer {
	return StreamerFunc(func(ctx context.Context, req stream.Request, handlers stream.Handlers) (Session, error) {
		h, err := client.Open(ctx, req, handlers)
		if err != nil {
			return nil, err
		}
		return h, nil
	})
}

// StartOptions tune a single Start call
type StartOptions struct {
	// SkipEchoingUserMessage leaves the user message out of the turn log
	SkipEchoingUserMessage bool

	// IsRetry marks the turn as a re-submission of an earlier message
	IsRetry bool
}

// Callbacks are the outbound notifications. They run outside the controller
// lock, in the order they were raised, and may call back into the controller.
type Callbacks struct {
	OnRenderSnapshot      func(snapshot chat.Snapshot)
	OnToolListChanged     func()
	OnSessionStateChanged func(state State)
	OnInfo                func(text string, temporary bool)
	OnMessageAppended     func(msg chat.Message)
	OnTurnComplete        func(messages []chat.Message)
}

// Options configure a GenerationController
type Options struct {
	Provider   string
	Model      string
	StopMarker string

	// Sinks receive every finalized turn
	Sinks []chat.Sink

	// History seeds the turn log, for continuing an earlier conversation
	History []chat.Message
}

// DefaultStopMarker is appended to content cut short by Cancel
const DefaultStopMarker = "(generation stopped)"
