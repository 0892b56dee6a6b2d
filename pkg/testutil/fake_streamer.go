package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/killallgit/threadline/pkg/controllers"
	"github.com/killallgit/threadline/pkg/stream"
)

// FakeStreamer implements controllers.Streamer by replaying scripted events.
// Each Open consumes the next script; the last script is reused once the
// queue runs out.
type FakeStreamer struct {
	mu       sync.Mutex
	scripts  [][]stream.Event
	held     []bool
	next     int
	delay    time.Duration
	openErr  error
	sessions []*FakeSession
	requests []stream.Request
}

// NewFakeStreamer creates a streamer whose first session plays script. With
// no script nothing is queued; sessions then close without any event.
func NewFakeStreamer(script ...stream.Event) *FakeStreamer {
	f := &FakeStreamer{}
	if len(script) == 0 {
		return f
	}
	return f.Then(script...)
}

// Then queues the script for the next session
func (f *FakeStreamer) Then(script ...stream.Event) *FakeStreamer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, script)
	f.held = append(f.held, false)
	return f
}

// ThenHold queues a session that plays script and then stays open until the
// test calls Emit, Finish or Cancel
func (f *FakeStreamer) ThenHold(script ...stream.Event) *FakeStreamer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, script)
	f.held = append(f.held, true)
	return f
}

// WithDelay sets the pause before every scripted event
func (f *FakeStreamer) WithDelay(d time.Duration) *FakeStreamer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
	return f
}

// FailOpen makes every later Open return err
func (f *FakeStreamer) FailOpen(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
}

// Open implements controllers.Streamer
func (f *FakeStreamer) Open(ctx context.Context, req stream.Request, handlers stream.Handlers) (controllers.Session, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	if f.openErr != nil {
		err := f.openErr
		f.mu.Unlock()
		return nil, err
	}

	var script []stream.Event
	held := false
	if len(f.scripts) > 0 {
		idx := f.next
		if idx >= len(f.scripts) {
			idx = len(f.scripts) - 1
		} else {
			f.next++
		}
		script = f.scripts[idx]
		held = f.held[idx]
	}

	sess := &FakeSession{
		Request:  req,
		handlers: handlers,
		done:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
	f.sessions = append(f.sessions, sess)
	delay := f.delay
	f.mu.Unlock()

	go sess.play(ctx, script, delay, held)
	return sess, nil
}

// Sessions returns every session opened so far
func (f *FakeStreamer) Sessions() []*FakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*FakeSession, len(f.sessions))
	copy(out, f.sessions)
	return out
}

// LastSession returns the most recent session, or nil
func (f *FakeStreamer) LastSession() *FakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

// Requests returns every request passed to Open
func (f *FakeStreamer) Requests() []stream.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stream.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

// FakeSession is one scripted stream
type FakeSession struct {
	Request stream.Request

	handlers  stream.Handlers
	cancelled atomic.Bool
	once      sync.Once
	finish    sync.Once
	stop      chan struct{}
	done      chan struct{}
	emitMu    sync.Mutex
}

func (s *FakeSession) play(ctx context.Context, script []stream.Event, delay time.Duration, held bool) {
	for _, ev := range script {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-s.stop:
				s.close()
				return
			case <-ctx.Done():
				s.close()
				return
			}
		}
		if !s.Emit(ev) {
			s.close()
			return
		}
	}

	if held {
		select {
		case <-s.stop:
		case <-ctx.Done():
		}
	}
	s.close()
}

// Emit delivers ev unless the session was cancelled, like the real client
func (s *FakeSession) Emit(ev stream.Event) bool {
	if s.cancelled.Load() {
		return false
	}
	s.EmitUnchecked(ev)
	return !s.cancelled.Load()
}

// EmitUnchecked delivers ev even after Cancel, standing in for a callback
// that was already in flight
func (s *FakeSession) EmitUnchecked(ev stream.Event) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.handlers.Dispatch(ev)
}

// Finish ends a held session as if the connection closed
func (s *FakeSession) Finish() {
	s.once.Do(func() { close(s.stop) })
}

// Cancel implements controllers.Session
func (s *FakeSession) Cancel() {
	s.cancelled.Store(true)
	s.Finish()
}

// Cancelled reports whether Cancel was called
func (s *FakeSession) Cancelled() bool {
	return s.cancelled.Load()
}

// Done implements controllers.Session
func (s *FakeSession) Done() <-chan struct{} {
	return s.done
}

func (s *FakeSession) close() {
	s.finish.Do(func() { close(s.done) })
}

// Token builds a token event
func Token(text string) stream.Event {
	return stream.Event{Kind: stream.KindToken, Text: text}
}

// ToolCall builds a tool_call event
func ToolCall(id, name, args string) stream.Event {
	return stream.Event{Kind: stream.KindToolCall, ToolCall: stream.ToolCall{ID: id, Name: name, ArgsJSON: args}}
}

// ToolUpdate builds a tool_update event; an empty result is left unset
func ToolUpdate(id, status, result string) stream.Event {
	update := stream.ToolUpdate{ID: id, Status: status}
	if result != "" {
		update.Result = &result
	}
	return stream.Event{Kind: stream.KindToolUpdate, ToolUpdate: update}
}

// Depth builds a recursion_depth event
func Depth(depth int) stream.Event {
	return stream.Event{Kind: stream.KindRecursionDepth, Depth: depth}
}

// Info builds an info event
func Info(text string, temporary bool) stream.Event {
	return stream.Event{Kind: stream.KindInfo, Text: text, Temporary: temporary}
}

// Final builds a final event
func Final(text string) stream.Event {
	return stream.Event{Kind: stream.KindFinal, Text: text}
}

// ServerError builds an error event
func ServerError(message string) stream.Event {
	return stream.Event{Kind: stream.KindError, Text: message}
}

// Done builds a done event
func Done() stream.Event {
	return stream.Event{Kind: stream.KindDone}
}
