package controllers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/killallgit/threadline/pkg/chat"
	"github.com/killallgit/threadline/pkg/dedup"
	"github.com/killallgit/threadline/pkg/logger"
	"github.com/killallgit/threadline/pkg/stream"
	"github.com/killallgit/threadline/pkg/tools"
	"github.com/scylladb/go-set/strset"
)

// session is one generation turn. Handlers holding a session that is no
// longer current are ignored.
type session struct {
	id           string
	handle       Session
	activeTools  *strset.Set
	hadTools     bool
	doneReceived bool
	failed       bool
	retry        bool
	logStart     int
	finished     chan struct{}
}

// GenerationController drives one conversation: it submits user messages,
// routes stream events to the tool lifecycle and the response assembler,
// and keeps the turn log.
//
// State machine: Idle -> Generating on Start, Generating -> Idle on done,
// server error or Cancel. At most one session is active.
type GenerationController struct {
	mu       sync.Mutex
	streamer Streamer
	opts     Options

	log       *chat.Log
	lifecycle *tools.Lifecycle
	assembler *chat.Assembler

	state          State
	current        *session
	lastFinished   chan struct{}
	lastAttachment *chat.Attachment

	callbacks Callbacks
	pending   []func()
	draining  bool

	clog *logger.ComponentLogger
}

// NewGenerationController creates an idle controller
func NewGenerationController(streamer Streamer, opts Options) *GenerationController {
	if opts.StopMarker == "" {
		opts.StopMarker = DefaultStopMarker
	}

	c := &GenerationController{
		streamer:  streamer,
		opts:      opts,
		log:       chat.NewLog(opts.History...),
		lifecycle: tools.NewLifecycle(),
		clog:      logger.WithComponent("generation"),
	}

	// lifecycle and assembler are only driven under c.mu, so their
	// callbacks can enqueue directly
	c.lifecycle.SetOnChange(func() {
		c.enqueue(func() {
			if c.callbacks.OnToolListChanged != nil {
				c.callbacks.OnToolListChanged()
			}
		})
	})
	c.assembler = chat.NewAssembler(c.onSnapshot, c.onMessageClosed)

	return c
}

// SetCallbacks replaces the outbound notification callbacks
func (c *GenerationController) SetCallbacks(cb Callbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = cb
}

// Start submits message and opens a stream session. Any active session is
// cancelled first. An empty message without an attachment is rejected.
func (c *GenerationController) Start(ctx context.Context, message string, attachment *chat.Attachment, opts StartOptions) error {
	if strings.TrimSpace(message) == "" && attachment == nil {
		return ErrEmptyMessage
	}
	if c.streamer == nil {
		return ErrStreamerMissing
	}

	c.mu.Lock()
	if c.current != nil {
		c.clog.Info("Cancelling active session for new start", "session", c.current.id)
		c.cancelLocked()
	}

	sess := &session{
		id:          uuid.NewString(),
		activeTools: strset.New(),
		retry:       opts.IsRetry,
		finished:    make(chan struct{}),
	}

	if !opts.IsRetry {
		c.lifecycle.Clear()
	}
	c.lifecycle.ResetForNewTurn()
	c.assembler.Reset()

	sess.logStart = c.log.Len()
	if !opts.SkipEchoingUserMessage {
		user := chat.NewUserMessage(message)
		user.Attachment = attachment.Ref()
		user.SessionID = sess.id
		user.Retry = opts.IsRetry
		c.appendLocked(user)
	}
	c.lastAttachment = attachment

	req := stream.Request{
		Message:  strings.TrimSpace(message),
		Provider: c.opts.Provider,
		Model:    c.opts.Model,
	}
	if attachment != nil {
		req.Image = attachment.Payload(c.opts.Provider)
	}

	c.current = sess
	c.lastFinished = sess.finished
	c.setStateLocked(StateGenerating)
	c.clog.Info("Starting generation", "session", sess.id, "retry", opts.IsRetry, "attachment", attachment != nil)

	handle, err := c.streamer.Open(ctx, req, c.handlersFor(sess))
	if err != nil {
		c.clog.Error("Failed to open stream", "session", sess.id, "error", err)
		c.failLocked(sess, fmt.Sprintf("failed to start generation: %v", err))
		c.unlockAndNotify()
		return fmt.Errorf("failed to open stream: %w", err)
	}
	sess.handle = handle
	c.unlockAndNotify()

	go c.watch(ctx, sess, handle)
	return nil
}

// watch ends the session when the caller's context is cancelled or the
// stream stops without a terminal event
func (c *GenerationController) watch(ctx context.Context, sess *session, handle Session) {
	select {
	case <-ctx.Done():
		c.mu.Lock()
		if c.current == sess {
			c.clog.Info("Context cancelled", "session", sess.id)
			c.cancelLocked()
		}
		c.unlockAndNotify()
	case <-handle.Done():
		c.mu.Lock()
		if c.current == sess {
			if ctx.Err() != nil {
				c.cancelLocked()
			} else {
				c.clog.Warn("Stream ended without a terminal event", "session", sess.id)
				c.failLocked(sess, stream.ErrStreamClosed.Error())
			}
		}
		c.unlockAndNotify()
	case <-sess.finished:
	}
}

// Cancel stops the active session. The stop marker is appended to the
// partial content unless done was already received. Idempotent.
func (c *GenerationController) Cancel() {
	c.mu.Lock()
	if c.current != nil {
		c.cancelLocked()
	}
	c.unlockAndNotify()
}

func (c *GenerationController) cancelLocked() {
	sess := c.current
	c.releaseLocked(sess)
	if !sess.doneReceived {
		c.assembler.Interrupt(c.opts.StopMarker)
	}
	c.clog.Info("Generation cancelled", "session", sess.id)
	c.finishLocked(sess)
}

// Retry re-submits the last user message without echoing it again
func (c *GenerationController) Retry(ctx context.Context) error {
	c.mu.Lock()
	last, ok := c.log.LastUserMessage()
	attachment := c.lastAttachment
	c.mu.Unlock()

	if !ok {
		return ErrNothingToRetry
	}
	if last.Attachment == nil {
		attachment = nil
	}
	return c.Start(ctx, last.Content, attachment, StartOptions{IsRetry: true, SkipEchoingUserMessage: true})
}

// Wait blocks until the current or most recent session has finished and its
// notifications were delivered
func (c *GenerationController) Wait(ctx context.Context) error {
	c.mu.Lock()
	finished := c.lastFinished
	c.mu.Unlock()

	if finished == nil {
		return nil
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *GenerationController) handlersFor(sess *session) stream.Handlers {
	return stream.Handlers{
		OnToken: func(text string) {
			c.withSession(sess, func() {
				accepted := c.assembler.OnToken(text)
				if accepted && sess.hadTools && !c.lifecycle.FinalResponseStarted() {
					c.lifecycle.BeginFinalResponse()
				}
			})
		},
		OnToolCall: func(call stream.ToolCall) {
			c.withSession(sess, func() {
				sess.hadTools = true
				sess.activeTools.Add(call.ID)
				c.lifecycle.OnToolCall(call)
			})
		},
		OnToolUpdate: func(update stream.ToolUpdate) {
			c.withSession(sess, func() {
				sess.hadTools = true
				c.lifecycle.OnToolUpdate(update)
				if inv, ok := c.lifecycle.Get(update.ID); ok {
					if inv.Status.IsTerminal() {
						sess.activeTools.Remove(update.ID)
					} else {
						sess.activeTools.Add(update.ID)
					}
				}
			})
		},
		OnRecursionDepth: func(depth int) {
			c.withSession(sess, func() {
				c.assembler.OnRecursionDepth(depth)
			})
		},
		OnInfo: func(text string, temporary bool) {
			c.withSession(sess, func() {
				c.enqueue(func() {
					if c.callbacks.OnInfo != nil {
						c.callbacks.OnInfo(text, temporary)
					}
				})
			})
		},
		OnFinal: func(text string) {
			c.withSession(sess, func() {
				c.lifecycle.BeginFinalResponse()
				if text != "" {
					c.assembler.OnToken(text)
				}
			})
		},
		OnError: func(message string) {
			c.withSession(sess, func() {
				c.clog.Error("Generation failed", "session", sess.id, "error", message)
				c.failLocked(sess, message)
			})
		},
		OnDone: func() {
			c.withSession(sess, func() {
				sess.doneReceived = true
				c.assembler.OnDone()
				c.finishLocked(sess)
			})
		},
	}
}

func (c *GenerationController) withSession(sess *session, fn func()) {
	c.mu.Lock()
	if c.current != sess {
		c.mu.Unlock()
		c.clog.Debug("Ignoring event from stale session", "session", sess.id)
		return
	}
	fn()
	c.unlockAndNotify()
}

// failLocked ends sess with exactly one error message
func (c *GenerationController) failLocked(sess *session, message string) {
	if sess.failed {
		return
	}
	sess.failed = true
	c.releaseLocked(sess)
	c.assembler.Abort()

	errMsg := chat.NewErrorMessage(message)
	errMsg.SessionID = sess.id
	errMsg.Retry = sess.retry
	c.appendLocked(errMsg)
	c.finishLocked(sess)
}

// releaseLocked queues the transport cancel for sess. Handle.Cancel may wait
// for a callback that needs c.mu, so it runs with the notifications.
func (c *GenerationController) releaseLocked(sess *session) {
	handle := sess.handle
	if handle == nil {
		return
	}
	c.enqueue(handle.Cancel)
}

func (c *GenerationController) finishLocked(sess *session) {
	if c.current != sess {
		return
	}
	if pending := sess.activeTools.List(); len(pending) > 0 || !c.lifecycle.AreAllComplete() {
		c.clog.Warn("Turn ended with pending tools", "session", sess.id, "pending", strings.Join(pending, ","))
	}

	c.current = nil
	c.setStateLocked(StateIdle)

	turn := c.log.Since(sess.logStart)
	sinks := c.opts.Sinks
	c.enqueue(func() {
		for _, sink := range sinks {
			if err := sink.Record(context.Background(), turn); err != nil {
				c.clog.Error("Failed to record turn", "session", sess.id, "error", err)
			}
		}
		if c.callbacks.OnTurnComplete != nil {
			c.callbacks.OnTurnComplete(turn)
		}
		close(sess.finished)
	})
}

func (c *GenerationController) setStateLocked(state State) {
	if c.state == state {
		return
	}
	c.state = state
	c.enqueue(func() {
		if c.callbacks.OnSessionStateChanged != nil {
			c.callbacks.OnSessionStateChanged(state)
		}
	})
}

func (c *GenerationController) appendLocked(msg chat.Message) {
	stored := c.log.Append(msg)
	c.enqueue(func() {
		if c.callbacks.OnMessageAppended != nil {
			c.callbacks.OnMessageAppended(stored)
		}
	})
}

func (c *GenerationController) onSnapshot(s chat.Snapshot) {
	c.enqueue(func() {
		if c.callbacks.OnRenderSnapshot != nil {
			c.callbacks.OnRenderSnapshot(s)
		}
	})
}

func (c *GenerationController) onMessageClosed(msg chat.Message) {
	if c.current != nil {
		msg.SessionID = c.current.id
		msg.Retry = c.current.retry
	}
	c.appendLocked(msg)
}

// enqueue must be called with c.mu held
func (c *GenerationController) enqueue(fn func()) {
	c.pending = append(c.pending, fn)
}

// unlockAndNotify releases c.mu and delivers queued notifications in order.
// Only one goroutine delivers at a time; notifications raised meanwhile are
// picked up by the goroutine already delivering.
func (c *GenerationController) unlockAndNotify() {
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.pending) > 0 {
		batch := c.pending
		c.pending = nil
		c.mu.Unlock()
		for _, fn := range batch {
			fn()
		}
		c.mu.Lock()
	}
	c.draining = false
	c.mu.Unlock()
}

// State returns the current generation state
func (c *GenerationController) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsGenerating reports whether a session is active
func (c *GenerationController) IsGenerating() bool {
	return c.State() == StateGenerating
}

// Messages returns the turn log
func (c *GenerationController) Messages() []chat.Message {
	return c.log.Messages()
}

// Invocations returns the tool invocations with their expanded state
func (c *GenerationController) Invocations() []tools.Invocation {
	return c.lifecycle.Invocations()
}

// Current returns the message being streamed, if any
func (c *GenerationController) Current() (chat.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assembler.Current()
}

// CopyText returns the deduplicated content of one logged message
func (c *GenerationController) CopyText(id string) (string, bool) {
	msg, ok := c.log.Get(id)
	if !ok {
		return "", false
	}
	return dedup.RemoveDuplicateContent(msg.Content), true
}

// Transcript renders the whole log as plain text with duplicates removed
func (c *GenerationController) Transcript() string {
	var b strings.Builder
	for i, msg := range c.log.Messages() {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(roleLabel(msg.Role))
		b.WriteString(": ")
		b.WriteString(dedup.RemoveDuplicateContent(msg.Content))
		if msg.Attachment != nil {
			fmt.Fprintf(&b, " [image: %s]", msg.Attachment.Name)
		}
	}
	return b.String()
}

func roleLabel(role string) string {
	switch role {
	case chat.RoleUser:
		return "User"
	case chat.RoleAssistant:
		return "Assistant"
	case chat.RoleError:
		return "Error"
	case chat.RoleSystem:
		return "System"
	default:
		return role
	}
}
