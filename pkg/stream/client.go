package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/killallgit/threadline/pkg/config"
	"github.com/killallgit/threadline/pkg/logger"
)

// ErrStreamClosed is reported when the response ends before a done event
var ErrStreamClosed = errors.New("connection closed before the response completed")

const maxErrorBodyBytes = 64 << 10

// StatusError is a non-2xx response from the chat endpoint
type StatusError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %s", e.Status)
}

func newStatusError(resp *http.Response) *StatusError {
	statusErr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	if statusErr.Status == "" {
		statusErr.Status = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		return statusErr
	}
	if json.Valid(body) {
		statusErr.Message = errorText(body)
		if statusErr.Message == "unknown server error" {
			statusErr.Message = ""
		}
	}
	return statusErr
}

// Client opens event streams against one chat endpoint
type Client struct {
	endpoint      string
	httpClient    *http.Client
	maxEventBytes int
	log           *logger.ComponentLogger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithMaxEventBytes sets the size limit for one event block
func WithMaxEventBytes(n int) Option {
	return func(client *Client) {
		client.maxEventBytes = n
	}
}

// NewClient creates a client for endpoint
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:      endpoint,
		httpClient:    http.DefaultClient,
		maxEventBytes: DefaultMaxEventBytes,
		log:           logger.WithComponent("stream"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromConfig creates a client with the retrying transport and
// limits from cfg
func NewClientFromConfig(cfg *config.Config) *Client {
	return NewClient(cfg.Endpoint,
		WithHTTPClient(NewHTTPClient(cfg.Stream)),
		WithMaxEventBytes(cfg.Stream.MaxEventBytes),
	)
}

// Open posts req and delivers the decoded events to handlers from a single
// reader goroutine, in arrival order. The returned Handle cancels the
// transfer. Transport failures are delivered as error events, not returned.
func (c *Client) Open(ctx context.Context, req Request, handlers Handlers) (*Handle, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go c.run(streamCtx, h, body, handlers)
	return h, nil
}

func (c *Client) run(ctx context.Context, h *Handle, body []byte, handlers Handlers) {
	defer close(h.done)
	defer h.cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		h.deliver(handlers, Event{Kind: KindError, Text: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.Error("Request failed", "endpoint", c.endpoint, "error", err)
		h.deliver(handlers, Event{Kind: KindError, Text: fmt.Sprintf("request failed: %v", err)})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := newStatusError(resp)
		c.log.Error("Unexpected status", "endpoint", c.endpoint, "status", resp.StatusCode)
		h.deliver(handlers, Event{Kind: KindError, Text: statusErr.Error()})
		return
	}

	dec := NewDecoder(resp.Body, c.maxEventBytes)
	sawError := false
	blocks := 0

	for {
		payload, err := dec.Next()
		if errors.Is(err, ErrBlockTooLarge) {
			c.log.Warn("Dropped oversized event block", "limit", c.maxEventBytes)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if sawError {
				// the server already explained the failure
				return
			}
			if errors.Is(err, io.EOF) {
				c.log.Warn("Stream ended without done", "blocks", blocks)
				h.deliver(handlers, Event{Kind: KindError, Text: ErrStreamClosed.Error()})
				return
			}
			c.log.Error("Stream read failed", "error", err)
			h.deliver(handlers, Event{Kind: KindError, Text: fmt.Sprintf("%s: %v", ErrStreamClosed.Error(), err)})
			return
		}

		blocks++
		ev, err := ParseEvent(payload)
		if err != nil {
			c.log.Warn("Skipping malformed event", "error", err, "size", len(payload))
			continue
		}

		if !h.deliver(handlers, ev) {
			return
		}

		switch ev.Kind {
		case KindDone:
			return
		case KindError:
			sawError = true
		}
	}
}

// Handle controls one open stream
type Handle struct {
	cancelled atomic.Bool
	once      sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	// dispatchMu makes the cancelled check and the callback one step
	dispatchMu sync.Mutex
	inCallback atomic.Bool
}

// deliver runs the callback for ev unless the handle was cancelled. It
// reports whether delivery may continue.
func (h *Handle) deliver(handlers Handlers, ev Event) bool {
	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()

	if h.cancelled.Load() {
		return false
	}
	h.inCallback.Store(true)
	handlers.Dispatch(ev)
	h.inCallback.Store(false)
	return !h.cancelled.Load()
}

// Cancel aborts the transfer. Once Cancel returns no further callback
// starts; one already running may still be finishing. Called from another
// goroutine it can wait on a dispatch in progress, so it must not be called
// while holding a lock the callbacks take. Safe to call more than once and
// from inside a callback.
func (h *Handle) Cancel() {
	h.once.Do(func() {
		h.cancelled.Store(true)
		h.cancel()
	})
	if h.inCallback.Load() {
		return
	}
	// wait out a deliver that passed its check before cancelled was set
	h.dispatchMu.Lock()
	h.dispatchMu.Unlock()
}

// Cancelled reports whether Cancel was called
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// Done is closed when the reader goroutine exits
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
