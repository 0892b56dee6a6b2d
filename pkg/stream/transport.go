package stream

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/killallgit/threadline/pkg/config"
	"github.com/killallgit/threadline/pkg/logger"
)

// retryTransport implements http.RoundTripper with retries for connection
// establishment. Once a response is returned its body is never retried.
type retryTransport struct {
	base             http.RoundTripper
	maxRetries       int
	backoff          time.Duration
	rateLimitBackoff time.Duration
	sleep            func(ctx context.Context, d time.Duration) error
	now              func() time.Time
	log              *logger.ComponentLogger
}

func newRetryTransport(base http.RoundTripper, cfg config.StreamConfig) *retryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &retryTransport{
		base:             base,
		maxRetries:       cfg.MaxRetries,
		backoff:          cfg.BackoffBase,
		rateLimitBackoff: cfg.RateLimitBackoff,
		sleep:            sleepContext,
		now:              time.Now,
		log:              logger.WithComponent("stream.transport"),
	}
}

// NewHTTPClient creates an HTTP client for streaming with built-in retry
// logic. There is no overall timeout: ConnectTimeout bounds dialing and the
// wait for response headers only.
func NewHTTPClient(cfg config.StreamConfig) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ConnectTimeout > 0 {
		base.DialContext = (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext
		base.ResponseHeaderTimeout = cfg.ConnectTimeout
	}

	return &http.Client{
		Transport: newRetryTransport(base, cfg),
	}
}

// RoundTrip executes a single HTTP transaction with retry logic
func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	for attempt := 0; ; attempt++ {
		reqCopy := req.Clone(ctx)
		if attempt > 0 && req.Body != nil && req.Body != http.NoBody {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to rewind request body: %w", err)
			}
			reqCopy.Body = body
		}

		resp, err := t.base.RoundTrip(reqCopy)
		if err != nil && ctx.Err() != nil {
			return nil, err
		}

		wait, retry := t.classify(resp, err, attempt)
		if !retry || attempt >= t.maxRetries || !t.canRewind(req) {
			if err != nil && attempt > 0 {
				return nil, fmt.Errorf("request failed after %d attempts: %w", attempt+1, err)
			}
			return resp, err
		}

		if resp != nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))
			resp.Body.Close()
		}

		if err != nil {
			t.log.Warn("Retrying request", "attempt", attempt+1, "wait", wait, "error", err)
		} else {
			t.log.Warn("Retrying request", "attempt", attempt+1, "wait", wait, "status", resp.StatusCode)
		}

		if err := t.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (t *retryTransport) canRewind(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

// classify decides whether an attempt is retried and how long to wait first
func (t *retryTransport) classify(resp *http.Response, err error, attempt int) (time.Duration, bool) {
	if err != nil {
		return t.backoffFor(attempt), true
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if wait, ok := parseRetryAfter(resp.Header.Get("Retry-After"), t.now()); ok {
			return wait, true
		}
		return t.rateLimitBackoff, true
	case resp.StatusCode >= 500:
		return t.backoffFor(attempt), true
	default:
		return 0, false
	}
}

// backoffFor returns exponential backoff with up to 25% jitter
func (t *retryTransport) backoffFor(attempt int) time.Duration {
	wait := t.backoff * time.Duration(1<<uint(attempt))
	if quarter := int64(wait / 4); quarter > 0 {
		wait += time.Duration(rand.Int63n(quarter))
	}
	return wait
}

// parseRetryAfter accepts delta-seconds or an HTTP-date
func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}

	when, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	if wait := when.Sub(now); wait > 0 {
		return wait, true
	}
	return 0, true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
