// Package upstream drives the authenticated SSE call against the ChatGPT
// codex responses endpoint: header contract, transparent decompression,
// idle-guarded body reads and circuit-breaker accounting.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/yaananth/chatmock/internal/buildinfo"
	"github.com/yaananth/chatmock/internal/resilience"
)

// DefaultURL is the restricted responses endpoint this gateway fronts.
const DefaultURL = "https://chatgpt.com/backend-api/codex/responses"

const (
	defaultIdleTimeout = 5 * time.Minute
	errorBodyLimit     = 1 << 20
)

// ErrCircuitOpen reports that the breaker is rejecting calls after repeated
// upstream failures.
var ErrCircuitOpen = errors.New("upstream circuit open")

func init() {
	// Breaker classifier: client-shaped upstream replies (4xx) must not
	// trip the breaker; 5xx and transport errors do.
	resilience.DefaultIsSuccessful = func(err error) bool {
		if err == nil {
			return true
		}
		var ue *Error
		if errors.As(err, &ue) {
			return ue.StatusCode < 500
		}
		return false
	}
}

// Config tunes the upstream client. The response-header wait is bounded by
// the shared transport; the body has no total deadline, only IdleTimeout.
type Config struct {
	URL         string
	IdleTimeout time.Duration
	UserAgent   string
}

// Client is safe for concurrent use.
type Client struct {
	cfg     Config
	httpc   *http.Client
	breaker *resilience.StreamingCircuitBreaker
}

func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "chatmock/" + buildinfo.Version
	}
	return &Client{
		cfg:     cfg,
		httpc:   &http.Client{Transport: resilience.SharedTransport()},
		breaker: resilience.NewStreamingCircuitBreaker(resilience.DefaultBreakerConfig("codex-responses")),
	}
}

// Request is one authenticated call. Payload is the fully assembled
// responses body.
type Request struct {
	Payload     []byte
	AccessToken string
	AccountID   string
	SessionID   string
}

// Response is a live upstream stream. Body is decompressed and idle-guarded.
// Finish must be called exactly once when the stream ends so the breaker
// learns the outcome; closing Body does not record anything.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser

	finish     func(bool)
	finishOnce sync.Once
}

// Finish reports the stream outcome to the circuit breaker. Safe to call
// more than once; only the first call counts.
func (r *Response) Finish(success bool) {
	r.finishOnce.Do(func() {
		if r.finish != nil {
			r.finish(success)
		}
	})
}

// Error is a non-2xx upstream reply with its body preserved for diagnostics.
// Header carries the reply headers; rate-limit telemetry rides on 429s too.
type Error struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream status %d", e.StatusCode)
}

// Message extracts the upstream error message, falling back to a generic
// one when the body is not the usual {"error":{"message":...}} envelope.
func (e *Error) Message() string {
	if m := gjson.GetBytes(e.Body, "error.message"); m.Type == gjson.String && m.String() != "" {
		return m.String()
	}
	return "Upstream error"
}

// Stream opens the SSE call. It returns *Error for non-2xx replies (body
// already read and closed), ErrCircuitOpen when the breaker rejects the
// call, or a Response whose Body streams decompressed bytes.
func (c *Client) Stream(ctx context.Context, req Request) (*Response, error) {
	done, err := c.breaker.Allow()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(req.Payload))
	if err != nil {
		done(true)
		return nil, err
	}
	c.setHeaders(httpReq, req)

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		done(false)
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}

	body, err := decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		resp.Body.Close()
		done(false)
		return nil, fmt.Errorf("upstream body decode: %w", err)
	}

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(body, errorBodyLimit))
		body.Close()
		uerr := &Error{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
		done(uerr.StatusCode < 500)
		return nil, uerr
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       NewStreamReader(ctx, body, c.cfg.IdleTimeout, "codex-responses"),
		finish:     done,
	}, nil
}

func (c *Client) setHeaders(r *http.Request, req Request) {
	r.Header.Set("Authorization", "Bearer "+req.AccessToken)
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "text/event-stream")
	r.Header.Set("chatgpt-account-id", req.AccountID)
	r.Header.Set("OpenAI-Beta", "responses=experimental")
	r.Header.Set("session_id", req.SessionID)
	r.Header.Set("Connection", "keep-alive")
	r.Header.Set("Accept-Encoding", "gzip, deflate, br, zstd")
	r.Header.Set("User-Agent", c.cfg.UserAgent)
}
