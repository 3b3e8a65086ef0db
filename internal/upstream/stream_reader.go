package upstream

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/yaananth/chatmock/internal/logging"
	"github.com/yaananth/chatmock/internal/streamutil"
)

// StreamReader wraps a response body with context-aware cancellation and
// idle detection. Cancelling the context closes the body, which unblocks
// any pending Read immediately; the shared idle watcher closes connections
// where the upstream stops sending bytes entirely.
type StreamReader struct {
	body      io.ReadCloser
	ctx       context.Context
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	stopCtx   chan struct{}
	stopOnce  sync.Once
	touch     func()
	unwatch   func()
	label     string
}

// NewStreamReader guards body with ctx and an idle timeout (0 disables idle
// detection). label names the stream in logs.
func NewStreamReader(ctx context.Context, body io.ReadCloser, idleTimeout time.Duration, label string) *StreamReader {
	sr := &StreamReader{
		body:    body,
		ctx:     ctx,
		stopCtx: make(chan struct{}),
		label:   label,
	}

	if idleTimeout > 0 {
		sr.touch, sr.unwatch = streamutil.DefaultIdleWatcher().Watch(idleTimeout, func() {
			log.Warnf("%s: no bytes for over %v, closing connection", label, idleTimeout)
			sr.closeWithReason("idle timeout")
		})
	}

	go sr.watchContext()
	return sr
}

func (sr *StreamReader) watchContext() {
	select {
	case <-sr.ctx.Done():
		sr.closeWithReason("context cancelled")
	case <-sr.stopCtx:
	}
}

// Read implements io.Reader. Every successful read resets the idle timer.
func (sr *StreamReader) Read(p []byte) (int, error) {
	if sr.closed.Load() {
		return 0, io.EOF
	}
	n, err := sr.body.Read(p)
	if n > 0 && sr.touch != nil {
		sr.touch()
	}
	return n, err
}

func (sr *StreamReader) closeWithReason(reason string) {
	sr.closeOnce.Do(func() {
		sr.closed.Store(true)
		sr.closeErr = sr.body.Close()
		if sr.unwatch != nil {
			sr.unwatch()
		}
		log.Debugf("%s: stream closed: %s", sr.label, reason)
	})
}

// Close implements io.Closer. Safe to call multiple times.
func (sr *StreamReader) Close() error {
	sr.closeWithReason("explicit close")
	sr.stopOnce.Do(func() { close(sr.stopCtx) })
	return sr.closeErr
}
