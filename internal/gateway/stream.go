package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yaananth/chatmock/internal/bridge"
	"github.com/yaananth/chatmock/internal/json"
	"github.com/yaananth/chatmock/internal/streamutil"
	"github.com/yaananth/chatmock/internal/translator/ir"
	"github.com/yaananth/chatmock/internal/upstream"
)

const (
	streamBufferSize = 128
	// passthroughChunk is the copy granularity on the raw responses surface.
	passthroughChunk = 8192

	interruptMessage = "stream interrupted before completion"
)

// projector renders normalized events as client wire frames. The bridge
// package provides one per surface.
type projector interface {
	Project(ir.Event) [][]byte
	Interrupt(message string) [][]byte
}

// relay parses the upstream SSE body and projects each event live. The
// producer owns the upstream response: it closes the body, reports the
// breaker outcome and records usage when the stream ends.
func (ex *exchange) relay(ctx context.Context, resp *upstream.Response, proj projector, contentType string) *Stream {
	ex.g.diag.StreamStart(ex.reqID, ex.endpoint, ex.tr.Model, resp.StatusCode)

	pipe := streamutil.NewPipeline(ctx, streamutil.PipelineConfig{BufferSize: streamBufferSize})
	pipe.Go(func(ctx context.Context) error {
		defer resp.Body.Close()

		parser := bridge.NewParser(resp.Body)
		var u *ir.Usage
		completed := false
		failMsg := ""

		for {
			ev, err := parser.Next()
			if err != nil {
				if err == io.EOF {
					break
				}
				ex.g.diag.StreamTruncated(ex.reqID, ex.endpoint, err.Error())
				for _, frame := range proj.Interrupt(interruptMessage) {
					pipe.SendData(frame)
				}
				resp.Finish(false)
				ex.finish(true, true, u)
				return nil
			}

			switch ev.Type {
			case ir.EventCompleted:
				completed = true
				if ev.Usage != nil {
					u = ev.Usage
				}
			case ir.EventFailed:
				failMsg = ev.Error
				ex.g.diag.StreamError(ex.reqID, ex.endpoint, errors.New(ev.Error))
			}

			for _, frame := range proj.Project(ev) {
				if !pipe.SendData(frame) {
					// Client went away; the upstream held up its end.
					resp.Finish(true)
					ex.finish(true, false, u)
					return nil
				}
			}
		}

		if !completed && failMsg == "" {
			ex.g.diag.StreamTruncated(ex.reqID, ex.endpoint, "upstream closed before completion")
			for _, frame := range proj.Interrupt(interruptMessage) {
				pipe.SendData(frame)
			}
		}
		ok := completed && failMsg == ""
		resp.Finish(ok)
		ex.finish(true, !ok, u)
		return nil
	})
	pipe.Start()

	return &Stream{StatusCode: resp.StatusCode, ContentType: contentType, Frames: pipe.Output()}
}

// passthrough forwards the upstream body byte for byte. The responses
// surface already speaks the upstream dialect, so nothing is reframed and
// nothing is recorded locally.
func (ex *exchange) passthrough(ctx context.Context, resp *upstream.Response) *Stream {
	ex.g.diag.StreamStart(ex.reqID, ex.endpoint, ex.tr.Model, resp.StatusCode)

	pipe := streamutil.NewPipeline(ctx, streamutil.PipelineConfig{BufferSize: streamBufferSize})
	pipe.Go(func(ctx context.Context) error {
		defer resp.Body.Close()

		buf := make([]byte, passthroughChunk)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				frame := make([]byte, n)
				copy(frame, buf[:n])
				if !pipe.SendData(frame) {
					resp.Finish(true)
					ex.finish(true, false, nil)
					return nil
				}
			}
			if err != nil {
				if err == io.EOF {
					resp.Finish(true)
					ex.finish(true, false, nil)
					return nil
				}
				ex.g.diag.StreamTruncated(ex.reqID, ex.endpoint, err.Error())
				resp.Finish(false)
				ex.finish(true, true, nil)
				return nil
			}
		}
	})
	pipe.Start()

	return &Stream{StatusCode: resp.StatusCode, ContentType: contentTypeSSE, Frames: pipe.Output()}
}

// collect drains the upstream stream into an aggregate. A backend failure
// event comes back as a 502-shaped upstream error so the HTTP layer can
// reuse its error mapping.
func (ex *exchange) collect(resp *upstream.Response) (*bridge.Aggregate, error) {
	agg, readErr := bridge.Collect(bridge.NewParser(resp.Body))
	resp.Body.Close()

	if readErr != nil {
		resp.Finish(false)
		ex.g.diag.StreamError(ex.reqID, ex.endpoint, readErr)
		ex.finish(false, true, agg.Usage)
		return nil, fmt.Errorf("upstream stream read: %w", readErr)
	}
	if agg.FailureMessage != "" {
		resp.Finish(false)
		body, _ := json.Marshal(map[string]any{
			"error": map[string]any{"message": agg.FailureMessage},
		})
		ex.finish(false, true, agg.Usage)
		return nil, &upstream.Error{StatusCode: http.StatusBadGateway, Body: body}
	}

	resp.Finish(true)
	return agg, nil
}

// aggregated emits the nonstream diagnostic and the usage record for one
// collected response.
func (ex *exchange) aggregated(agg *bridge.Aggregate, responseID string, u *ir.Usage) {
	var total int64
	if u != nil {
		total = u.Total()
	}
	ex.g.diag.Aggregated(ex.reqID, ex.endpoint, ex.tr.Model, responseID, len(agg.Content), len(agg.Items), total)
	ex.finish(false, false, u)
}

func nowUnix() int64 {
	return time.Now().Unix()
}
