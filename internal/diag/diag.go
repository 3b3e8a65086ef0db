// Package diag captures structured events describing how each request was
// transformed on its way upstream: parameters stripped, backend references
// sanitized, stream lifecycle, upstream failures. Events are mirrored to the
// process logger, retained in a bounded ring, and fanned out to websocket
// subscribers for live tailing. Event fields never carry prompt text.
package diag

import (
	"bytes"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yaananth/chatmock/internal/logging"
)

// EventType names one kind of diagnostic event.
type EventType string

const (
	EventRequestReceived  EventType = "request_received"
	EventParamStripped    EventType = "param_stripped"
	EventRefsSanitized    EventType = "client_input_refs_sanitized"
	EventCompatConversion EventType = "compatibility_conversion"
	EventStreamStart      EventType = "stream_start"
	EventStreamTruncated  EventType = "stream_truncated"
	EventStreamError      EventType = "stream_error"
	EventUpstreamError    EventType = "upstream_error"
	EventAggregated       EventType = "nonstream_aggregated"
	EventGetResponse      EventType = "get_response"
)

// Event is a single diagnostic record. Fields carries the event-specific
// detail: stripped parameter names, upstream status codes, output sizes.
type Event struct {
	Type      EventType      `json:"event"`
	Time      time.Time      `json:"ts"`
	RequestID string         `json:"request_id,omitempty"`
	Endpoint  string         `json:"endpoint,omitempty"`
	Model     string         `json:"model,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

const (
	defaultRingSize   = 256
	maxErrorBodyBytes = 4096
)

// stripReasons records why each known parameter is removed before the
// payload goes upstream.
var stripReasons = map[string]string{
	"max_tokens":            "unsupported_by_upstream",
	"max_completion_tokens": "unsupported_by_upstream",
	"max_output_tokens":     "unsupported_by_upstream",
	"store":                 "local_only_not_forwarded",
	"previous_response_id":  "local_thread_only",
}

// Recorder retains recent events and forwards each one to the logger and to
// any websocket subscribers. A nil Recorder discards every call, so callers
// never need to guard their emits.
type Recorder struct {
	mu    sync.Mutex
	ring  []Event
	next  int
	count int

	hub *hub
}

// NewRecorder returns a recorder retaining the last capacity events.
// Non-positive capacity selects the default ring size.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = defaultRingSize
	}
	return &Recorder{ring: make([]Event, capacity), hub: newHub()}
}

// Record stamps, stores, logs and broadcasts one event.
func (r *Recorder) Record(ev Event) {
	if r == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	r.mu.Lock()
	r.ring[r.next] = ev
	r.next = (r.next + 1) % len(r.ring)
	if r.count < len(r.ring) {
		r.count++
	}
	r.mu.Unlock()

	logEvent(ev)
	r.hub.broadcast(ev)
}

func logEvent(ev Event) {
	fields := logrus.Fields{}
	if ev.RequestID != "" {
		fields["request_id"] = ev.RequestID
	}
	if ev.Endpoint != "" {
		fields["endpoint"] = ev.Endpoint
	}
	if ev.Model != "" {
		fields["model"] = ev.Model
	}
	for k, v := range ev.Fields {
		fields[k] = v
	}
	entry := logging.WithFields(fields)
	if logging.IsVerbose() {
		entry.Info(string(ev.Type))
		return
	}
	entry.Debug(string(ev.Type))
}

// Recent returns up to n of the most recent events, oldest first. n <= 0
// returns everything retained.
func (r *Recorder) Recent(n int) []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]Event, 0, n)
	start := r.next - n
	if start < 0 {
		start += len(r.ring)
	}
	for i := 0; i < n; i++ {
		out = append(out, r.ring[(start+i)%len(r.ring)])
	}
	return out
}

// RequestReceived notes an accepted request before translation. size is the
// raw body length in bytes; the body itself is never recorded.
func (r *Recorder) RequestReceived(reqID, endpoint string, size int) {
	r.Record(Event{
		Type:      EventRequestReceived,
		RequestID: reqID,
		Endpoint:  endpoint,
		Fields:    map[string]any{"bytes": size},
	})
}

// ParamsStripped emits one param_stripped event per dropped parameter.
func (r *Recorder) ParamsStripped(reqID, endpoint string, params []string) {
	for _, p := range params {
		reason, ok := stripReasons[p]
		if !ok {
			reason = "unsupported_by_upstream"
		}
		r.Record(Event{
			Type:      EventParamStripped,
			RequestID: reqID,
			Endpoint:  endpoint,
			Fields:    map[string]any{"param": p, "reason": reason},
		})
	}
}

// RefsSanitized notes backend item references removed from client input.
// The ids are opaque reference identifiers, not message content.
func (r *Recorder) RefsSanitized(reqID, endpoint string, ids []string) {
	if len(ids) == 0 {
		return
	}
	r.Record(Event{
		Type:      EventRefsSanitized,
		RequestID: reqID,
		Endpoint:  endpoint,
		Fields:    map[string]any{"count": len(ids), "ids": ids},
	})
}

// CompatConverted notes legacy "message" content parts rewritten to
// input_text for the upstream dialect.
func (r *Recorder) CompatConverted(reqID, endpoint, userAgent string) {
	r.Record(Event{
		Type:      EventCompatConversion,
		RequestID: reqID,
		Endpoint:  endpoint,
		Fields:    map[string]any{"from_type": "message", "to_type": "input_text", "user_agent": userAgent},
	})
}

// StreamStart marks the first upstream bytes being relayed to the client.
func (r *Recorder) StreamStart(reqID, endpoint, model string, upstreamStatus int) {
	r.Record(Event{
		Type:      EventStreamStart,
		RequestID: reqID,
		Endpoint:  endpoint,
		Model:     model,
		Fields:    map[string]any{"upstream_status": upstreamStatus},
	})
}

// StreamTruncated notes the upstream connection dropping mid-stream.
func (r *Recorder) StreamTruncated(reqID, endpoint, reason string) {
	r.Record(Event{
		Type:      EventStreamTruncated,
		RequestID: reqID,
		Endpoint:  endpoint,
		Fields:    map[string]any{"reason": reason},
	})
}

// StreamError notes a non-connection failure while relaying a stream.
func (r *Recorder) StreamError(reqID, endpoint string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	r.Record(Event{
		Type:      EventStreamError,
		RequestID: reqID,
		Endpoint:  endpoint,
		Fields:    map[string]any{"error": msg},
	})
}

// UpstreamError records a 4xx/5xx upstream response together with the error
// body so a failed request can be reconstructed.
func (r *Recorder) UpstreamError(reqID, endpoint, model string, status int, body []byte) {
	r.Record(Event{
		Type:      EventUpstreamError,
		RequestID: reqID,
		Endpoint:  endpoint,
		Model:     model,
		Fields:    map[string]any{"status": status, "body": bodyExcerpt(body)},
	})
}

// Aggregated records the shape of a non-streaming aggregation result.
func (r *Recorder) Aggregated(reqID, endpoint, model, responseID string, textLen, outputItems int, totalTokens int64) {
	fields := map[string]any{
		"id":              responseID,
		"output_text_len": textLen,
		"output_items":    outputItems,
	}
	if totalTokens > 0 {
		fields["total_tokens"] = totalTokens
	}
	r.Record(Event{
		Type:      EventAggregated,
		RequestID: reqID,
		Endpoint:  endpoint,
		Model:     model,
		Fields:    fields,
	})
}

// ResponseFetched records a stored-response lookup by id.
func (r *Recorder) ResponseFetched(reqID, responseID string, found bool) {
	r.Record(Event{
		Type:      EventGetResponse,
		RequestID: reqID,
		Fields:    map[string]any{"id": responseID, "found": found},
	})
}

func bodyExcerpt(body []byte) string {
	b := bytes.TrimSpace(body)
	if len(b) > maxErrorBodyBytes {
		b = b[:maxErrorBodyBytes]
	}
	return string(b)
}
