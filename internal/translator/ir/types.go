// Package ir defines the protocol-neutral event model produced by the
// streaming bridge and the pooled wire builders used to project it onto
// client protocols.
package ir

import (
	"github.com/tidwall/gjson"

	"github.com/yaananth/chatmock/internal/json"
)

// EventType tags one normalized unit of backend output.
type EventType uint8

const (
	// EventCreated carries the upstream response id.
	EventCreated EventType = iota
	// EventContentDelta carries an assistant text fragment.
	EventContentDelta
	// EventReasoningDelta carries a raw reasoning text fragment.
	EventReasoningDelta
	// EventReasoningSummaryDelta carries a reasoning summary fragment.
	EventReasoningSummaryDelta
	// EventReasoningSummaryPart marks the start of a new summary paragraph.
	EventReasoningSummaryPart
	// EventWebSearchCall reports progress of a backend web search invocation.
	EventWebSearchCall
	// EventOutputItemDone carries a completed output item (function call,
	// web search call, message).
	EventOutputItemDone
	// EventOutputTextDone marks the end of the assistant text channel.
	EventOutputTextDone
	// EventCompleted terminates a successful stream, optionally with usage.
	EventCompleted
	// EventFailed terminates the stream with an upstream error message.
	EventFailed
)

// Event is the normalized form of one upstream frame.
// Arrival order is semantic: deltas must be applied in the order received.
type Event struct {
	Type       EventType
	ResponseID string

	// Delta holds the text fragment for the delta event types.
	Delta string

	// Item is set for EventOutputItemDone and EventWebSearchCall.
	Item *OutputItem

	// Usage is set on EventCompleted when the backend reported token counts.
	Usage *Usage

	// Error is set on EventFailed.
	Error string
}

// OutputItem is a completed output item from the backend stream.
type OutputItem struct {
	Kind       string // "function_call", "web_search_call", ...
	ID         string
	CallID     string
	Name       string
	Arguments  string // verbatim string arguments; "" when the backend sent none
	HasRawArgs bool   // backend sent structured (non-string) arguments
	ArgsJSON   string // normalized JSON object text for tool-call chunk projection
	Done       bool   // web search reached a terminal progress state
	Raw        []byte // original item JSON for passthrough surfaces
}

// Usage holds backend token accounting.
type Usage struct {
	InputTokens     int64
	OutputTokens    int64
	TotalTokens     int64
	ReasoningTokens int64
}

// Total returns TotalTokens, deriving it from the parts when absent.
func (u Usage) Total() int64 {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.InputTokens + u.OutputTokens
}

// Finish reason values surfaced on the chat completions wire.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
)

// SerializeToolArgs renders tool-call arguments as a JSON object string.
// Objects and arrays are re-encoded verbatim; strings are parsed when they
// hold JSON, otherwise wrapped as {"query": s}; anything else becomes "{}".
func SerializeToolArgs(v any) string {
	switch args := v.(type) {
	case nil:
		return "{}"
	case map[string]any, []any:
		if b, err := json.Marshal(args); err == nil {
			return string(b)
		}
		return "{}"
	case string:
		if gjson.Valid(args) {
			parsed := gjson.Parse(args)
			if parsed.IsObject() || parsed.IsArray() {
				return parsed.Raw
			}
		}
		b, err := json.Marshal(map[string]any{"query": args})
		if err != nil {
			return "{}"
		}
		return string(b)
	default:
		return "{}"
	}
}
