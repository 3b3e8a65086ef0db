package bridge

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/yaananth/chatmock/internal/translator/ir"
)

func sseStream(frames ...string) io.Reader {
	return strings.NewReader(strings.Join(frames, "\n\n") + "\n\n")
}

func drain(t *testing.T, p *Parser) []ir.Event {
	t.Helper()
	var events []ir.Event
	for {
		ev, err := p.Next()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		events = append(events, ev)
	}
}

func TestParserEventSequence(t *testing.T) {
	p := NewParser(sseStream(
		`event: response.created`+"\n"+`data: {"type":"response.created","response":{"id":"resp_123"}}`,
		`data: {"type":"response.reasoning_summary_part.added"}`,
		`data: {"type":"response.reasoning_summary_text.delta","delta":"thinking"}`,
		`data: {"type":"response.output_text.delta","delta":"Hel"}`,
		`data: {"type":"response.output_text.delta","delta":"lo!"}`,
		`data: {"type":"response.output_text.done"}`,
		`data: {"type":"response.completed","response":{"id":"resp_123","usage":{"input_tokens":10,"output_tokens":5,"total_tokens":15}}}`,
		`data: [DONE]`,
	))

	events := drain(t, p)
	want := []ir.EventType{
		ir.EventCreated,
		ir.EventReasoningSummaryPart,
		ir.EventReasoningSummaryDelta,
		ir.EventContentDelta,
		ir.EventContentDelta,
		ir.EventOutputTextDone,
		ir.EventCompleted,
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Errorf("event %d type = %d, want %d", i, ev.Type, want[i])
		}
		if ev.ResponseID != "resp_123" {
			t.Errorf("event %d response id = %q", i, ev.ResponseID)
		}
	}
	if events[3].Delta != "Hel" || events[4].Delta != "lo!" {
		t.Errorf("content deltas = %q, %q", events[3].Delta, events[4].Delta)
	}
	completed := events[len(events)-1]
	if completed.Usage == nil || completed.Usage.InputTokens != 10 || completed.Usage.Total() != 15 {
		t.Errorf("usage = %+v", completed.Usage)
	}
	if p.ResponseID() != "resp_123" {
		t.Errorf("parser response id = %q", p.ResponseID())
	}
}

func TestParserSkipsUnknownFrames(t *testing.T) {
	p := NewParser(sseStream(
		`data: {"type":"response.in_progress"}`,
		`data: not json at all`,
		``,
		`data: {"type":"response.content_part.added","part":{}}`,
		`data: {"type":"response.output_text.delta","delta":"ok"}`,
		`data: {"type":"response.completed","response":{}}`,
	))
	events := drain(t, p)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != ir.EventContentDelta || events[0].Delta != "ok" {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].Type != ir.EventCompleted || events[1].Usage != nil {
		t.Errorf("second event = %+v", events[1])
	}
}

func TestParserDoneWithoutCompleted(t *testing.T) {
	p := NewParser(sseStream(
		`data: {"type":"response.output_text.delta","delta":"partial"}`,
		`data: [DONE]`,
	))
	events := drain(t, p)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if _, err := p.Next(); err != io.EOF {
		t.Errorf("after DONE err = %v, want EOF", err)
	}
}

func TestParserFailedIsNotTerminal(t *testing.T) {
	p := NewParser(sseStream(
		`data: {"type":"response.output_text.delta","delta":"a"}`,
		`data: {"type":"response.failed","response":{"error":{"message":"quota exhausted"}}}`,
		`data: {"type":"response.output_text.delta","delta":"b"}`,
	))
	events := drain(t, p)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[1].Type != ir.EventFailed || events[1].Error != "quota exhausted" {
		t.Errorf("failed event = %+v", events[1])
	}
	if events[2].Delta != "b" {
		t.Errorf("delta after failure = %q", events[2].Delta)
	}
}

func TestParserFailedDefaultMessage(t *testing.T) {
	p := NewParser(sseStream(`data: {"type":"response.failed"}`))
	events := drain(t, p)
	if len(events) != 1 || events[0].Error != "response.failed" {
		t.Fatalf("events = %+v", events)
	}
}

func TestParserWebSearchParamMerge(t *testing.T) {
	p := NewParser(sseStream(
		`data: {"type":"response.web_search_call.in_progress","item_id":"ws_1"}`,
		`data: {"type":"response.web_search_call.searching","item_id":"ws_1","item":{"parameters":{"query":"golang sse"}}}`,
		`data: {"type":"response.web_search_call.completed","item_id":"ws_1","max_results":5}`,
	))
	events := drain(t, p)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	first := events[0].Item
	if first.Kind != "web_search_call" || first.CallID != "ws_1" || first.Name != "web_search" {
		t.Fatalf("first item = %+v", first)
	}
	if first.ArgsJSON != "{}" {
		t.Errorf("first args = %q, want empty object", first.ArgsJSON)
	}
	if first.Done {
		t.Error("in_progress marked done")
	}

	second := events[1].Item
	if got := gjson.Get(second.ArgsJSON, "query").String(); got != "golang sse" {
		t.Errorf("second args query = %q", got)
	}

	third := events[2].Item
	if !third.Done {
		t.Error("completed not marked done")
	}
	if got := gjson.Get(third.ArgsJSON, "query").String(); got != "golang sse" {
		t.Errorf("merged query lost: %s", third.ArgsJSON)
	}
	if got := gjson.Get(third.ArgsJSON, "max_results").Int(); got != 5 {
		t.Errorf("merged max_results = %d", got)
	}
}

func TestParserWebSearchFallbackCallID(t *testing.T) {
	p := NewParser(sseStream(`data: {"type":"response.web_search_call.searching"}`))
	events := drain(t, p)
	if len(events) != 1 || events[0].Item.CallID != "ws_call" {
		t.Fatalf("events = %+v", events)
	}
}

func TestParserFunctionCallItem(t *testing.T) {
	p := NewParser(sseStream(
		`data: {"type":"response.output_item.done","item":{"type":"function_call","id":"fc_1","call_id":"call_1","name":"get_weather","arguments":"{\"city\":\"Paris\"}"}}`,
		`data: {"type":"response.output_item.done","item":{"type":"message","role":"assistant"}}`,
		`data: {"type":"response.output_item.done","item":{"type":"function_call","id":"fc_2","name":"lookup","arguments":{"q":"x"}}}`,
	))
	events := drain(t, p)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (message item skipped)", len(events))
	}

	fc := events[0].Item
	if fc.CallID != "call_1" || fc.Name != "get_weather" {
		t.Fatalf("item = %+v", fc)
	}
	if fc.HasRawArgs {
		t.Error("string arguments flagged as raw")
	}
	if fc.Arguments != `{"city":"Paris"}` {
		t.Errorf("verbatim arguments = %q", fc.Arguments)
	}
	if got := gjson.Get(fc.ArgsJSON, "city").String(); got != "Paris" {
		t.Errorf("normalized args = %s", fc.ArgsJSON)
	}
	if gjson.GetBytes(fc.Raw, "type").String() != "function_call" {
		t.Errorf("raw item = %s", fc.Raw)
	}

	dict := events[1].Item
	if dict.CallID != "fc_2" {
		t.Errorf("call id fallback = %q", dict.CallID)
	}
	if !dict.HasRawArgs {
		t.Error("object arguments not flagged as raw")
	}
	if got := gjson.Get(dict.ArgsJSON, "q").String(); got != "x" {
		t.Errorf("normalized args = %s", dict.ArgsJSON)
	}
}

func TestParserWebSearchItemUsesMergedState(t *testing.T) {
	p := NewParser(sseStream(
		`data: {"type":"response.web_search_call.searching","item_id":"ws_2","query":"weather paris"}`,
		`data: {"type":"response.output_item.done","item":{"type":"web_search_call","id":"ws_2"}}`,
	))
	events := drain(t, p)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	item := events[1].Item
	if item.Name != "web_search" {
		t.Errorf("name = %q", item.Name)
	}
	if got := gjson.Get(item.ArgsJSON, "query").String(); got != "weather paris" {
		t.Errorf("args should carry earlier progress params, got %s", item.ArgsJSON)
	}
}

type failingReader struct {
	data string
	err  error
	pos  int
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, r.err
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func TestParserSurfacesReadError(t *testing.T) {
	wantErr := errors.New("connection reset")
	p := NewParser(&failingReader{
		data: "data: {\"type\":\"response.output_text.delta\",\"delta\":\"x\"}\n\n",
		err:  wantErr,
	})
	ev, err := p.Next()
	if err != nil || ev.Delta != "x" {
		t.Fatalf("first event: %+v, %v", ev, err)
	}
	if _, err := p.Next(); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}
