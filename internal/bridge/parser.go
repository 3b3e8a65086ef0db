// Package bridge turns the upstream Responses SSE stream into the normalized
// event sequence of internal/translator/ir and projects that sequence onto
// the client protocols, either live (one wire frame per event) or aggregated
// into a single object.
package bridge

import (
	"bufio"
	"io"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/yaananth/chatmock/internal/sseutil"
	"github.com/yaananth/chatmock/internal/translator/ir"
)

// Parser consumes one upstream SSE stream and yields normalized events.
// It is single-use: a terminal event or io.EOF ends it.
type Parser struct {
	sc         *bufio.Scanner
	responseID string
	done       bool

	// Per-call web search parameters accumulate across progress events so a
	// late frame with the query wins over the empty early ones.
	wsParams map[string]map[string]any
}

// NewParser wraps an upstream SSE body.
func NewParser(r io.Reader) *Parser {
	return &Parser{sc: sseutil.NewScanner(r)}
}

// ResponseID returns the latest backend response id seen, or "".
func (p *Parser) ResponseID() string { return p.responseID }

// Next returns the next normalized event. Unknown frame types are skipped.
// io.EOF is returned after [DONE], a terminal event, or stream end; any read
// error from the underlying body is returned as-is.
func (p *Parser) Next() (ir.Event, error) {
	if p.done {
		return ir.Event{}, io.EOF
	}
	for p.sc.Scan() {
		payload := sseutil.JSONPayload(p.sc.Bytes())
		if payload == nil {
			if sseutil.IsDone(p.sc.Bytes()) {
				p.done = true
				return ir.Event{}, io.EOF
			}
			continue
		}
		// The scanner reuses its buffer; events outlive the next Scan.
		buf := make([]byte, len(payload))
		copy(buf, payload)
		evt := gjson.ParseBytes(buf)

		if id := evt.Get("response.id"); id.Type == gjson.String && id.Str != "" {
			p.responseID = id.Str
		}
		kind := evt.Get("type").String()

		if strings.Contains(kind, "web_search_call") {
			return p.webSearchEvent(kind, evt, buf), nil
		}

		switch kind {
		case "response.created":
			return p.event(ir.Event{Type: ir.EventCreated}), nil
		case "response.output_text.delta":
			return p.event(ir.Event{Type: ir.EventContentDelta, Delta: evt.Get("delta").String()}), nil
		case "response.reasoning_summary_text.delta":
			return p.event(ir.Event{Type: ir.EventReasoningSummaryDelta, Delta: evt.Get("delta").String()}), nil
		case "response.reasoning_text.delta":
			return p.event(ir.Event{Type: ir.EventReasoningDelta, Delta: evt.Get("delta").String()}), nil
		case "response.reasoning_summary_part.added":
			return p.event(ir.Event{Type: ir.EventReasoningSummaryPart}), nil
		case "response.output_item.done":
			item, ok := p.outputItem(evt.Get("item"))
			if !ok {
				continue
			}
			return p.event(ir.Event{Type: ir.EventOutputItemDone, Item: item}), nil
		case "response.output_text.done":
			return p.event(ir.Event{Type: ir.EventOutputTextDone}), nil
		case "response.completed":
			p.done = true
			return p.event(ir.Event{Type: ir.EventCompleted, Usage: extractUsage(evt)}), nil
		case "response.failed":
			msg := evt.Get("response.error.message").String()
			if msg == "" {
				msg = "response.failed"
			}
			return p.event(ir.Event{Type: ir.EventFailed, Error: msg}), nil
		}
	}
	p.done = true
	if err := p.sc.Err(); err != nil {
		return ir.Event{}, err
	}
	return ir.Event{}, io.EOF
}

func (p *Parser) event(ev ir.Event) ir.Event {
	ev.ResponseID = p.responseID
	return ev
}

// outputItem normalizes a completed output item. Only function and web
// search calls are surfaced; message items are redundant with the text
// deltas already emitted.
func (p *Parser) outputItem(item gjson.Result) (*ir.OutputItem, bool) {
	if !item.IsObject() {
		return nil, false
	}
	kind := item.Get("type").String()
	if kind != "function_call" && kind != "web_search_call" {
		return nil, false
	}
	out := &ir.OutputItem{
		Kind: kind,
		ID:   item.Get("id").String(),
		Name: item.Get("name").String(),
		Raw:  []byte(item.Raw),
	}
	out.CallID = item.Get("call_id").String()
	if out.CallID == "" {
		out.CallID = out.ID
	}
	if out.Name == "" && kind == "web_search_call" {
		out.Name = "web_search"
	}

	args := item.Get("arguments")
	if !args.Exists() {
		args = item.Get("parameters")
	}
	switch {
	case args.Type == gjson.String:
		out.Arguments = args.Str
		out.ArgsJSON = ir.SerializeToolArgs(args.Str)
	case args.IsObject():
		out.HasRawArgs = true
		merged := p.mergeWebSearchParams(out.CallID, args.Value().(map[string]any))
		out.ArgsJSON = ir.SerializeToolArgs(merged)
	case args.IsArray():
		out.HasRawArgs = true
		out.ArgsJSON = ir.SerializeToolArgs(args.Value())
	case !args.Exists() || args.Type == gjson.Null:
		out.ArgsJSON = "{}"
	default:
		out.HasRawArgs = true
		out.ArgsJSON = "{}"
	}
	if prior, ok := p.wsParams[out.CallID]; ok && !args.IsObject() {
		out.ArgsJSON = ir.SerializeToolArgs(prior)
	}
	return out, true
}

// webSearchEvent handles progress frames such as
// response.web_search_call.in_progress / .searching / .completed.
func (p *Parser) webSearchEvent(kind string, evt gjson.Result, raw []byte) ir.Event {
	callID := evt.Get("item_id").String()
	if callID == "" {
		callID = "ws_call"
	}
	params := p.params(callID)
	mergeWebSearchSource(params, evt.Get("item"))
	mergeWebSearchSource(params, evt)

	item := &ir.OutputItem{
		Kind:     "web_search_call",
		CallID:   callID,
		Name:     "web_search",
		ArgsJSON: ir.SerializeToolArgs(mapOrEmpty(params)),
		Done:     strings.HasSuffix(kind, ".completed") || strings.HasSuffix(kind, ".done"),
		Raw:      raw,
	}
	return p.event(ir.Event{Type: ir.EventWebSearchCall, Item: item})
}

func (p *Parser) params(callID string) map[string]any {
	if p.wsParams == nil {
		p.wsParams = make(map[string]map[string]any)
	}
	m, ok := p.wsParams[callID]
	if !ok {
		m = make(map[string]any)
		p.wsParams[callID] = m
	}
	return m
}

func (p *Parser) mergeWebSearchParams(callID string, args map[string]any) map[string]any {
	m := p.params(callID)
	for k, v := range args {
		m[k] = v
	}
	return m
}

func mapOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// mergeWebSearchSource folds the recognizable search parameters out of one
// frame object into the per-call map. Whole parameter objects win; scalar
// synonyms fill gaps without overwriting.
func mergeWebSearchSource(params map[string]any, src gjson.Result) {
	if !src.IsObject() {
		return
	}
	for _, whole := range []string{"parameters", "args", "arguments", "input"} {
		if obj := src.Get(whole); obj.IsObject() {
			for k, v := range obj.Value().(map[string]any) {
				params[k] = v
			}
		}
	}
	for _, qk := range []string{"query", "q"} {
		if q := src.Get(qk); q.Type == gjson.String {
			if _, ok := params["query"]; !ok {
				params["query"] = q.Str
			}
		}
	}
	for _, rk := range []string{"recency", "time_range", "days"} {
		if v := src.Get(rk); v.Exists() && v.Type != gjson.Null {
			if _, ok := params[rk]; !ok {
				params[rk] = v.Value()
			}
		}
	}
	for _, dk := range []string{"domains", "include_domains", "include"} {
		if v := src.Get(dk); v.IsArray() {
			if _, ok := params["domains"]; !ok {
				params["domains"] = v.Value()
			}
			break
		}
	}
	for _, mk := range []string{"max_results", "topn", "limit"} {
		if v := src.Get(mk); v.Exists() && v.Type != gjson.Null {
			if _, ok := params["max_results"]; !ok {
				params["max_results"] = v.Value()
			}
			break
		}
	}
}

func extractUsage(evt gjson.Result) *ir.Usage {
	usage := evt.Get("response.usage")
	if !usage.IsObject() {
		return nil
	}
	u := &ir.Usage{
		InputTokens:  usage.Get("input_tokens").Int(),
		OutputTokens: usage.Get("output_tokens").Int(),
		TotalTokens:  usage.Get("total_tokens").Int(),
	}
	if r := usage.Get("output_tokens_details.reasoning_tokens"); r.Exists() {
		u.ReasoningTokens = r.Int()
	}
	return u
}
