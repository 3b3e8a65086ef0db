package bridge

import (
	"io"
	"strings"

	"github.com/yaananth/chatmock/internal/json"
	"github.com/yaananth/chatmock/internal/translator/ir"
	"github.com/yaananth/chatmock/internal/util"
)

// Aggregate is the single-object form of one stream: deltas concatenated in
// arrival order, completed tool calls collected, usage and failure captured.
type Aggregate struct {
	ResponseID       string
	Content          string
	ReasoningSummary string
	Reasoning        string

	// ToolCalls holds completed function calls in chat wire shape.
	ToolCalls []ir.ToolCallRef
	// Items holds the raw function_call / web_search_call item JSON in
	// arrival order for the Responses surface.
	Items [][]byte

	Usage          *ir.Usage
	FailureMessage string
	Completed      bool
}

// Collect drains the parser into an Aggregate. A read error terminates the
// collection; the partial aggregate is still returned for diagnostics.
func Collect(p *Parser) (*Aggregate, error) {
	agg := &Aggregate{}
	var content, summary, reasoning strings.Builder
	var readErr error

	for {
		ev, err := p.Next()
		if err != nil {
			if err != io.EOF {
				readErr = err
			}
			break
		}
		switch ev.Type {
		case ir.EventContentDelta:
			content.WriteString(ev.Delta)
		case ir.EventReasoningSummaryDelta:
			summary.WriteString(ev.Delta)
		case ir.EventReasoningDelta:
			reasoning.WriteString(ev.Delta)
		case ir.EventOutputItemDone:
			item := ev.Item
			agg.Items = append(agg.Items, item.Raw)
			if item.Kind == "function_call" && !item.HasRawArgs {
				agg.ToolCalls = append(agg.ToolCalls, ir.ToolCallRef{
					ID:       item.CallID,
					Type:     "function",
					Function: ir.FunctionStub{Name: item.Name, Arguments: item.Arguments},
				})
			}
		case ir.EventFailed:
			agg.FailureMessage = ev.Error
		case ir.EventCompleted:
			agg.Completed = true
			if ev.Usage != nil {
				agg.Usage = ev.Usage
			}
		}
	}

	agg.Content = content.String()
	agg.ReasoningSummary = summary.String()
	agg.Reasoning = reasoning.String()
	agg.ResponseID = p.ResponseID()
	return agg, readErr
}

// FinishReason reports the chat finish reason for the aggregate.
func (a *Aggregate) FinishReason() string {
	if len(a.ToolCalls) > 0 {
		return ir.FinishToolCalls
	}
	return ir.FinishStop
}

// ReasoningText joins summary and full reasoning with a blank line, skipping
// blank parts.
func (a *Aggregate) ReasoningText() string {
	var parts []string
	if strings.TrimSpace(a.ReasoningSummary) != "" {
		parts = append(parts, a.ReasoningSummary)
	}
	if strings.TrimSpace(a.Reasoning) != "" {
		parts = append(parts, a.Reasoning)
	}
	return strings.Join(parts, "\n\n")
}

// ChatMessage renders the aggregate as a chat completion message with the
// reasoning placed per compat mode. Unknown modes fall back to think tags.
func (a *Aggregate) ChatMessage(compat string) ir.AssistantMessage {
	msg := ir.AssistantMessage{Role: "assistant"}
	msg.SetContent(a.Content)
	if len(a.ToolCalls) > 0 {
		msg.ToolCalls = a.ToolCalls
	}

	switch strings.ToLower(strings.TrimSpace(compat)) {
	case CompatO3:
		if rtxt := a.ReasoningText(); rtxt != "" {
			msg.Reasoning = ir.NewReasoningBlock(rtxt)
		}
	case CompatLegacy, CompatCurrent:
		if a.ReasoningSummary != "" {
			msg.ReasoningSummary = a.ReasoningSummary
		}
		if a.Reasoning != "" {
			msg.Reasoning = a.Reasoning
		}
	default:
		if rtxt := a.ReasoningText(); rtxt != "" {
			msg.SetContent("<think>" + rtxt + "</think>" + a.Content)
		}
	}
	return msg
}

// ResponseOutput renders the Responses-API output list: a synthesized
// assistant message leads when the stream produced text, followed by the raw
// backend items.
func (a *Aggregate) ResponseOutput() []json.RawMessage {
	var out []json.RawMessage
	if a.Content != "" {
		out = append(out, ir.AssistantMessageItem(a.Content))
	}
	for _, item := range a.Items {
		out = append(out, json.RawMessage(item))
	}
	return out
}

// EnsureUsage returns backend usage when reported, otherwise an estimate:
// tiktoken over the prompt text for input, content plus reasoning for output.
func (a *Aggregate) EnsureUsage(model, promptText string) *ir.Usage {
	if a.Usage != nil {
		return a.Usage
	}
	rt := util.EstimateTokens(model, a.ReasoningSummary) + util.EstimateTokens(model, a.Reasoning)
	out := util.EstimateTokens(model, a.Content) + rt
	a.Usage = &ir.Usage{
		InputTokens:     int64(util.EstimateTokens(model, promptText)),
		OutputTokens:    int64(out),
		ReasoningTokens: int64(rt),
	}
	return a.Usage
}
