package bridge

import (
	"github.com/yaananth/chatmock/internal/translator/ir"
)

// Reasoning compatibility modes, fixed per request.
const (
	CompatThinkTags = "think-tags"
	CompatO3        = "o3"
	CompatCurrent   = "current"
	CompatLegacy    = "legacy"
)

// ChatProjector re-encodes normalized events as chat.completion.chunk SSE
// frames. One event can yield several frames (think-tag brackets, paragraph
// separators, tool-call finish chunks), so Project returns a slice.
type ChatProjector struct {
	model        string
	created      int64
	compat       string
	includeUsage bool

	id               string
	thinkOpen        bool
	thinkClosed      bool
	sawSummary       bool
	pendingParagraph bool
	usage            *ir.Usage

	// Tool call wire indexes are assigned per call id in arrival order.
	callIndex map[string]int
	nextIndex int
}

// NewChatProjector sets up a projector for one streaming chat response.
func NewChatProjector(model string, created int64, compat string, includeUsage bool) *ChatProjector {
	if compat == "" {
		compat = CompatThinkTags
	}
	return &ChatProjector{
		model:        model,
		created:      created,
		compat:       compat,
		includeUsage: includeUsage,
		id:           "chatcmpl-stream",
		callIndex:    make(map[string]int),
	}
}

func (p *ChatProjector) indexFor(callID string) int {
	if idx, ok := p.callIndex[callID]; ok {
		return idx
	}
	idx := p.nextIndex
	p.callIndex[callID] = idx
	p.nextIndex++
	return idx
}

func (p *ChatProjector) track(ev ir.Event) {
	if ev.ResponseID != "" {
		p.id = ev.ResponseID
	}
}

// Project maps one event to zero or more SSE frames.
func (p *ChatProjector) Project(ev ir.Event) [][]byte {
	p.track(ev)
	switch ev.Type {
	case ir.EventContentDelta:
		var frames [][]byte
		if p.compat == CompatThinkTags && p.thinkOpen && !p.thinkClosed {
			frames = append(frames, ir.BuildChatContentSSE(p.id, p.created, p.model, "</think>"))
			p.thinkOpen = false
			p.thinkClosed = true
		}
		return append(frames, ir.BuildChatContentSSE(p.id, p.created, p.model, ev.Delta))

	case ir.EventReasoningSummaryPart:
		if p.compat == CompatThinkTags || p.compat == CompatO3 {
			if p.sawSummary {
				p.pendingParagraph = true
			} else {
				p.sawSummary = true
			}
		}
		return nil

	case ir.EventReasoningSummaryDelta:
		return p.reasoning(ev.Delta, true)

	case ir.EventReasoningDelta:
		return p.reasoning(ev.Delta, false)

	case ir.EventWebSearchCall:
		item := ev.Item
		frames := [][]byte{ir.BuildChatToolCallSSE(
			p.id, p.created, p.model, p.indexFor(item.CallID), item.CallID, item.Name, item.ArgsJSON,
		)}
		if item.Done {
			frames = append(frames, ir.BuildChatFinishSSE(p.id, p.created, p.model, ir.FinishToolCalls))
		}
		return frames

	case ir.EventOutputItemDone:
		item := ev.Item
		return [][]byte{
			ir.BuildChatToolCallSSE(p.id, p.created, p.model, p.indexFor(item.CallID), item.CallID, item.Name, item.ArgsJSON),
			ir.BuildChatFinishSSE(p.id, p.created, p.model, ir.FinishToolCalls),
		}

	case ir.EventFailed:
		return [][]byte{ir.BuildErrorSSE(ev.Error)}

	case ir.EventCompleted:
		if ev.Usage != nil {
			p.usage = ev.Usage
		}
		var frames [][]byte
		if p.compat == CompatThinkTags && p.thinkOpen && !p.thinkClosed {
			frames = append(frames, ir.BuildChatContentSSE(p.id, p.created, p.model, "</think>"))
			p.thinkOpen = false
			p.thinkClosed = true
		}
		if p.includeUsage && p.usage != nil {
			frames = append(frames, ir.BuildChatUsageSSE(p.id, p.created, p.model, *p.usage))
		}
		return append(frames, ir.DoneFrame)
	}
	return nil
}

// reasoning projects a reasoning fragment in the configured compat shape.
func (p *ChatProjector) reasoning(delta string, summary bool) [][]byte {
	switch p.compat {
	case CompatO3:
		var frames [][]byte
		if summary && p.pendingParagraph {
			frames = append(frames, ir.BuildChatReasoningBlockSSE(p.id, p.created, p.model, "\n"))
			p.pendingParagraph = false
		}
		return append(frames, ir.BuildChatReasoningBlockSSE(p.id, p.created, p.model, delta))

	case CompatThinkTags:
		var frames [][]byte
		if !p.thinkOpen && !p.thinkClosed {
			frames = append(frames, ir.BuildChatContentSSE(p.id, p.created, p.model, "<think>"))
			p.thinkOpen = true
		}
		if p.thinkOpen && !p.thinkClosed {
			if summary && p.pendingParagraph {
				frames = append(frames, ir.BuildChatContentSSE(p.id, p.created, p.model, "\n"))
				p.pendingParagraph = false
			}
			frames = append(frames, ir.BuildChatContentSSE(p.id, p.created, p.model, delta))
		}
		return frames

	default:
		if summary {
			return [][]byte{ir.BuildChatReasoningSummarySSE(p.id, p.created, p.model, delta)}
		}
		return [][]byte{ir.BuildChatReasoningSSE(p.id, p.created, p.model, delta)}
	}
}

// Interrupt produces the terminal frame for a stream cut off before a
// terminal event, so the client never sees a silent truncation.
func (p *ChatProjector) Interrupt(message string) [][]byte {
	return [][]byte{ir.BuildErrorSSE(message)}
}
