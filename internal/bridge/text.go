package bridge

import (
	"github.com/yaananth/chatmock/internal/translator/ir"
)

// TextProjector re-encodes normalized events as text_completion.chunk SSE
// frames for the legacy completions surface. Reasoning and tool events have
// no wire shape here and are dropped.
type TextProjector struct {
	model        string
	created      int64
	includeUsage bool

	id    string
	usage *ir.Usage
}

// NewTextProjector sets up a projector for one streaming completion.
func NewTextProjector(model string, created int64, includeUsage bool) *TextProjector {
	return &TextProjector{model: model, created: created, includeUsage: includeUsage, id: "cmpl-stream"}
}

// Project maps one event to zero or more SSE frames.
func (p *TextProjector) Project(ev ir.Event) [][]byte {
	if ev.ResponseID != "" {
		p.id = ev.ResponseID
	}
	switch ev.Type {
	case ir.EventContentDelta:
		return [][]byte{ir.BuildTextChunkSSE(p.id, p.created, p.model, ev.Delta, "")}
	case ir.EventOutputTextDone:
		return [][]byte{ir.BuildTextChunkSSE(p.id, p.created, p.model, "", ir.FinishStop)}
	case ir.EventFailed:
		return [][]byte{ir.BuildErrorSSE(ev.Error)}
	case ir.EventCompleted:
		if ev.Usage != nil {
			p.usage = ev.Usage
		}
		var frames [][]byte
		if p.includeUsage && p.usage != nil {
			frames = append(frames, ir.BuildTextUsageSSE(p.id, p.created, p.model, *p.usage))
		}
		return append(frames, ir.DoneFrame)
	}
	return nil
}

// Interrupt produces the terminal frame for a stream cut off before a
// terminal event.
func (p *TextProjector) Interrupt(message string) [][]byte {
	return [][]byte{ir.BuildErrorSSE(message)}
}
