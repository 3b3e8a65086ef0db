package bridge

import (
	"time"

	"github.com/yaananth/chatmock/internal/translator/ir"
)

// OllamaProjector re-encodes normalized events as Ollama NDJSON lines.
// Reasoning goes to the native thinking channel instead of think tags.
// Generate mode suppresses tool calls; the /api/generate wire has no shape
// for them.
type OllamaProjector struct {
	model    string
	generate bool

	start            time.Time
	evalStart        time.Time
	sawSummary       bool
	pendingParagraph bool
	usage            *ir.Usage
}

// NewOllamaChatProjector projects onto the /api/chat line shape.
func NewOllamaChatProjector(model string) *OllamaProjector {
	return &OllamaProjector{model: model, start: time.Now()}
}

// NewOllamaGenerateProjector projects onto the /api/generate line shape.
func NewOllamaGenerateProjector(model string) *OllamaProjector {
	return &OllamaProjector{model: model, generate: true, start: time.Now()}
}

func (p *OllamaProjector) line(content, thinking string) []byte {
	if p.evalStart.IsZero() {
		p.evalStart = time.Now()
	}
	if p.generate {
		return ir.BuildOllamaGenerateLine(p.model, content, thinking)
	}
	return ir.BuildOllamaChatLine(p.model, content, thinking)
}

// Project maps one event to zero or more NDJSON lines.
func (p *OllamaProjector) Project(ev ir.Event) [][]byte {
	switch ev.Type {
	case ir.EventContentDelta:
		return [][]byte{p.line(ev.Delta, "")}

	case ir.EventReasoningSummaryPart:
		if p.sawSummary {
			p.pendingParagraph = true
		} else {
			p.sawSummary = true
		}
		return nil

	case ir.EventReasoningSummaryDelta:
		thinking := ev.Delta
		if p.pendingParagraph {
			thinking = "\n" + thinking
			p.pendingParagraph = false
		}
		return [][]byte{p.line("", thinking)}

	case ir.EventReasoningDelta:
		return [][]byte{p.line("", ev.Delta)}

	case ir.EventOutputItemDone:
		if p.generate {
			return nil
		}
		item := ev.Item
		call := ir.OllamaToolCall{
			ID:       item.CallID,
			Type:     "function",
			Function: ir.OllamaToolFunction{Name: item.Name, Arguments: []byte(item.ArgsJSON)},
		}
		return [][]byte{ir.BuildOllamaChatToolCallLine(p.model, []ir.OllamaToolCall{call})}

	case ir.EventFailed:
		return [][]byte{ir.BuildOllamaErrorLine(ev.Error)}

	case ir.EventCompleted:
		if ev.Usage != nil {
			p.usage = ev.Usage
		}
		return [][]byte{p.doneLine(ir.FinishStop)}
	}
	return nil
}

func (p *OllamaProjector) doneLine(reason string) []byte {
	evalStart := p.evalStart
	if evalStart.IsZero() {
		evalStart = p.start
	}
	if p.generate {
		return ir.BuildOllamaGenerateDoneLine(p.model, reason, p.usage, time.Since(p.start), time.Since(evalStart))
	}
	return ir.BuildOllamaChatDoneLine(p.model, reason, p.usage, time.Since(p.start), time.Since(evalStart))
}

// Interrupt produces the terminal line for a stream cut off before a
// terminal event.
func (p *OllamaProjector) Interrupt(message string) [][]byte {
	return [][]byte{ir.BuildOllamaErrorLine(message)}
}
