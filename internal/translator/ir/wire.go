// Non-stream wire objects for the OpenAI-compatible surfaces.
package ir

import "github.com/yaananth/chatmock/internal/json"

// AssistantMessage is the message object inside a chat.completion choice.
// Content is null (not "") when the backend produced no text.
type AssistantMessage struct {
	Role             string        `json:"role"`
	Content          *string       `json:"content"`
	ToolCalls        []ToolCallRef `json:"tool_calls,omitempty"`
	ReasoningSummary string        `json:"reasoning_summary,omitempty"`
	Reasoning        any           `json:"reasoning,omitempty"` // string or ReasoningBlock
}

// SetContent assigns text, mapping "" to JSON null.
func (m *AssistantMessage) SetContent(text string) {
	if text == "" {
		m.Content = nil
		return
	}
	m.Content = &text
}

// ToolCallRef is one completed tool call on the chat completions wire.
type ToolCallRef struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionStub `json:"function"`
}

// ChatCompletion is the aggregated chat result.
type ChatCompletion struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *WireUsage   `json:"usage,omitempty"`
}

type ChatChoice struct {
	Index        int              `json:"index"`
	Message      AssistantMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

// TextCompletion is the aggregated legacy completions result.
// Logprobs is always null on this surface.
type TextCompletion struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []TextChoice `json:"choices"`
	Usage   *WireUsage   `json:"usage,omitempty"`
}

type TextChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
	Logprobs     any    `json:"logprobs"`
}

// ResponseObject is the aggregated Responses API result. Output preserves the
// backend's item JSON verbatim after the synthesized assistant message.
type ResponseObject struct {
	ID        string            `json:"id"`
	Object    string            `json:"object"`
	CreatedAt int64             `json:"created_at"`
	Model     string            `json:"model"`
	Output    []json.RawMessage `json:"output"`
	Usage     *WireUsage        `json:"usage,omitempty"`
}

// AssistantMessageItem synthesizes the output_text message item that leads
// the Output list when the stream produced text.
func AssistantMessageItem(text string) json.RawMessage {
	item := map[string]any{
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "output_text", "text": text},
		},
	}
	b, _ := json.Marshal(item)
	return b
}
