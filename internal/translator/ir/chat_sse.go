// Pooled SSE builders for the OpenAI-compatible streaming surfaces.
// Typed structs instead of map[string]any keep the hot token path cheap.
package ir

import (
	"sync"

	"github.com/yaananth/chatmock/internal/json"
)

// WireUsage is the usage object shape on the chat/completions wire.
type WireUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Wire converts backend usage counts to the client-facing shape.
func (u Usage) Wire() WireUsage {
	return WireUsage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.Total(),
	}
}

// ChatChunk is one chat.completion.chunk frame.
type ChatChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []ChatChunkChoice `json:"choices"`
	Usage   *WireUsage        `json:"usage,omitempty"`
}

// ChatChunkChoice always serializes finish_reason, null when unset.
type ChatChunkChoice struct {
	Index        int     `json:"index"`
	Delta        any     `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type contentDelta struct {
	Content string `json:"content"`
}

type reasoningDelta struct {
	Reasoning string `json:"reasoning"`
}

type reasoningSummaryDelta struct {
	ReasoningSummary string `json:"reasoning_summary"`
	Reasoning        string `json:"reasoning"`
}

type reasoningBlockDelta struct {
	Reasoning ReasoningBlock `json:"reasoning"`
}

// ReasoningBlock is the structured reasoning shape used by o3-style clients.
type ReasoningBlock struct {
	Content []ReasoningText `json:"content"`
}

type ReasoningText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewReasoningBlock wraps text in the o3 structured reasoning shape.
func NewReasoningBlock(text string) ReasoningBlock {
	return ReasoningBlock{Content: []ReasoningText{{Type: "text", Text: text}}}
}

type toolCallsDelta struct {
	ToolCalls []ToolCallDelta `json:"tool_calls"`
}

// ToolCallDelta is one streamed tool_calls array entry.
type ToolCallDelta struct {
	Index    int          `json:"index"`
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionStub `json:"function"`
}

// FunctionStub carries a tool call's name and serialized arguments.
type FunctionStub struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

var emptyDelta = struct{}{}

var chatChunkPool = sync.Pool{
	New: func() any {
		return &ChatChunk{
			Object:  "chat.completion.chunk",
			Choices: make([]ChatChunkChoice, 1),
		}
	},
}

func getChatChunk() *ChatChunk {
	return chatChunkPool.Get().(*ChatChunk)
}

func putChatChunk(c *ChatChunk) {
	c.ID, c.Model, c.Created, c.Usage = "", "", 0, nil
	c.Choices[0] = ChatChunkChoice{}
	chatChunkPool.Put(c)
}

func buildChatChunk(id string, created int64, model string, delta any, finish string, usage *WireUsage) []byte {
	c := getChatChunk()
	defer putChatChunk(c)

	c.ID = id
	c.Created = created
	c.Model = model
	c.Choices[0].Index = 0
	c.Choices[0].Delta = delta
	if finish != "" {
		c.Choices[0].FinishReason = &finish
	} else {
		c.Choices[0].FinishReason = nil
	}
	c.Usage = usage

	jb, _ := json.Marshal(c)
	return BuildSSEChunk(jb)
}

// BuildChatContentSSE frames an assistant content fragment.
// This is the hot path, called once per token.
func BuildChatContentSSE(id string, created int64, model, content string) []byte {
	return buildChatChunk(id, created, model, contentDelta{Content: content}, "", nil)
}

// BuildChatReasoningSSE frames a raw reasoning fragment (current/legacy mode).
func BuildChatReasoningSSE(id string, created int64, model, text string) []byte {
	return buildChatChunk(id, created, model, reasoningDelta{Reasoning: text}, "", nil)
}

// BuildChatReasoningSummarySSE frames a summary fragment, mirrored into both
// reasoning fields (current/legacy mode).
func BuildChatReasoningSummarySSE(id string, created int64, model, text string) []byte {
	return buildChatChunk(id, created, model, reasoningSummaryDelta{ReasoningSummary: text, Reasoning: text}, "", nil)
}

// BuildChatReasoningBlockSSE frames a reasoning fragment in the o3 structured
// shape.
func BuildChatReasoningBlockSSE(id string, created int64, model, text string) []byte {
	return buildChatChunk(id, created, model, reasoningBlockDelta{Reasoning: NewReasoningBlock(text)}, "", nil)
}

// BuildChatToolCallSSE frames one tool_calls delta entry.
func BuildChatToolCallSSE(id string, created int64, model string, index int, callID, name, args string) []byte {
	delta := toolCallsDelta{ToolCalls: []ToolCallDelta{{
		Index:    index,
		ID:       callID,
		Type:     "function",
		Function: FunctionStub{Name: name, Arguments: args},
	}}}
	return buildChatChunk(id, created, model, delta, "", nil)
}

// BuildChatFinishSSE frames an empty delta carrying a finish reason.
func BuildChatFinishSSE(id string, created int64, model, reason string) []byte {
	return buildChatChunk(id, created, model, emptyDelta, reason, nil)
}

// BuildChatUsageSSE frames the optional trailing usage chunk.
func BuildChatUsageSSE(id string, created int64, model string, u Usage) []byte {
	w := u.Wire()
	return buildChatChunk(id, created, model, emptyDelta, "", &w)
}

// TextChunk is one text_completion.chunk frame for the legacy surface.
type TextChunk struct {
	ID      string            `json:"id"`
	Object  string            `json:"object"`
	Created int64             `json:"created"`
	Model   string            `json:"model"`
	Choices []TextChunkChoice `json:"choices"`
	Usage   *WireUsage        `json:"usage,omitempty"`
}

type TextChunkChoice struct {
	Index        int     `json:"index"`
	Text         string  `json:"text"`
	FinishReason *string `json:"finish_reason"`
}

var textChunkPool = sync.Pool{
	New: func() any {
		return &TextChunk{
			Object:  "text_completion.chunk",
			Choices: make([]TextChunkChoice, 1),
		}
	},
}

func buildTextChunk(id string, created int64, model, text, finish string, usage *WireUsage) []byte {
	c := textChunkPool.Get().(*TextChunk)
	defer func() {
		c.ID, c.Model, c.Created, c.Usage = "", "", 0, nil
		c.Choices[0] = TextChunkChoice{}
		textChunkPool.Put(c)
	}()

	c.ID = id
	c.Created = created
	c.Model = model
	c.Choices[0].Index = 0
	c.Choices[0].Text = text
	if finish != "" {
		c.Choices[0].FinishReason = &finish
	} else {
		c.Choices[0].FinishReason = nil
	}
	c.Usage = usage

	jb, _ := json.Marshal(c)
	return BuildSSEChunk(jb)
}

// BuildTextChunkSSE frames a completions text fragment; finish "" means null.
func BuildTextChunkSSE(id string, created int64, model, text, finish string) []byte {
	return buildTextChunk(id, created, model, text, finish, nil)
}

// BuildTextUsageSSE frames the optional trailing usage chunk.
func BuildTextUsageSSE(id string, created int64, model string, u Usage) []byte {
	w := u.Wire()
	return buildTextChunk(id, created, model, "", "", &w)
}

type errorFrame struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
}

// BuildErrorSSE frames an error payload; clients treat it as terminal.
func BuildErrorSSE(message string) []byte {
	jb, _ := json.Marshal(errorFrame{Error: errorBody{Message: message}})
	return BuildSSEChunk(jb)
}
