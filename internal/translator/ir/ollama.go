// Pooled NDJSON chunk builders for the Ollama-compatible surface.
package ir

import (
	"sync"
	"time"

	"github.com/yaananth/chatmock/internal/json"
)

// OllamaChatChunk is one /api/chat NDJSON line.
type OllamaChatChunk struct {
	Model              string            `json:"model"`
	CreatedAt          string            `json:"created_at"`
	Message            OllamaChatMessage `json:"message"`
	Done               bool              `json:"done"`
	DoneReason         string            `json:"done_reason,omitempty"`
	PromptEvalCount    int64             `json:"prompt_eval_count,omitempty"`
	EvalCount          int64             `json:"eval_count,omitempty"`
	TotalDuration      int64             `json:"total_duration,omitempty"`
	LoadDuration       int64             `json:"load_duration,omitempty"`
	PromptEvalDuration int64             `json:"prompt_eval_duration,omitempty"`
	EvalDuration       int64             `json:"eval_duration,omitempty"`
}

type OllamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Thinking  string           `json:"thinking,omitempty"`
	ToolCalls []OllamaToolCall `json:"tool_calls,omitempty"`
}

type OllamaToolCall struct {
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type"`
	Function OllamaToolFunction `json:"function"`
}

type OllamaToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// OllamaGenerateChunk is one /api/generate NDJSON line.
type OllamaGenerateChunk struct {
	Model              string `json:"model"`
	CreatedAt          string `json:"created_at"`
	Response           string `json:"response"`
	Thinking           string `json:"thinking,omitempty"`
	Done               bool   `json:"done"`
	DoneReason         string `json:"done_reason,omitempty"`
	PromptEvalCount    int64  `json:"prompt_eval_count,omitempty"`
	EvalCount          int64  `json:"eval_count,omitempty"`
	TotalDuration      int64  `json:"total_duration,omitempty"`
	LoadDuration       int64  `json:"load_duration,omitempty"`
	PromptEvalDuration int64  `json:"prompt_eval_duration,omitempty"`
	EvalDuration       int64  `json:"eval_duration,omitempty"`
}

var ollamaChatChunkPool = sync.Pool{
	New: func() any {
		return &OllamaChatChunk{Message: OllamaChatMessage{Role: "assistant"}}
	},
}

var ollamaGenerateChunkPool = sync.Pool{
	New: func() any {
		return &OllamaGenerateChunk{}
	},
}

func putOllamaChatChunk(c *OllamaChatChunk) {
	c.Model, c.CreatedAt, c.Done, c.DoneReason = "", "", false, ""
	c.Message.Content, c.Message.Thinking, c.Message.ToolCalls = "", "", nil
	c.PromptEvalCount, c.EvalCount = 0, 0
	c.TotalDuration, c.LoadDuration, c.PromptEvalDuration, c.EvalDuration = 0, 0, 0, 0
	ollamaChatChunkPool.Put(c)
}

func putOllamaGenerateChunk(c *OllamaGenerateChunk) {
	c.Model, c.CreatedAt, c.Done, c.Response, c.Thinking, c.DoneReason = "", "", false, "", "", ""
	c.PromptEvalCount, c.EvalCount = 0, 0
	c.TotalDuration, c.LoadDuration, c.PromptEvalDuration, c.EvalDuration = 0, 0, 0, 0
	ollamaGenerateChunkPool.Put(c)
}

func ollamaNow() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// BuildOllamaChatLine frames a streaming chat fragment.
func BuildOllamaChatLine(model, content, thinking string) []byte {
	c := ollamaChatChunkPool.Get().(*OllamaChatChunk)
	defer putOllamaChatChunk(c)

	c.Model = model
	c.CreatedAt = ollamaNow()
	c.Message.Role = "assistant"
	c.Message.Content = content
	c.Message.Thinking = thinking

	jb, _ := json.Marshal(c)
	return BuildNDJSONLine(jb)
}

// BuildOllamaChatToolCallLine frames streamed tool calls.
func BuildOllamaChatToolCallLine(model string, calls []OllamaToolCall) []byte {
	c := ollamaChatChunkPool.Get().(*OllamaChatChunk)
	defer putOllamaChatChunk(c)

	c.Model = model
	c.CreatedAt = ollamaNow()
	c.Message.Role = "assistant"
	c.Message.ToolCalls = calls

	jb, _ := json.Marshal(c)
	return BuildNDJSONLine(jb)
}

// BuildOllamaChatDoneLine frames the terminal chat chunk with token counts
// and wall-clock durations in nanoseconds.
func BuildOllamaChatDoneLine(model, doneReason string, u *Usage, totalDur, evalDur time.Duration) []byte {
	c := ollamaChatChunkPool.Get().(*OllamaChatChunk)
	defer putOllamaChatChunk(c)

	c.Model = model
	c.CreatedAt = ollamaNow()
	c.Message.Role = "assistant"
	c.Done = true
	c.DoneReason = doneReason
	if u != nil {
		c.PromptEvalCount = u.InputTokens
		c.EvalCount = u.OutputTokens
	}
	c.TotalDuration = totalDur.Nanoseconds()
	c.EvalDuration = evalDur.Nanoseconds()

	jb, _ := json.Marshal(c)
	return BuildNDJSONLine(jb)
}

// BuildOllamaGenerateLine frames a streaming generate fragment.
func BuildOllamaGenerateLine(model, response, thinking string) []byte {
	c := ollamaGenerateChunkPool.Get().(*OllamaGenerateChunk)
	defer putOllamaGenerateChunk(c)

	c.Model = model
	c.CreatedAt = ollamaNow()
	c.Response = response
	c.Thinking = thinking

	jb, _ := json.Marshal(c)
	return BuildNDJSONLine(jb)
}

// BuildOllamaErrorLine frames an error the way the Ollama wire reports one.
func BuildOllamaErrorLine(message string) []byte {
	jb, _ := json.Marshal(map[string]string{"error": message})
	return BuildNDJSONLine(jb)
}

// BuildOllamaGenerateDoneLine frames the terminal generate chunk.
func BuildOllamaGenerateDoneLine(model, doneReason string, u *Usage, totalDur, evalDur time.Duration) []byte {
	c := ollamaGenerateChunkPool.Get().(*OllamaGenerateChunk)
	defer putOllamaGenerateChunk(c)

	c.Model = model
	c.CreatedAt = ollamaNow()
	c.Done = true
	c.DoneReason = doneReason
	if u != nil {
		c.PromptEvalCount = u.InputTokens
		c.EvalCount = u.OutputTokens
	}
	c.TotalDuration = totalDur.Nanoseconds()
	c.EvalDuration = evalDur.Nanoseconds()

	jb, _ := json.Marshal(c)
	return BuildNDJSONLine(jb)
}

// BuildOllamaChatFinal builds the single non-stream /api/chat body: the whole
// assistant message with done=true, no NDJSON framing.
func BuildOllamaChatFinal(model, doneReason string, msg OllamaChatMessage, u *Usage, totalDur, evalDur time.Duration) []byte {
	c := OllamaChatChunk{
		Model:     model,
		CreatedAt: ollamaNow(),
		Message:   msg,
		Done:      true,
	}
	if c.Message.Role == "" {
		c.Message.Role = "assistant"
	}
	c.DoneReason = doneReason
	if u != nil {
		c.PromptEvalCount = u.InputTokens
		c.EvalCount = u.OutputTokens
	}
	c.TotalDuration = totalDur.Nanoseconds()
	c.EvalDuration = evalDur.Nanoseconds()

	jb, _ := json.Marshal(&c)
	return jb
}

// BuildOllamaGenerateFinal builds the single non-stream /api/generate body.
func BuildOllamaGenerateFinal(model, doneReason, response, thinking string, u *Usage, totalDur, evalDur time.Duration) []byte {
	c := OllamaGenerateChunk{
		Model:      model,
		CreatedAt:  ollamaNow(),
		Response:   response,
		Thinking:   thinking,
		Done:       true,
		DoneReason: doneReason,
	}
	if u != nil {
		c.PromptEvalCount = u.InputTokens
		c.EvalCount = u.OutputTokens
	}
	c.TotalDuration = totalDur.Nanoseconds()
	c.EvalDuration = evalDur.Nanoseconds()

	jb, _ := json.Marshal(&c)
	return jb
}
