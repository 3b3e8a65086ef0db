// Memory pools and SSE framing shared by the wire builders.
package ir

import (
	"bytes"
	"strings"
	"sync"
)

var BytesBufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 1024))
	},
}

func GetBuffer() *bytes.Buffer {
	return BytesBufferPool.Get().(*bytes.Buffer)
}

// PutBuffer returns a buffer to the pool after resetting it.
func PutBuffer(buf *bytes.Buffer) {
	buf.Reset()
	BytesBufferPool.Put(buf)
}

// StringBuilderPool provides reusable strings.Builder instances for
// aggregation paths.
var StringBuilderPool = sync.Pool{
	New: func() any {
		b := &strings.Builder{}
		b.Grow(512)
		return b
	},
}

func GetStringBuilder() *strings.Builder {
	return StringBuilderPool.Get().(*strings.Builder)
}

// PutStringBuilder returns a string builder to the pool after resetting it.
func PutStringBuilder(sb *strings.Builder) {
	sb.Reset()
	StringBuilderPool.Put(sb)
}

// DefaultToolParameters is the schema substituted when a client function tool
// carries no parameters (immutable, safe to share).
var DefaultToolParameters = map[string]any{
	"type":       "object",
	"properties": map[string]any{},
}

// DoneFrame is the terminal SSE frame.
var DoneFrame = []byte("data: [DONE]\n\n")

// BuildSSEChunk frames a JSON payload as a data-only SSE event.
func BuildSSEChunk(jsonData []byte) []byte {
	size := 6 + len(jsonData) + 2 // "data: " + json + "\n\n"
	buf := make([]byte, 0, size)
	buf = append(buf, "data: "...)
	buf = append(buf, jsonData...)
	buf = append(buf, "\n\n"...)
	return buf
}

// BuildSSEEvent frames a JSON payload as a typed SSE event.
func BuildSSEEvent(eventType string, jsonData []byte) []byte {
	size := 7 + len(eventType) + 7 + len(jsonData) + 2
	buf := make([]byte, 0, size)
	buf = append(buf, "event: "...)
	buf = append(buf, eventType...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, jsonData...)
	buf = append(buf, "\n\n"...)
	return buf
}

// BuildNDJSONLine frames a JSON payload as one newline-delimited JSON line
// for the Ollama streaming surface.
func BuildNDJSONLine(jsonData []byte) []byte {
	buf := make([]byte, 0, len(jsonData)+1)
	buf = append(buf, jsonData...)
	buf = append(buf, '\n')
	return buf
}
