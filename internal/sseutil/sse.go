// Package sseutil provides shared SSE (Server-Sent Events) parsing helpers
// for the ChatGPT Responses stream. It is imported by both the upstream
// client and the streaming bridge without creating circular dependencies.
package sseutil

import (
	"bufio"
	"bytes"
	"io"

	"github.com/tidwall/gjson"
)

// Pre-allocated byte slices for zero-copy comparisons
var (
	doneMarker  = []byte("[DONE]")
	dataPrefix  = []byte("data:")
	eventPrefix = []byte("event:")
)

// Upstream reasoning deltas can carry multi-megabyte encrypted payloads on a
// single SSE line, so the scanner buffer has to be generous.
const (
	initialScanBuffer = 64 * 1024
	maxScanBuffer     = 16 * 1024 * 1024
)

// NewScanner returns a line scanner sized for Responses SSE streams.
func NewScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, initialScanBuffer), maxScanBuffer)
	return sc
}

// IsDone reports whether the SSE line is the terminal [DONE] sentinel.
func IsDone(line []byte) bool {
	trimmed := bytes.TrimSpace(line)
	if bytes.HasPrefix(trimmed, dataPrefix) {
		trimmed = bytes.TrimSpace(trimmed[len(dataPrefix):])
	}
	return bytes.Equal(trimmed, doneMarker)
}

// JSONPayload extracts the JSON payload from an SSE data line.
// Returns nil if the line is empty, [DONE], an event: line, or does not
// start a JSON object.
func JSONPayload(line []byte) []byte {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil
	}
	if bytes.Equal(trimmed, doneMarker) {
		return nil
	}
	if bytes.HasPrefix(trimmed, eventPrefix) {
		return nil
	}
	if bytes.HasPrefix(trimmed, dataPrefix) {
		trimmed = bytes.TrimSpace(trimmed[len(dataPrefix):])
	}
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	if bytes.Equal(trimmed, doneMarker) {
		return nil
	}
	return trimmed
}

// EventKind returns the "type" field of a Responses event payload,
// or "" when the payload has none.
func EventKind(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	return gjson.GetBytes(payload, "type").String()
}

// ResponseID returns response.id from a Responses event payload.
func ResponseID(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	return gjson.GetBytes(payload, "response.id").String()
}
