package translator

import (
	"slices"
	"strings"

	"github.com/yaananth/chatmock/internal/json"
)

// Instructions stub sent when verbatim mode is on and the client supplied
// none; the upstream rejects an absent instructions field.
const fallbackInstructions = "You are a helpful assistant."

// BuildPayload assembles the upstream request body. The upstream requires
// store=false and stream=true unconditionally; client extras are merged last
// but can never override those. Reasoning requests always ask for encrypted
// reasoning content so multi-turn threads can replay it.
func BuildPayload(t *Translation, baseInstructions, sessionID string) ([]byte, error) {
	instructions, lead := resolveInstructions(t, baseInstructions)
	input := t.InputItems
	if lead != nil {
		input = append([]any{lead}, input...)
	}
	if input == nil {
		input = []any{}
	}
	tools := t.Tools
	if tools == nil {
		tools = []any{}
	}
	toolChoice := t.ToolChoice
	if toolChoice == nil {
		toolChoice = "auto"
	}

	body := map[string]any{
		"model":               t.Model,
		"instructions":        instructions,
		"input":               input,
		"tools":               tools,
		"tool_choice":         toolChoice,
		"parallel_tool_calls": t.ParallelToolCalls,
		"store":               false,
		"stream":              true,
		"prompt_cache_key":    sessionID,
	}

	include := make([]string, 0, 2)
	if raw, ok := t.Extra["include"].([]any); ok {
		for _, x := range raw {
			if s, ok := x.(string); ok {
				include = append(include, s)
			}
		}
	}
	if t.Reasoning != nil {
		body["reasoning"] = t.Reasoning
		if !slices.Contains(include, "reasoning.encrypted_content") {
			include = append(include, "reasoning.encrypted_content")
		}
	}
	if len(include) > 0 {
		body["include"] = include
	}

	for k, v := range t.Extra {
		switch k {
		case "stream", "store", "include":
			continue
		}
		body[k] = v
	}
	return json.Marshal(body)
}

// resolveInstructions applies the instruction policy: by default the cached
// base prompt is sent and any client instructions ride as a leading user
// item; in verbatim mode the client text replaces the base prompt entirely.
func resolveInstructions(t *Translation, baseInstructions string) (string, map[string]any) {
	client := strings.TrimSpace(t.ClientInstructions)
	if t.VerbatimInstructions {
		if client != "" {
			return t.ClientInstructions, nil
		}
		return fallbackInstructions, nil
	}
	if client == "" {
		return baseInstructions, nil
	}
	return baseInstructions, map[string]any{
		"role": "user",
		"content": []any{
			map[string]any{"type": "input_text", "text": t.ClientInstructions},
		},
	}
}
