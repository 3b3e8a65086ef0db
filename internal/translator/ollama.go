package translator

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/yaananth/chatmock/internal/json"
)

// TranslateOllamaChat converts an /api/chat body. Ollama messages are first
// reshaped into chat-completions messages (images become image_url parts,
// tool calls gain synthetic ids) and then run through the regular chat
// conversion. Streaming defaults to true, NDJSON-projected by the bridge.
func TranslateOllamaChat(raw []byte, opts Options) (*Translation, error) {
	body, err := parseBody(raw)
	if err != nil {
		return nil, err
	}

	requested := body.Get("model").String()
	name := requested
	if strings.TrimSpace(name) == "" {
		name = opts.defaultModel()
	}
	model, suffixEffort := NormalizeModel(name, opts.DebugModel)

	chatMessages := convertOllamaMessages(body.Get("messages"), body.Get("images"))
	items := ConvertChatMessages(reparse(chatMessages))

	stream := true
	if s := body.Get("stream"); s.Exists() && s.Type != gjson.Null {
		stream = s.Bool()
	}

	return &Translation{
		Model:             model,
		RequestedModel:    requested,
		Effort:            suffixEffort,
		Stream:            stream,
		PromptKey:         PromptKeyForModel(model),
		InputItems:        items,
		Tools:             ConvertChatTools(reparse(normalizeOllamaTools(body.Get("tools")))),
		ToolChoice:        "auto",
		ParallelToolCalls: false,
		Reasoning:         BuildReasoning(opts.ReasoningEffort, opts.ReasoningSummary, body, suffixEffort),
		Compat:            opts.ReasoningCompat,
	}, nil
}

// TranslateOllamaGenerate converts an /api/generate body: the prompt and any
// top-level images become a single user message, and the system field rides
// as client instructions.
func TranslateOllamaGenerate(raw []byte, opts Options) (*Translation, error) {
	body, err := parseBody(raw)
	if err != nil {
		return nil, err
	}

	requested := body.Get("model").String()
	name := requested
	if strings.TrimSpace(name) == "" {
		name = opts.defaultModel()
	}
	model, suffixEffort := NormalizeModel(name, opts.DebugModel)

	message := map[string]any{
		"role":    "user",
		"content": body.Get("prompt").String(),
	}
	if images := body.Get("images"); images.IsArray() {
		message["images"] = images.Value()
	}
	chatMessages := convertOllamaMessages(reparse([]any{message}), gjson.Result{})
	items := ConvertChatMessages(reparse(chatMessages))

	stream := true
	if s := body.Get("stream"); s.Exists() && s.Type != gjson.Null {
		stream = s.Bool()
	}

	return &Translation{
		Model:              model,
		RequestedModel:     requested,
		Effort:             suffixEffort,
		Stream:             stream,
		PromptKey:          PromptKeyForModel(model),
		ClientInstructions: body.Get("system").String(),
		InputItems:         items,
		Tools:              []any{},
		ToolChoice:         "auto",
		Reasoning:          BuildReasoning(opts.ReasoningEffort, opts.ReasoningSummary, body, suffixEffort),
		Compat:             opts.ReasoningCompat,
	}, nil
}

// reparse round-trips constructed values through JSON so gjson-based
// converters can consume them.
func reparse(v any) gjson.Result {
	doc, err := json.Marshal(v)
	if err != nil {
		return gjson.Parse("[]")
	}
	return gjson.ParseBytes(doc)
}

// convertOllamaMessages reshapes Ollama chat messages into chat-completions
// messages. Per-message images become image_url parts; request-level images
// attach to the last user message. Tool messages missing a tool_call_id
// consume pending assistant call ids in order.
func convertOllamaMessages(messages, topImages gjson.Result) []any {
	out := make([]any, 0, 8)
	var pendingCallIDs []string
	callCounter := 0

	messages.ForEach(func(_, m gjson.Result) bool {
		if !m.IsObject() {
			return true
		}
		role := m.Get("role").String()
		if role == "" {
			role = "user"
		}
		nm := map[string]any{"role": role}

		var parts []any
		content := m.Get("content")
		switch {
		case content.IsArray():
			content.ForEach(func(_, p gjson.Result) bool {
				if p.Get("type").String() == "text" && p.Get("text").Type == gjson.String {
					parts = append(parts, map[string]any{"type": "text", "text": p.Get("text").String()})
				}
				return true
			})
		case content.Type == gjson.String:
			parts = append(parts, map[string]any{"type": "text", "text": content.String()})
		}
		m.Get("images").ForEach(func(_, img gjson.Result) bool {
			if u := ToDataURL(img.String()); u != "" {
				parts = append(parts, map[string]any{
					"type":      "image_url",
					"image_url": map[string]any{"url": u},
				})
			}
			return true
		})
		if len(parts) > 0 {
			nm["content"] = parts
		}

		if role == "assistant" && m.Get("tool_calls").IsArray() {
			var tcs []any
			m.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
				fn := tc.Get("function")
				name := fn.Get("name")
				if name.Type != gjson.String || name.String() == "" {
					return true
				}
				callID := tc.Get("id").String()
				if callID == "" {
					callID = tc.Get("call_id").String()
				}
				if callID == "" {
					callCounter++
					callID = fmt.Sprintf("ollama_call_%d", callCounter)
				}
				pendingCallIDs = append(pendingCallIDs, callID)
				tcs = append(tcs, map[string]any{
					"id":   callID,
					"type": "function",
					"function": map[string]any{
						"name":      name.String(),
						"arguments": ollamaToolArguments(fn.Get("arguments")),
					},
				})
				return true
			})
			if len(tcs) > 0 {
				nm["tool_calls"] = tcs
			}
		}

		if role == "tool" {
			callID := m.Get("tool_call_id").String()
			if callID == "" {
				callID = m.Get("id").String()
			}
			if callID == "" && len(pendingCallIDs) > 0 {
				callID = pendingCallIDs[0]
				pendingCallIDs = pendingCallIDs[1:]
			}
			if callID != "" {
				nm["tool_call_id"] = callID
			}
			if len(parts) == 0 && content.Type == gjson.String {
				nm["content"] = content.String()
			}
		}

		out = append(out, nm)
		return true
	})

	if topImages.IsArray() && len(topImages.Array()) > 0 {
		var attach map[string]any
		for i := len(out) - 1; i >= 0; i-- {
			if mm, ok := out[i].(map[string]any); ok && mm["role"] == "user" {
				attach = mm
				break
			}
		}
		if attach == nil {
			attach = map[string]any{"role": "user", "content": []any{}}
			out = append(out, attach)
		}
		parts, _ := attach["content"].([]any)
		topImages.ForEach(func(_, img gjson.Result) bool {
			if u := ToDataURL(img.String()); u != "" {
				parts = append(parts, map[string]any{
					"type":      "image_url",
					"image_url": map[string]any{"url": u},
				})
			}
			return true
		})
		attach["content"] = parts
	}
	return out
}

func ollamaToolArguments(args gjson.Result) string {
	switch {
	case args.Type == gjson.String:
		return args.String()
	case args.IsObject():
		return args.Raw
	}
	return "{}"
}

// normalizeOllamaTools reshapes Ollama tool declarations into chat-style
// function tools. Bare {name, description} entries are accepted too.
func normalizeOllamaTools(tools gjson.Result) []any {
	out := make([]any, 0, 4)
	tools.ForEach(func(_, t gjson.Result) bool {
		if !t.IsObject() {
			return true
		}
		if fn := t.Get("function"); fn.IsObject() {
			name := fn.Get("name")
			if name.Type != gjson.String || name.String() == "" {
				return true
			}
			var params any = map[string]any{"type": "object", "properties": map[string]any{}}
			if p := fn.Get("parameters"); p.IsObject() {
				params = p.Value()
			}
			out = append(out, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        name.String(),
					"description": fn.Get("description").String(),
					"parameters":  params,
				},
			})
			return true
		}
		if name := t.Get("name"); name.Type == gjson.String && name.String() != "" {
			out = append(out, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        name.String(),
					"description": t.Get("description").String(),
					"parameters":  map[string]any{"type": "object", "properties": map[string]any{}},
				},
			})
		}
		return true
	})
	return out
}

// ToDataURL upgrades a bare base64 image string to a data URL, sniffing the
// media type from the encoded magic bytes. Existing data/http URLs pass
// through untouched.
func ToDataURL(image string) string {
	s := strings.TrimSpace(image)
	if s == "" {
		return ""
	}
	if strings.HasPrefix(s, "data:image/") || strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return s
	}
	b64 := strings.NewReplacer("\n", "", "\r", "").Replace(s)
	kind := "image/png"
	switch {
	case strings.HasPrefix(b64, "/9j/"):
		kind = "image/jpeg"
	case strings.HasPrefix(b64, "iVBORw0KGgo"):
		kind = "image/png"
	case strings.HasPrefix(b64, "R0lGOD"):
		kind = "image/gif"
	}
	return "data:" + kind + ";base64," + b64
}
