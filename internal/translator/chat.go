package translator

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/yaananth/chatmock/internal/json"
)

// Chat-surface params the upstream rejects; recorded per request so the
// gateway can emit one param_stripped diagnostic each.
var chatStrippedParams = []string{"max_tokens", "max_completion_tokens", "max_output_tokens"}

// TranslateChat converts a /v1/chat/completions body into a Translation.
// The first system message is hoisted to the front of the conversation as a
// user message; base instructions ride separately via the prompt cache.
func TranslateChat(raw []byte, opts Options) (*Translation, error) {
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

	messages := body.Get("messages")
	if !messages.Exists() || messages.Type == gjson.Null {
		if p := body.Get("prompt"); p.Type == gjson.String {
			messages = syntheticUserMessages(p.String())
		} else if in := body.Get("input"); in.Type == gjson.String {
			messages = syntheticUserMessages(in.String())
		}
	}
	if messages.Exists() && messages.Type != gjson.Null && !messages.IsArray() {
		return nil, malformed("Request must include messages: []")
	}

	items := make([]any, 0, 8)
	if lead := hoistSystemMessage(messages); lead != nil {
		items = append(items, lead)
	}
	items = append(items, ConvertChatMessages(messages)...)
	if len(items) == 0 {
		if p := body.Get("prompt"); p.Type == gjson.String && strings.TrimSpace(p.String()) != "" {
			items = append(items, userTextItem(p.String()))
		}
	}

	t := &Translation{
		Model:             model,
		RequestedModel:    requested,
		Effort:            suffixEffort,
		Stream:            body.Get("stream").Bool(),
		IncludeUsage:      body.Get("stream_options.include_usage").Bool(),
		PromptKey:         PromptKeyForModel(model),
		InputItems:        items,
		Tools:             ConvertChatTools(body.Get("tools")),
		ToolChoice:        toolChoiceValue(body.Get("tool_choice")),
		ParallelToolCalls: body.Get("parallel_tool_calls").Bool(),
		Reasoning:         BuildReasoning(opts.ReasoningEffort, opts.ReasoningSummary, body, suffixEffort),
		Compat:            opts.ReasoningCompat,
	}
	for _, param := range chatStrippedParams {
		if v := body.Get(param); v.Exists() && v.Type != gjson.Null {
			t.StrippedParams = append(t.StrippedParams, param)
		}
	}
	return t, nil
}

// TranslateCompletions converts a legacy /v1/completions body. The prompt
// (or string list of prompts) becomes a single user message; the text
// projection is selected downstream by the caller.
func TranslateCompletions(raw []byte, opts Options) (*Translation, error) {
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

	prompt := completionsPrompt(body)
	items := make([]any, 0, 1)
	if prompt != "" {
		items = append(items, userTextItem(prompt))
	}

	t := &Translation{
		Model:          model,
		RequestedModel: requested,
		Effort:         suffixEffort,
		Stream:         body.Get("stream").Bool(),
		IncludeUsage:   body.Get("stream_options.include_usage").Bool(),
		PromptKey:      PromptKeyForModel(model),
		InputItems:     items,
		Tools:          []any{},
		ToolChoice:     "auto",
		Reasoning:      BuildReasoning(opts.ReasoningEffort, opts.ReasoningSummary, body, suffixEffort),
		Compat:         opts.ReasoningCompat,
	}
	for _, param := range chatStrippedParams {
		if v := body.Get(param); v.Exists() && v.Type != gjson.Null {
			t.StrippedParams = append(t.StrippedParams, param)
		}
	}
	return t, nil
}

// completionsPrompt coerces the legacy prompt field: strings pass through,
// string arrays are joined, anything else falls back to suffix or "".
func completionsPrompt(body gjson.Result) string {
	p := body.Get("prompt")
	switch {
	case p.Type == gjson.String:
		return p.String()
	case p.IsArray():
		var sb strings.Builder
		p.ForEach(func(_, el gjson.Result) bool {
			if el.Type == gjson.String {
				sb.WriteString(el.String())
			}
			return true
		})
		return sb.String()
	}
	if s := body.Get("suffix"); s.Type == gjson.String {
		return s.String()
	}
	return ""
}

// hoistSystemMessage lifts the first system message out of the conversation
// and returns it reshaped as a leading user message item, nil when absent
// or empty. ConvertChatMessages skips the original in place.
func hoistSystemMessage(messages gjson.Result) map[string]any {
	var sys gjson.Result
	messages.ForEach(func(_, m gjson.Result) bool {
		if m.IsObject() && m.Get("role").String() == "system" {
			sys = m
			return false
		}
		return true
	})
	if !sys.Exists() {
		return nil
	}
	parts := contentParts("user", sys.Get("content"))
	if len(parts) == 0 {
		return nil
	}
	return map[string]any{
		"type":    "message",
		"role":    "user",
		"content": parts,
	}
}

// syntheticUserMessages wraps a bare prompt/input string as a one-element
// messages array so the regular conversion path applies.
func syntheticUserMessages(text string) gjson.Result {
	doc, err := json.Marshal([]map[string]string{{"role": "user", "content": text}})
	if err != nil {
		return gjson.Parse("[]")
	}
	return gjson.ParseBytes(doc)
}

func userTextItem(text string) map[string]any {
	return map[string]any{
		"type": "message",
		"role": "user",
		"content": []any{
			map[string]any{"type": "input_text", "text": text},
		},
	}
}

// toolChoiceValue keeps "auto"/"none" and object choices, coercing anything
// else (including "required", which the upstream rejects) back to "auto".
func toolChoiceValue(v gjson.Result) any {
	switch {
	case v.Type == gjson.String && (v.String() == "auto" || v.String() == "none"):
		return v.String()
	case v.IsObject():
		return v.Value()
	}
	return "auto"
}
