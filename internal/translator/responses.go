package translator

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/yaananth/chatmock/internal/json"
)

// Upstream rejects token limits and store/threading params on this surface.
var responsesStrippedParams = []string{"max_output_tokens", "max_completion_tokens", "store", "previous_response_id"}

// Fields forwarded to the upstream payload untouched when present.
var responsesPassthroughKeys = []string{
	"temperature",
	"top_p",
	"seed",
	"stop",
	"text",
	"metadata",
	"include",
	"top_logprobs",
	"truncation",
}

const maxResponsesToolsBytes = 32768

// TranslateResponses converts a /v1/responses body into a Translation.
// Unlike the chat surface, stream defaults to true and additional payload
// fields pass through to the upstream.
func TranslateResponses(raw []byte, opts Options) (*Translation, error) {
	body, err := parseBody(raw)
	if err != nil {
		return nil, err
	}

	stream := true
	if s := body.Get("stream"); s.Exists() && s.Type != gjson.Null {
		stream = s.Bool()
	}

	requested := body.Get("model").String()
	name := requested
	if strings.TrimSpace(name) == "" {
		name = opts.defaultModel()
	}
	model, suffixEffort := NormalizeModel(name, opts.DebugModel)

	rawInput := body.Get("input")
	items, converted := NormalizeResponsesInput(rawInput)
	refs := CollectUpstreamRefs(rawInput.Value())

	if items == nil {
		messages := body.Get("messages")
		if (!messages.Exists() || messages.Type == gjson.Null) && body.Get("prompt").Type == gjson.String {
			messages = syntheticUserMessages(body.Get("prompt").String())
		}
		if messages.IsArray() {
			items = ConvertChatMessages(messages)
		}
	}
	if len(items) == 0 {
		return nil, malformed("Request must include non-empty 'input' (or 'messages'/'prompt')")
	}
	items = SanitizeInputItems(items)

	tools := make([]any, 0, 4)
	body.Get("tools").ForEach(func(_, t gjson.Result) bool {
		if !t.IsObject() {
			return true
		}
		if t.Get("type").String() == "function" && t.Get("function").IsObject() {
			if decl := chatToolDecl(t); decl != nil {
				tools = append(tools, decl)
			}
			return true
		}
		// Responses-style or built-in tool, pass through.
		if t.Get("type").Type == gjson.String {
			tools = append(tools, t.Value())
		}
		return true
	})

	toolChoice := toolChoiceValue(body.Get("tool_choice"))
	rtc := body.Get("responses_tool_choice")
	if rtc.Type == gjson.String && (rtc.String() == "auto" || rtc.String() == "none") {
		toolChoice = rtc.String()
	}

	extraTools, err := responsesExtraTools(body, opts, rtc.String())
	if err != nil {
		return nil, err
	}
	tools = append(tools, extraTools...)

	t := &Translation{
		Model:                model,
		RequestedModel:       requested,
		Effort:               suffixEffort,
		Stream:               stream,
		PromptKey:            PromptKeyForModel(model),
		ClientInstructions:   body.Get("instructions").String(),
		VerbatimInstructions: opts.NoBaseInstructions,
		InputItems:           items,
		Tools:                tools,
		ToolChoice:           toolChoice,
		ParallelToolCalls:    body.Get("parallel_tool_calls").Bool(),
		Reasoning:            BuildReasoning(opts.ReasoningEffort, opts.ReasoningSummary, body, suffixEffort),
		Compat:               opts.ReasoningCompat,
		SanitizedRefs:        refs,
		CompatConverted:      converted,
		PreviousResponseID:   strings.TrimSpace(body.Get("previous_response_id").String()),
		Store:                body.Get("store").Bool(),
	}

	for _, param := range responsesStrippedParams {
		if v := body.Get(param); v.Exists() && v.Type != gjson.Null {
			t.StrippedParams = append(t.StrippedParams, param)
		}
	}
	for _, k := range responsesPassthroughKeys {
		if v := body.Get(k); v.Exists() && v.Type != gjson.Null {
			if t.Extra == nil {
				t.Extra = make(map[string]any, len(responsesPassthroughKeys))
			}
			t.Extra[k] = v.Value()
		}
	}
	return t, nil
}

// responsesExtraTools validates the responses_tools extension field. Only
// web search tools may pass through; when none are supplied the configured
// default is injected unless responses_tool_choice disables tools.
func responsesExtraTools(body gjson.Result, opts Options, rtc string) ([]any, error) {
	var extra []any
	var badType string
	if rt := body.Get("responses_tools"); rt.IsArray() {
		rt.ForEach(func(_, t gjson.Result) bool {
			if !t.IsObject() || t.Get("type").Type != gjson.String {
				return true
			}
			typ := t.Get("type").String()
			if typ != "web_search" && typ != "web_search_preview" {
				badType = typ
				return false
			}
			extra = append(extra, t.Value())
			return true
		})
	}
	if badType != "" {
		return nil, malformed("Only web_search/web_search_preview are supported in responses_tools")
	}
	if len(extra) == 0 && opts.DefaultWebSearch && rtc != "none" {
		extra = []any{map[string]any{"type": "web_search"}}
	}
	if len(extra) > 0 {
		if encoded, err := json.Marshal(extra); err == nil && len(encoded) > maxResponsesToolsBytes {
			return nil, &MalformedError{
				Reason: "responses_tools too large",
				Code:   "RESPONSES_TOOLS_TOO_LARGE",
			}
		}
	}
	return extra, nil
}

// NormalizeResponsesInput coerces the polymorphic input field into a list of
// input items. A list of typed content parts is wrapped as one user message,
// a bare string becomes an input_text message, and single objects are boxed.
// The second return reports whether legacy "message" content parts were
// rewritten. nil means input was absent or unusable and the messages/prompt
// fallbacks should apply.
func NormalizeResponsesInput(input gjson.Result) ([]any, bool) {
	var items []any
	switch {
	case input.IsArray():
		raw := input.Array()
		if len(raw) > 0 && allTypedParts(raw) {
			items = []any{map[string]any{"role": "user", "content": input.Value()}}
		} else {
			items = make([]any, 0, len(raw))
			for _, el := range raw {
				if el.IsObject() {
					items = append(items, el.Value())
				}
			}
		}
	case input.Type == gjson.String:
		items = []any{map[string]any{
			"role": "user",
			"content": []any{
				map[string]any{"type": "input_text", "text": input.String()},
			},
		}}
	case input.IsObject():
		role := input.Get("role")
		content := input.Get("content")
		if role.Type == gjson.String && content.IsArray() {
			items = []any{input.Value()}
		} else if content.IsArray() {
			items = []any{map[string]any{"role": "user", "content": content.Value()}}
		} else {
			return nil, false
		}
	default:
		return nil, false
	}
	return convertMessageParts(items)
}

func allTypedParts(raw []gjson.Result) bool {
	for _, el := range raw {
		if !el.IsObject() || el.Get("type").Type != gjson.String {
			return false
		}
	}
	return true
}

// convertMessageParts rewrites legacy "message" content parts to input_text
// for upstream compatibility and drops input_text parts left with no text.
func convertMessageParts(items []any) ([]any, bool) {
	converted := false
	out := make([]any, 0, len(items))
	for _, it := range items {
		item, ok := it.(map[string]any)
		if !ok {
			continue
		}
		content, ok := item["content"].([]any)
		if !ok {
			out = append(out, item)
			continue
		}
		parts := make([]any, 0, len(content))
		for _, p := range content {
			part, ok := p.(map[string]any)
			if !ok {
				parts = append(parts, p)
				continue
			}
			if part["type"] == "message" {
				converted = true
				part = messagePartToInputText(part)
			}
			if part["type"] == "input_text" && emptyText(part["text"]) {
				continue
			}
			parts = append(parts, part)
		}
		next := make(map[string]any, len(item))
		for k, v := range item {
			next[k] = v
		}
		next["content"] = parts
		out = append(out, next)
	}
	return out, converted
}

func emptyText(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	}
	return false
}

func messagePartToInputText(part map[string]any) map[string]any {
	next := make(map[string]any, len(part))
	for k, v := range part {
		if k == "role" || k == "content" {
			continue
		}
		next[k] = v
	}
	next["type"] = "input_text"

	var fragments []string
	switch raw := part["content"].(type) {
	case []any:
		for _, seg := range raw {
			switch s := seg.(type) {
			case map[string]any:
				if text, ok := s["text"].(string); ok && strings.TrimSpace(text) != "" {
					fragments = append(fragments, text)
				} else if alt, ok := s["content"].(string); ok && strings.TrimSpace(alt) != "" {
					fragments = append(fragments, alt)
				}
			case string:
				if strings.TrimSpace(s) != "" {
					fragments = append(fragments, s)
				}
			}
		}
	case string:
		if strings.TrimSpace(raw) != "" {
			fragments = append(fragments, raw)
		}
	case nil:
	default:
		if encoded, err := json.Marshal(raw); err == nil {
			fragments = append(fragments, string(encoded))
		}
	}
	next["text"] = strings.Join(fragments, "\n")
	return next
}
