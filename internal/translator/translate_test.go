package translator

import (
	"errors"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func asMalformed(err error, target **MalformedError) bool {
	return errors.As(err, target)
}

func testOpts() Options {
	return Options{
		ReasoningEffort:  "medium",
		ReasoningSummary: "auto",
		ReasoningCompat:  "think-tags",
	}
}

func TestTranslateChatBasic(t *testing.T) {
	tr, err := TranslateChat([]byte(`{
		"model": "gpt-5-high:latest",
		"messages": [
			{"role":"system","content":"be brief"},
			{"role":"user","content":"hello"}
		],
		"stream": true,
		"stream_options": {"include_usage": true}
	}`), testOpts())
	if err != nil {
		t.Fatalf("TranslateChat: %v", err)
	}
	if tr.Model != "gpt-5" || tr.Effort != "high" {
		t.Errorf("model/effort = %q/%q", tr.Model, tr.Effort)
	}
	if !tr.Stream || !tr.IncludeUsage {
		t.Errorf("stream=%v includeUsage=%v", tr.Stream, tr.IncludeUsage)
	}
	if tr.Reasoning == nil || tr.Reasoning.Effort != "high" {
		t.Errorf("reasoning = %+v, want suffix effort high", tr.Reasoning)
	}
	if len(tr.InputItems) != 2 {
		t.Fatalf("items = %d, want hoisted system + user", len(tr.InputItems))
	}
	lead := tr.InputItems[0].(map[string]any)
	if lead["role"] != "user" {
		t.Errorf("lead item role = %v", lead["role"])
	}
	text := lead["content"].([]any)[0].(map[string]any)["text"]
	if text != "be brief" {
		t.Errorf("lead text = %v, want hoisted system content", text)
	}
}

func TestTranslateChatSystemHoistedFromMiddle(t *testing.T) {
	tr, err := TranslateChat([]byte(`{
		"messages": [
			{"role":"user","content":"first"},
			{"role":"system","content":"rules"},
			{"role":"user","content":"second"}
		]
	}`), testOpts())
	if err != nil {
		t.Fatalf("TranslateChat: %v", err)
	}
	if len(tr.InputItems) != 3 {
		t.Fatalf("items = %d, want 3", len(tr.InputItems))
	}
	lead := tr.InputItems[0].(map[string]any)
	text := lead["content"].([]any)[0].(map[string]any)["text"]
	if text != "rules" {
		t.Errorf("lead = %v, want system content first", text)
	}
}

func TestTranslateChatMessagesNotAList(t *testing.T) {
	_, err := TranslateChat([]byte(`{"messages":"nope"}`), testOpts())
	var me *MalformedError
	if !asMalformed(err, &me) {
		t.Fatalf("err = %v, want MalformedError", err)
	}
	if me.Reason != "Request must include messages: []" {
		t.Errorf("reason = %q", me.Reason)
	}
}

func TestTranslateChatPromptFallback(t *testing.T) {
	tr, err := TranslateChat([]byte(`{"prompt":"just this"}`), testOpts())
	if err != nil {
		t.Fatalf("TranslateChat: %v", err)
	}
	if len(tr.InputItems) != 1 {
		t.Fatalf("items = %d, want 1", len(tr.InputItems))
	}
	if tr.Model != "gpt-5" {
		t.Errorf("default model = %q", tr.Model)
	}
}

func TestTranslateChatInvalidJSON(t *testing.T) {
	_, err := TranslateChat([]byte("{nope"), testOpts())
	var me *MalformedError
	if !asMalformed(err, &me) || me.Reason != "Invalid JSON body" {
		t.Fatalf("err = %v, want invalid JSON error", err)
	}
}

func TestTranslateChatStripsTokenParams(t *testing.T) {
	tr, err := TranslateChat([]byte(`{
		"messages":[{"role":"user","content":"x"}],
		"max_tokens": 100,
		"max_completion_tokens": 200
	}`), testOpts())
	if err != nil {
		t.Fatalf("TranslateChat: %v", err)
	}
	if len(tr.StrippedParams) != 2 {
		t.Errorf("stripped = %v", tr.StrippedParams)
	}
}

func TestTranslateChatToolChoice(t *testing.T) {
	cases := []struct {
		body string
		want any
	}{
		{`{"messages":[{"role":"user","content":"x"}],"tool_choice":"none"}`, "none"},
		{`{"messages":[{"role":"user","content":"x"}],"tool_choice":"required"}`, "auto"},
		{`{"messages":[{"role":"user","content":"x"}]}`, "auto"},
	}
	for _, tc := range cases {
		tr, err := TranslateChat([]byte(tc.body), testOpts())
		if err != nil {
			t.Fatalf("TranslateChat: %v", err)
		}
		if tr.ToolChoice != tc.want {
			t.Errorf("tool_choice = %v, want %v", tr.ToolChoice, tc.want)
		}
	}
}

func TestTranslateCompletionsPromptForms(t *testing.T) {
	tr, err := TranslateCompletions([]byte(`{"model":"gpt-5","prompt":["Hel","lo",42]}`), testOpts())
	if err != nil {
		t.Fatalf("TranslateCompletions: %v", err)
	}
	if len(tr.InputItems) != 1 {
		t.Fatalf("items = %d", len(tr.InputItems))
	}
	text := tr.InputItems[0].(map[string]any)["content"].([]any)[0].(map[string]any)["text"]
	if text != "Hello" {
		t.Errorf("joined prompt = %v", text)
	}

	tr, err = TranslateCompletions([]byte(`{"suffix":"tail"}`), testOpts())
	if err != nil {
		t.Fatalf("TranslateCompletions: %v", err)
	}
	text = tr.InputItems[0].(map[string]any)["content"].([]any)[0].(map[string]any)["text"]
	if text != "tail" {
		t.Errorf("suffix fallback = %v", text)
	}
}

func TestTranslateResponsesStreamDefaultsTrue(t *testing.T) {
	tr, err := TranslateResponses([]byte(`{"input":"hi"}`), testOpts())
	if err != nil {
		t.Fatalf("TranslateResponses: %v", err)
	}
	if !tr.Stream {
		t.Error("stream must default to true")
	}

	tr, err = TranslateResponses([]byte(`{"input":"hi","stream":false}`), testOpts())
	if err != nil {
		t.Fatalf("TranslateResponses: %v", err)
	}
	if tr.Stream {
		t.Error("explicit stream=false ignored")
	}
}

func TestTranslateResponsesInputMatrix(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		wantItems int
		check     func(t *testing.T, tr *Translation)
	}{
		{
			name:      "string input",
			body:      `{"input":"hello"}`,
			wantItems: 1,
			check: func(t *testing.T, tr *Translation) {
				item := tr.InputItems[0].(map[string]any)
				if item["role"] != "user" {
					t.Errorf("item = %v", item)
				}
				part := item["content"].([]any)[0].(map[string]any)
				if part["type"] != "input_text" || part["text"] != "hello" {
					t.Errorf("part = %v", part)
				}
			},
		},
		{
			name:      "typed parts list wrapped",
			body:      `{"input":[{"type":"input_text","text":"a"},{"type":"input_text","text":"b"}]}`,
			wantItems: 1,
			check: func(t *testing.T, tr *Translation) {
				item := tr.InputItems[0].(map[string]any)
				parts := item["content"].([]any)
				if len(parts) != 2 {
					t.Errorf("wrapped parts = %d", len(parts))
				}
			},
		},
		{
			name:      "item list filtered",
			body:      `{"input":[{"role":"user","content":[{"type":"input_text","text":"x"}]},"junk"]}`,
			wantItems: 1,
		},
		{
			name:      "single object with role",
			body:      `{"input":{"role":"user","content":[{"type":"input_text","text":"x"}]}}`,
			wantItems: 1,
		},
		{
			name:      "single object content only",
			body:      `{"input":{"content":[{"type":"input_text","text":"x"}]}}`,
			wantItems: 1,
			check: func(t *testing.T, tr *Translation) {
				if tr.InputItems[0].(map[string]any)["role"] != "user" {
					t.Errorf("role defaulted wrong: %v", tr.InputItems[0])
				}
			},
		},
		{
			name:      "messages fallback",
			body:      `{"messages":[{"role":"user","content":"via messages"}]}`,
			wantItems: 1,
		},
		{
			name:      "prompt fallback",
			body:      `{"prompt":"via prompt"}`,
			wantItems: 1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr, err := TranslateResponses([]byte(tc.body), testOpts())
			if err != nil {
				t.Fatalf("TranslateResponses: %v", err)
			}
			if len(tr.InputItems) != tc.wantItems {
				t.Fatalf("items = %d, want %d", len(tr.InputItems), tc.wantItems)
			}
			if tc.check != nil {
				tc.check(t, tr)
			}
		})
	}
}

func TestTranslateResponsesEmptyInputRejected(t *testing.T) {
	_, err := TranslateResponses([]byte(`{}`), testOpts())
	var me *MalformedError
	if !asMalformed(err, &me) {
		t.Fatalf("err = %v, want MalformedError", err)
	}
	if !strings.Contains(me.Reason, "non-empty 'input'") {
		t.Errorf("reason = %q", me.Reason)
	}
}

func TestTranslateResponsesMessagePartConversion(t *testing.T) {
	tr, err := TranslateResponses([]byte(`{
		"input":[{"role":"user","content":[
			{"type":"message","role":"user","content":[{"type":"text","text":"inner one"},{"type":"text","text":"inner two"}]},
			{"type":"input_text","text":""}
		]}]
	}`), testOpts())
	if err != nil {
		t.Fatalf("TranslateResponses: %v", err)
	}
	if !tr.CompatConverted {
		t.Error("CompatConverted not set")
	}
	item := tr.InputItems[0].(map[string]any)
	parts := item["content"].([]any)
	if len(parts) != 1 {
		t.Fatalf("parts = %d, want 1 (empty input_text dropped)", len(parts))
	}
	part := parts[0].(map[string]any)
	if part["type"] != "input_text" || part["text"] != "inner one\ninner two" {
		t.Errorf("converted part = %v", part)
	}
	if _, ok := part["role"]; ok {
		t.Errorf("role key must be dropped: %v", part)
	}
}

func TestTranslateResponsesSanitizesRefs(t *testing.T) {
	tr, err := TranslateResponses([]byte(`{
		"input":[{"role":"user","response_id":"rs_123","content":[{"type":"input_text","text":"says rs_123 in text"}]}]
	}`), testOpts())
	if err != nil {
		t.Fatalf("TranslateResponses: %v", err)
	}
	if len(tr.SanitizedRefs) != 1 || tr.SanitizedRefs[0] != "rs_123" {
		t.Errorf("SanitizedRefs = %v", tr.SanitizedRefs)
	}
	item := tr.InputItems[0].(map[string]any)
	if _, ok := item["response_id"]; ok {
		t.Errorf("response_id survived sanitize: %v", item)
	}
	text := item["content"].([]any)[0].(map[string]any)["text"]
	if text != "says rs_123 in text" {
		t.Errorf("free text altered: %q", text)
	}
}

func TestTranslateResponsesToolsPassthrough(t *testing.T) {
	tr, err := TranslateResponses([]byte(`{
		"input":"x",
		"tools":[
			{"type":"function","function":{"name":"f1","parameters":{"type":"object"}}},
			{"type":"web_search"},
			{"type":"function","name":"already-responses-style"}
		]
	}`), testOpts())
	if err != nil {
		t.Fatalf("TranslateResponses: %v", err)
	}
	if len(tr.Tools) != 3 {
		t.Fatalf("tools = %d, want 3", len(tr.Tools))
	}
	first := tr.Tools[0].(map[string]any)
	if first["name"] != "f1" {
		t.Errorf("converted tool = %v", first)
	}
	second := tr.Tools[1].(map[string]any)
	if second["type"] != "web_search" {
		t.Errorf("passthrough tool = %v", second)
	}
}

func TestTranslateResponsesResponsesToolsValidation(t *testing.T) {
	_, err := TranslateResponses([]byte(`{
		"input":"x",
		"responses_tools":[{"type":"code_interpreter"}]
	}`), testOpts())
	var me *MalformedError
	if !asMalformed(err, &me) {
		t.Fatalf("err = %v, want MalformedError", err)
	}
	if !strings.Contains(me.Reason, "web_search") {
		t.Errorf("reason = %q", me.Reason)
	}
}

func TestTranslateResponsesToolsTooLarge(t *testing.T) {
	huge := strings.Repeat("a", maxResponsesToolsBytes)
	_, err := TranslateResponses([]byte(`{
		"input":"x",
		"responses_tools":[{"type":"web_search","filters":"`+huge+`"}]
	}`), testOpts())
	var me *MalformedError
	if !asMalformed(err, &me) {
		t.Fatalf("err = %v, want MalformedError", err)
	}
	if me.Code != "RESPONSES_TOOLS_TOO_LARGE" {
		t.Errorf("code = %q", me.Code)
	}
}

func TestTranslateResponsesWebSearchInjection(t *testing.T) {
	opts := testOpts()
	opts.DefaultWebSearch = true

	tr, err := TranslateResponses([]byte(`{"input":"x"}`), opts)
	if err != nil {
		t.Fatalf("TranslateResponses: %v", err)
	}
	found := false
	for _, tool := range tr.Tools {
		if m, ok := tool.(map[string]any); ok && m["type"] == "web_search" {
			found = true
		}
	}
	if !found {
		t.Errorf("web_search not injected: %v", tr.Tools)
	}

	tr, err = TranslateResponses([]byte(`{"input":"x","responses_tool_choice":"none"}`), opts)
	if err != nil {
		t.Fatalf("TranslateResponses: %v", err)
	}
	if len(tr.Tools) != 0 {
		t.Errorf("tool_choice none must suppress injection: %v", tr.Tools)
	}
	if tr.ToolChoice != "none" {
		t.Errorf("responses_tool_choice override = %v", tr.ToolChoice)
	}
}

func TestTranslateResponsesExtrasAndStripping(t *testing.T) {
	tr, err := TranslateResponses([]byte(`{
		"input":"x",
		"temperature":0.5,
		"top_p":0.9,
		"metadata":{"k":"v"},
		"max_output_tokens":100,
		"store":true,
		"previous_response_id":"resp_prior"
	}`), testOpts())
	if err != nil {
		t.Fatalf("TranslateResponses: %v", err)
	}
	if tr.Extra["temperature"] != 0.5 || tr.Extra["top_p"] != 0.9 {
		t.Errorf("extras = %v", tr.Extra)
	}
	if _, ok := tr.Extra["max_output_tokens"]; ok {
		t.Errorf("max_output_tokens must not pass through: %v", tr.Extra)
	}
	if !tr.Store {
		t.Error("store flag lost")
	}
	if tr.PreviousResponseID != "resp_prior" {
		t.Errorf("previous_response_id = %q", tr.PreviousResponseID)
	}
	want := map[string]bool{"max_output_tokens": true, "store": true, "previous_response_id": true}
	for _, p := range tr.StrippedParams {
		delete(want, p)
	}
	if len(want) != 0 {
		t.Errorf("missing stripped params: %v (got %v)", want, tr.StrippedParams)
	}
}

func TestTranslateOllamaChat(t *testing.T) {
	tr, err := TranslateOllamaChat([]byte(`{
		"model":"gpt-5:latest",
		"messages":[
			{"role":"user","content":"describe","images":["iVBORw0KGgoAAAANSUhEUg=="]},
			{"role":"assistant","tool_calls":[{"function":{"name":"f","arguments":{"x":1}}}]},
			{"role":"tool","content":"result"}
		],
		"stream":false
	}`), testOpts())
	if err != nil {
		t.Fatalf("TranslateOllamaChat: %v", err)
	}
	if tr.Stream {
		t.Error("explicit stream=false ignored")
	}
	if tr.Model != "gpt-5" {
		t.Errorf("model = %q", tr.Model)
	}
	if len(tr.InputItems) != 3 {
		t.Fatalf("items = %d, want user message + function_call + output", len(tr.InputItems))
	}
	user := tr.InputItems[0].(map[string]any)
	parts := user["content"].([]any)
	img := parts[1].(map[string]any)
	if img["type"] != "input_image" {
		t.Errorf("image part = %v", img)
	}
	if !strings.HasPrefix(img["image_url"].(string), "data:image/png;base64,") {
		t.Errorf("image url = %v", img["image_url"])
	}
	call := tr.InputItems[1].(map[string]any)
	if call["type"] != "function_call" || call["call_id"] != "ollama_call_1" {
		t.Errorf("call item = %v", call)
	}
	if call["arguments"] != `{"x":1}` {
		t.Errorf("arguments = %v", call["arguments"])
	}
	out := tr.InputItems[2].(map[string]any)
	if out["type"] != "function_call_output" || out["call_id"] != "ollama_call_1" {
		t.Errorf("output item = %v, want pending call id consumed", out)
	}
}

func TestTranslateOllamaChatStreamDefaultsTrue(t *testing.T) {
	tr, err := TranslateOllamaChat([]byte(`{"messages":[{"role":"user","content":"x"}]}`), testOpts())
	if err != nil {
		t.Fatalf("TranslateOllamaChat: %v", err)
	}
	if !tr.Stream {
		t.Error("ollama stream must default to true")
	}
}

func TestTranslateOllamaGenerate(t *testing.T) {
	tr, err := TranslateOllamaGenerate([]byte(`{
		"model":"gpt-5",
		"prompt":"draw me",
		"system":"you are an artist",
		"images":["/9j/4AAQSkZJRg=="]
	}`), testOpts())
	if err != nil {
		t.Fatalf("TranslateOllamaGenerate: %v", err)
	}
	if tr.ClientInstructions != "you are an artist" {
		t.Errorf("system = %q", tr.ClientInstructions)
	}
	if len(tr.InputItems) != 1 {
		t.Fatalf("items = %d", len(tr.InputItems))
	}
	parts := tr.InputItems[0].(map[string]any)["content"].([]any)
	if len(parts) != 2 {
		t.Fatalf("parts = %d, want text + image", len(parts))
	}
	img := parts[1].(map[string]any)
	if !strings.HasPrefix(img["image_url"].(string), "data:image/jpeg;base64,") {
		t.Errorf("jpeg sniffing failed: %v", img["image_url"])
	}
}

func TestToDataURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"data:image/png;base64,abc", "data:image/png;base64,abc"},
		{"https://example.com/x.png", "https://example.com/x.png"},
		{"/9j/xyz", "data:image/jpeg;base64,/9j/xyz"},
		{"iVBORw0KGgoabc", "data:image/png;base64,iVBORw0KGgoabc"},
		{"R0lGODxyz", "data:image/gif;base64,R0lGODxyz"},
		{"unknownprefix", "data:image/png;base64,unknownprefix"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ToDataURL(tc.in); got != tc.want {
			t.Errorf("ToDataURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBuildPayloadForcesUpstreamContract(t *testing.T) {
	tr, err := TranslateResponses([]byte(`{
		"input":"hello",
		"stream":false,
		"store":true,
		"temperature":0.2,
		"max_output_tokens":50
	}`), testOpts())
	if err != nil {
		t.Fatalf("TranslateResponses: %v", err)
	}
	payload, err := BuildPayload(tr, "base prompt", "sess-1")
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	doc := gjson.ParseBytes(payload)
	if doc.Get("store").Bool() != false || !doc.Get("store").Exists() {
		t.Errorf("store = %s", doc.Get("store").Raw)
	}
	if doc.Get("stream").Bool() != true {
		t.Errorf("stream = %s", doc.Get("stream").Raw)
	}
	for _, k := range []string{"max_output_tokens", "max_completion_tokens", "previous_response_id"} {
		if doc.Get(k).Exists() {
			t.Errorf("%s leaked into payload: %s", k, payload)
		}
	}
	if doc.Get("temperature").Num != 0.2 {
		t.Errorf("temperature = %s", doc.Get("temperature").Raw)
	}
	if doc.Get("prompt_cache_key").String() != "sess-1" {
		t.Errorf("prompt_cache_key = %s", doc.Get("prompt_cache_key").Raw)
	}
	if doc.Get("instructions").String() != "base prompt" {
		t.Errorf("instructions = %s", doc.Get("instructions").Raw)
	}
	include := doc.Get("include").Array()
	if len(include) != 1 || include[0].String() != "reasoning.encrypted_content" {
		t.Errorf("include = %s", doc.Get("include").Raw)
	}
}

func TestBuildPayloadClientInstructionsLead(t *testing.T) {
	tr, err := TranslateResponses([]byte(`{"input":"question","instructions":"act formal"}`), testOpts())
	if err != nil {
		t.Fatalf("TranslateResponses: %v", err)
	}
	payload, err := BuildPayload(tr, "base prompt", "s")
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	doc := gjson.ParseBytes(payload)
	if doc.Get("instructions").String() != "base prompt" {
		t.Errorf("instructions = %s", doc.Get("instructions").Raw)
	}
	input := doc.Get("input").Array()
	if len(input) != 2 {
		t.Fatalf("input = %d items, want lead + message", len(input))
	}
	leadText := input[0].Get("content.0.text").String()
	if leadText != "act formal" {
		t.Errorf("lead item text = %q", leadText)
	}
}

func TestBuildPayloadVerbatimInstructions(t *testing.T) {
	opts := testOpts()
	opts.NoBaseInstructions = true

	tr, err := TranslateResponses([]byte(`{"input":"q","instructions":"act formal"}`), opts)
	if err != nil {
		t.Fatalf("TranslateResponses: %v", err)
	}
	payload, err := BuildPayload(tr, "base prompt", "s")
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	doc := gjson.ParseBytes(payload)
	if doc.Get("instructions").String() != "act formal" {
		t.Errorf("verbatim instructions = %s", doc.Get("instructions").Raw)
	}
	if len(doc.Get("input").Array()) != 1 {
		t.Errorf("no lead item expected: %s", doc.Get("input").Raw)
	}

	tr, err = TranslateResponses([]byte(`{"input":"q"}`), opts)
	if err != nil {
		t.Fatalf("TranslateResponses: %v", err)
	}
	payload, err = BuildPayload(tr, "base prompt", "s")
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	if got := gjson.GetBytes(payload, "instructions").String(); got != "You are a helpful assistant." {
		t.Errorf("stub instructions = %q", got)
	}
}

func TestBuildPayloadIncludeMerge(t *testing.T) {
	tr, err := TranslateResponses([]byte(`{"input":"q","include":["output[*].file_search"]}`), testOpts())
	if err != nil {
		t.Fatalf("TranslateResponses: %v", err)
	}
	payload, err := BuildPayload(tr, "b", "s")
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	include := gjson.GetBytes(payload, "include").Array()
	if len(include) != 2 {
		t.Fatalf("include = %v, want client entry + reasoning", include)
	}
	if include[0].String() != "output[*].file_search" || include[1].String() != "reasoning.encrypted_content" {
		t.Errorf("include order = %v", include)
	}
}
