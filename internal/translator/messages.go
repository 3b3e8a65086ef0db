package translator

import (
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// ConvertChatMessages converts chat-completions messages into Responses
// input items. System messages are skipped here; the instruction policy
// decides where their text goes. Tool results become function_call_output
// items, assistant tool_calls become function_call items, and text/image
// parts become input_text/output_text/input_image content.
func ConvertChatMessages(messages gjson.Result) []any {
	items := make([]any, 0, 8)
	messages.ForEach(func(_, message gjson.Result) bool {
		role := message.Get("role").String()
		switch role {
		case "system":
			return true
		case "tool":
			if item := toolOutputItem(message); item != nil {
				items = append(items, item)
			}
			return true
		}

		if role == "assistant" {
			message.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
				if item := functionCallItem(tc); item != nil {
					items = append(items, item)
				}
				return true
			})
		}

		content := contentParts(role, message.Get("content"))
		if len(content) == 0 {
			return true
		}
		roleOut := "user"
		if role == "assistant" {
			roleOut = "assistant"
		}
		items = append(items, map[string]any{
			"type":    "message",
			"role":    roleOut,
			"content": content,
		})
		return true
	})
	return items
}

func toolOutputItem(message gjson.Result) map[string]any {
	callID := message.Get("tool_call_id").String()
	if callID == "" {
		callID = message.Get("id").String()
	}
	if callID == "" {
		return nil
	}
	content := message.Get("content")
	var output string
	switch {
	case content.IsArray():
		var texts []string
		content.ForEach(func(_, part gjson.Result) bool {
			t := part.Get("text").String()
			if t == "" {
				t = part.Get("content").String()
			}
			if t != "" {
				texts = append(texts, t)
			}
			return true
		})
		output = strings.Join(texts, "\n")
	case content.Type == gjson.String:
		output = content.String()
	}
	return map[string]any{
		"type":    "function_call_output",
		"call_id": callID,
		"output":  output,
	}
}

func functionCallItem(tc gjson.Result) map[string]any {
	if t := tc.Get("type"); t.Exists() && t.String() != "function" {
		return nil
	}
	callID := tc.Get("id").String()
	if callID == "" {
		callID = tc.Get("call_id").String()
	}
	name := tc.Get("function.name").String()
	args := tc.Get("function.arguments")
	if callID == "" || name == "" || args.Type != gjson.String {
		return nil
	}
	return map[string]any{
		"type":      "function_call",
		"name":      name,
		"arguments": args.String(),
		"call_id":   callID,
	}
}

func contentParts(role string, content gjson.Result) []any {
	textKind := "input_text"
	if role == "assistant" {
		textKind = "output_text"
	}
	var parts []any
	switch {
	case content.IsArray():
		content.ForEach(func(_, part gjson.Result) bool {
			switch part.Get("type").String() {
			case "text":
				text := part.Get("text").String()
				if text == "" {
					text = part.Get("content").String()
				}
				if text != "" {
					parts = append(parts, map[string]any{"type": textKind, "text": text})
				}
			case "image_url":
				image := part.Get("image_url")
				u := image.Get("url").String()
				if u == "" && image.Type == gjson.String {
					u = image.String()
				}
				if u != "" {
					parts = append(parts, map[string]any{
						"type":      "input_image",
						"image_url": NormalizeImageDataURL(u),
					})
				}
			}
			return true
		})
	case content.Type == gjson.String && content.String() != "":
		parts = append(parts, map[string]any{"type": textKind, "text": content.String()})
	}
	return parts
}

// NormalizeImageDataURL repairs base64 image data URLs: URL-decodes the
// payload, strips whitespace, converts base64url to standard base64 and
// restores padding. Anything that fails validation is returned untouched.
func NormalizeImageDataURL(u string) string {
	if !strings.HasPrefix(u, "data:image/") || !strings.Contains(u, ";base64,") {
		return u
	}
	header, data, ok := strings.Cut(u, ",")
	if !ok {
		return u
	}
	// PathUnescape decodes %XX but leaves "+" alone; base64 payloads may
	// legitimately contain "+".
	if unquoted, err := url.PathUnescape(data); err == nil {
		data = unquoted
	}
	data = strings.TrimSpace(data)
	data = strings.NewReplacer("\n", "", "\r", "", "-", "+", "_", "/").Replace(data)
	if pad := len(data) % 4; pad != 0 {
		data += strings.Repeat("=", 4-pad)
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return u
	}
	return header + "," + data
}

// ConvertChatTools converts chat function tools to Responses tool
// declarations. Non-function entries and unnamed functions are skipped;
// missing parameters get the empty object schema.
func ConvertChatTools(tools gjson.Result) []any {
	out := make([]any, 0, 4)
	tools.ForEach(func(_, t gjson.Result) bool {
		if decl := chatToolDecl(t); decl != nil {
			out = append(out, decl)
		}
		return true
	})
	return out
}

func chatToolDecl(t gjson.Result) map[string]any {
	if t.Get("type").String() != "function" {
		return nil
	}
	fn := t.Get("function")
	name := fn.Get("name").String()
	if name == "" {
		return nil
	}
	var params any = map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
	if p := fn.Get("parameters"); p.IsObject() {
		params = p.Value()
	}
	return map[string]any{
		"type":        "function",
		"name":        name,
		"description": fn.Get("description").String(),
		"strict":      false,
		"parameters":  params,
	}
}
