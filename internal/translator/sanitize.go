package translator

import "strings"

// Structural fields that may carry upstream response references. Free text
// fields (content/text) are deliberately not inspected.
var structuralRefKeys = map[string]bool{
	"previous_response_id": true,
	"response_id":          true,
	"reference_id":         true,
	"item_id":              true,
}

// CollectUpstreamRefs gathers rs_-prefixed ids appearing under structural
// keys anywhere in a decoded JSON tree.
func CollectUpstreamRefs(v any) []string {
	var out []string
	collectRefs(v, "", &out)
	return out
}

func collectRefs(v any, parentKey string, out *[]string) {
	switch val := v.(type) {
	case string:
		if structuralRefKeys[strings.ToLower(parentKey)] && strings.HasPrefix(strings.TrimSpace(val), "rs_") {
			*out = append(*out, strings.TrimSpace(val))
		}
	case map[string]any:
		for k, child := range val {
			collectRefs(child, k, out)
		}
	case []any:
		for _, child := range val {
			collectRefs(child, parentKey, out)
		}
	}
}

// SanitizeInputItems strips rs_-prefixed structural references from input
// items while keeping the items themselves. Content parts that carry a
// reference anywhere lose all structural reference fields.
func SanitizeInputItems(items []any) []any {
	out := make([]any, 0, len(items))
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		cleaned := dropRefFields(item)
		if content, ok := cleaned["content"].([]any); ok {
			parts := make([]any, 0, len(content))
			for _, p := range content {
				part, ok := p.(map[string]any)
				if !ok {
					parts = append(parts, p)
					continue
				}
				if len(CollectUpstreamRefs(part)) > 0 {
					part = withoutRefKeys(part)
				}
				parts = append(parts, part)
			}
			cleaned["content"] = parts
		}
		out = append(out, cleaned)
	}
	return out
}

func dropRefFields(item map[string]any) map[string]any {
	cleaned := make(map[string]any, len(item))
	for k, v := range item {
		if structuralRefKeys[k] {
			if s, ok := v.(string); ok && strings.HasPrefix(s, "rs_") {
				continue
			}
		}
		cleaned[k] = v
	}
	return cleaned
}

func withoutRefKeys(part map[string]any) map[string]any {
	cleaned := make(map[string]any, len(part))
	for k, v := range part {
		if structuralRefKeys[k] {
			continue
		}
		cleaned[k] = v
	}
	return cleaned
}
