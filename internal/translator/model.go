package translator

import (
	"strings"

	"github.com/tidwall/gjson"
)

var modelAliases = map[string]string{
	"gpt5":               "gpt-5",
	"gpt-5-latest":       "gpt-5",
	"gpt-5":              "gpt-5",
	"gpt5-codex":         "gpt-5-codex",
	"gpt-5-codex":        "gpt-5-codex",
	"gpt-5-codex-latest": "gpt-5-codex",
	"codex":              "codex-mini-latest",
	"codex-mini":         "codex-mini-latest",
	"codex-mini-latest":  "codex-mini-latest",
}

var effortSuffixes = []string{"minimal", "low", "medium", "high"}

// NormalizeModel maps a client model name onto a backend model id.
// Ollama-style ":tag" suffixes are cut, reasoning-effort suffixes
// ("-high", "_low", ...) are stripped and returned separately, and known
// aliases collapse to their canonical id. debugModel overrides everything.
func NormalizeModel(name, debugModel string) (model, effort string) {
	if strings.TrimSpace(debugModel) != "" {
		return strings.TrimSpace(debugModel), ""
	}
	base := strings.TrimSpace(name)
	if base == "" {
		return "gpt-5", ""
	}
	if idx := strings.IndexByte(base, ':'); idx >= 0 {
		base = strings.TrimSpace(base[:idx])
	}
	for _, sep := range []string{"-", "_"} {
		lowered := strings.ToLower(base)
		for _, e := range effortSuffixes {
			suffix := sep + e
			if strings.HasSuffix(lowered, suffix) {
				base = base[:len(base)-len(suffix)]
				effort = e
				break
			}
		}
	}
	if mapped, ok := modelAliases[base]; ok {
		return mapped, effort
	}
	return base, effort
}

// ReasoningParam is the upstream reasoning configuration. Summary "none"
// omits the field entirely.
type ReasoningParam struct {
	Effort  string `json:"effort"`
	Summary string `json:"summary,omitempty"`
}

var validEfforts = map[string]bool{
	"minimal": true,
	"low":     true,
	"medium":  true,
	"high":    true,
}

var validSummaries = map[string]bool{
	"auto":     true,
	"concise":  true,
	"detailed": true,
	"none":     true,
}

// BuildReasoning resolves the reasoning configuration for one request.
// Precedence: request overrides > model-suffix effort > config defaults;
// invalid values fall back to medium/auto.
func BuildReasoning(baseEffort, baseSummary string, body gjson.Result, suffixEffort string) *ReasoningParam {
	effort := strings.ToLower(strings.TrimSpace(baseEffort))
	summary := strings.ToLower(strings.TrimSpace(baseSummary))

	if suffixEffort != "" && validEfforts[suffixEffort] {
		effort = suffixEffort
	}

	if v := body.Get("reasoning_effort"); v.Type == gjson.String {
		if o := strings.ToLower(strings.TrimSpace(v.String())); validEfforts[o] {
			effort = o
		}
	}
	if overrides := body.Get("reasoning"); overrides.IsObject() {
		if o := strings.ToLower(strings.TrimSpace(overrides.Get("effort").String())); validEfforts[o] {
			effort = o
		}
		if o := strings.ToLower(strings.TrimSpace(overrides.Get("summary").String())); validSummaries[o] {
			summary = o
		}
	}

	if !validEfforts[effort] {
		effort = "medium"
	}
	if !validSummaries[summary] {
		summary = "auto"
	}

	p := &ReasoningParam{Effort: effort}
	if summary != "none" {
		p.Summary = summary
	}
	return p
}
