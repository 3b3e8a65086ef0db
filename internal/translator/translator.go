// Package translator converts OpenAI- and Ollama-style client requests into
// the single upstream Responses dialect: input item conversion, tool
// declaration mapping, reference sanitization, parameter stripping, model
// normalization and reasoning configuration.
package translator

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Options carries the config-derived defaults that shape a translation.
type Options struct {
	// DefaultModel is used when the client omits or blanks the model.
	DefaultModel string
	// DebugModel overrides every client model when set.
	DebugModel string
	// ReasoningEffort and ReasoningSummary are the config defaults.
	ReasoningEffort  string
	ReasoningSummary string
	// ReasoningCompat selects the reasoning projection dialect.
	ReasoningCompat string
	// DefaultWebSearch injects a web_search tool on the responses surface.
	DefaultWebSearch bool
	// NoBaseInstructions forwards client instructions verbatim instead of
	// the cached base prompt.
	NoBaseInstructions bool
}

func (o Options) defaultModel() string {
	if o.DefaultModel != "" {
		return o.DefaultModel
	}
	return "gpt-5"
}

// Translation is the protocol-neutral result handed to the gateway.
type Translation struct {
	// Model is the normalized backend model id.
	Model string
	// RequestedModel is echoed back on surfaces that preserve it.
	RequestedModel string
	// Effort is a reasoning effort lifted from a model-name suffix, "" if none.
	Effort string

	Stream       bool
	IncludeUsage bool

	// ClientInstructions is the system/instructions text supplied by the
	// client; the instruction policy decides how it reaches the backend.
	ClientInstructions string
	// PromptKey names the instruction document this model needs.
	PromptKey string

	InputItems        []any
	Tools             []any
	ToolChoice        any
	ParallelToolCalls bool
	Reasoning         *ReasoningParam
	Compat            string

	// Extra carries responses-surface passthrough fields (temperature,
	// top_p, text, metadata, ...) merged into the upstream payload.
	Extra map[string]any

	// VerbatimInstructions forwards ClientInstructions as the payload
	// instructions field instead of prepending it to the input.
	VerbatimInstructions bool

	// SanitizedRefs lists rs_-prefixed reference ids removed from input.
	SanitizedRefs []string
	// StrippedParams lists client params dropped before upstream.
	StrippedParams []string
	// CompatConverted marks that legacy "message" content parts were
	// rewritten to input_text.
	CompatConverted bool

	// PreviousResponseID is the thread reference to resolve locally
	// (responses surface only).
	PreviousResponseID string
	// Store is the client's request to persist the aggregated response.
	Store bool
}

// MalformedError reports a client request that cannot be expressed upstream.
// The HTTP layer maps it to a 400 with the reason as the error message and
// Code, when set, as the machine-readable error code.
type MalformedError struct {
	Reason string
	Code   string
}

func (e *MalformedError) Error() string { return e.Reason }

func malformed(format string, args ...any) error {
	return &MalformedError{Reason: fmt.Sprintf(format, args...)}
}

// PromptKeyForModel names the instruction document a model variant uses.
func PromptKeyForModel(model string) string {
	if model == "gpt-5-codex" {
		return "gpt5_codex_instructions"
	}
	return "base_instructions"
}

func parseBody(raw []byte) (gjson.Result, error) {
	if len(raw) == 0 {
		return gjson.Parse("{}"), nil
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, malformed("Invalid JSON body")
	}
	return gjson.ParseBytes(raw), nil
}
