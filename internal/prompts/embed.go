package prompts

import _ "embed"

//go:embed defaults/base_instructions.md
var defaultBaseInstructions string

//go:embed defaults/gpt5_codex_instructions.md
var defaultGPT5CodexInstructions string

// BuiltinDefault returns the compiled-in copy of a managed document. It is
// the end of the fallback chain: requests must not fail because an
// instruction fetch did.
func BuiltinDefault(name string) string {
	switch name {
	case BaseInstructions:
		return defaultBaseInstructions
	case GPT5CodexInstructions:
		return defaultGPT5CodexInstructions
	}
	return ""
}
