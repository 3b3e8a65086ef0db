package prompts

// Names of the managed instruction documents.
const (
	BaseInstructions      = "base_instructions"
	GPT5CodexInstructions = "gpt5_codex_instructions"
)

const (
	codexBasePrimary = "https://raw.githubusercontent.com/openai/codex/main/codex-rs/core/prompt.md"
	codexGPT5Primary = "https://raw.githubusercontent.com/openai/codex/main/codex-rs/core/gpt_5_codex_prompt.md"
)

// Pinned is a fallback document at a fixed commit whose digest the
// Responses backend is known to accept.
type Pinned struct {
	Digest string
	URL    string
}

// Source describes where one instruction document comes from and which
// content digests the backend accepts for it.
type Source struct {
	Name       string
	PrimaryURL string
	// Fallbacks are tried in order when the primary copy cannot be fetched
	// or carries a digest the backend does not accept.
	Fallbacks []Pinned
	// AcceptedDigests lists additional digests known to be accepted, kept
	// so previously cached copies stay valid after their source URLs have
	// moved on.
	AcceptedDigests []string
}

func (s Source) pinnedDigest(digest string) bool {
	for _, pin := range s.Fallbacks {
		if pin.Digest == digest {
			return true
		}
	}
	for _, d := range s.AcceptedDigests {
		if d == digest {
			return true
		}
	}
	return false
}

// DefaultSources returns the built-in source table: the upstream Codex
// instruction documents plus pinned known-good commits.
func DefaultSources() []Source {
	return []Source{
		{
			Name:       BaseInstructions,
			PrimaryURL: codexBasePrimary,
			Fallbacks: []Pinned{
				{
					Digest: "30c68535a3251254dd5a45cbbc18fe0312b8cc7cd78f6158a6aad87e9fb61033",
					URL:    "https://raw.githubusercontent.com/openai/codex/81b148bda271615b37f7e04b3135e9d552df8111/codex-rs/core/prompt.md",
				},
			},
			AcceptedDigests: []string{
				"47b092a0a6453260204c5d35a7ef3706b13028c2373d7665f257f54a7deb4e9a",
			},
		},
		{
			Name:       GPT5CodexInstructions,
			PrimaryURL: codexGPT5Primary,
			Fallbacks: []Pinned{
				{
					Digest: "32306fa2af2afd5dc3ad570700f6b457af73e576a97935b99d97b5a21f5d458b",
					URL:    codexGPT5Primary,
				},
			},
			AcceptedDigests: []string{
				"f3ec1a90966ef8360ea79b3f8c925328b12b33a8a67c5651d2b400dd84d0e464",
			},
		},
	}
}
