package util

import (
	"github.com/tiktoken-go/tokenizer"
)

// EstimateTokens counts tokens in text using the encoding that matches model.
// The gpt-5 and codex families are not in the tokenizer's model table, so
// unknown models fall back to o200k_base, which is what they use. A crude
// bytes/4 estimate is the last resort if the tokenizer cannot be initialized.
func EstimateTokens(model, text string) int {
	if text == "" {
		return 0
	}
	enc, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		enc, err = tokenizer.Get(tokenizer.O200kBase)
		if err != nil {
			return len(text) / 4
		}
	}
	count, err := enc.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}
