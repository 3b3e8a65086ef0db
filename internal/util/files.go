package util

import (
	"strings"
)

// SanitizeFilePart converts s into a string safe to embed in file and object
// names. Path separators, colons and spaces become underscores or dashes.
func SanitizeFilePart(s string) string {
	out := strings.TrimSpace(s)
	replacers := []string{"/", "_", "\\", "_", ":", "_", " ", "-"}
	for i := 0; i < len(replacers); i += 2 {
		out = strings.ReplaceAll(out, replacers[i], replacers[i+1])
	}
	if out == "" {
		return "default"
	}
	return out
}
