// Package session derives stable session ids for prompt caching. The backend
// keys its prompt cache on session_id, so requests that share the same
// instructions and opening user message should reuse one id across calls even
// when the client never sends a session header.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/yaananth/chatmock/internal/json"
)

// DefaultMaxEntries bounds the fingerprint-to-id map.
const DefaultMaxEntries = 10000

// Field order matches the sorted-key canonical form the fingerprint hashes.
type canonicalPart struct {
	ImageURL string `json:"image_url,omitempty"`
	Text     string `json:"text,omitempty"`
	Type     string `json:"type"`
}

type canonicalMessage struct {
	Content []canonicalPart `json:"content"`
	Role    string          `json:"role"`
	Type    string          `json:"type"`
}

type canonicalPrefix struct {
	FirstUserMessage *canonicalMessage `json:"first_user_message,omitempty"`
	Instructions     string            `json:"instructions,omitempty"`
}

// Cache maps conversation-prefix fingerprints to generated session ids,
// FIFO-bounded. Concurrent use is safe.
type Cache struct {
	mu    sync.Mutex
	ids   map[string]string
	order []string
	max   int
}

// NewCache builds a Cache holding up to maxEntries fingerprints;
// maxEntries <= 0 means DefaultMaxEntries.
func NewCache(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{ids: make(map[string]string), max: maxEntries}
}

// Ensure returns the session id for a request. A non-blank client-supplied id
// wins as-is; otherwise the id is remembered per conversation prefix so
// retries and multi-turn calls with the same opening keep cache affinity.
func (c *Cache) Ensure(instructions string, inputItems []any, clientSupplied string) string {
	if sid := strings.TrimSpace(clientSupplied); sid != "" {
		return sid
	}

	fp := fingerprint(CanonicalPrefix(instructions, inputItems))

	c.mu.Lock()
	defer c.mu.Unlock()
	if sid, ok := c.ids[fp]; ok {
		return sid
	}
	sid := uuid.NewString()
	c.ids[fp] = sid
	c.order = append(c.order, fp)
	if len(c.order) > c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.ids, oldest)
	}
	return sid
}

// CanonicalPrefix renders the stable parts of a request as deterministic
// JSON: trimmed instructions plus the first user message, with volatile
// fields dropped.
func CanonicalPrefix(instructions string, inputItems []any) string {
	prefix := canonicalPrefix{
		FirstUserMessage: firstUserMessage(inputItems),
		Instructions:     strings.TrimSpace(instructions),
	}
	b, err := json.Marshal(prefix)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// firstUserMessage finds the first user message whose content survives
// normalization: input_text parts with non-empty text and input_image parts
// with a string URL. Anything else does not identify a conversation.
func firstUserMessage(items []any) *canonicalMessage {
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		if m["type"] != "message" || m["role"] != "user" {
			continue
		}
		content, ok := m["content"].([]any)
		if !ok {
			continue
		}
		var parts []canonicalPart
		for _, p := range content {
			pm, ok := p.(map[string]any)
			if !ok {
				continue
			}
			switch pm["type"] {
			case "input_text":
				if text, ok := pm["text"].(string); ok && text != "" {
					parts = append(parts, canonicalPart{Text: text, Type: "input_text"})
				}
			case "input_image":
				if url, ok := pm["image_url"].(string); ok && url != "" {
					parts = append(parts, canonicalPart{ImageURL: url, Type: "input_image"})
				}
			}
		}
		if len(parts) > 0 {
			return &canonicalMessage{Content: parts, Role: "user", Type: "message"}
		}
	}
	return nil
}

func fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
