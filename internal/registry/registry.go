// Package registry holds the model catalog served by /v1/models and the
// Ollama tag listing. The catalog is a copy-on-write snapshot behind an
// atomic pointer: readers never lock, overrides swap the whole state.
package registry

import (
	"strings"
	"sync/atomic"
	"time"
)

// Model is one catalog entry in OpenAI list shape.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// EffortVariants are the reasoning-effort suffixes appended to each base id
// when variant exposure is on. Order matters: listings show them this way.
var EffortVariants = []string{"minimal", "low", "medium", "high"}

type catalogState struct {
	models []Model
	index  map[string]bool
}

func newCatalogState(models []Model) *catalogState {
	s := &catalogState{
		models: models,
		index:  make(map[string]bool, len(models)),
	}
	for _, m := range models {
		s.index[m.ID] = true
	}
	return s
}

// Catalog is the live model catalog. The zero value is not usable; construct
// with NewCatalog.
type Catalog struct {
	state atomic.Pointer[catalogState]
}

// NewCatalog returns a catalog seeded with the backend's model family.
func NewCatalog() *Catalog {
	now := time.Now().Unix()
	c := &Catalog{}
	c.state.Store(newCatalogState([]Model{
		{ID: "gpt-5", Object: "model", Created: now, OwnedBy: "owner"},
		{ID: "gpt-5-codex", Object: "model", Created: now, OwnedBy: "owner"},
		{ID: "codex-mini-latest", Object: "model", Created: now, OwnedBy: "owner"},
	}))
	return c
}

// Replace swaps the catalog contents. Entries get missing fields defaulted.
func (c *Catalog) Replace(models []Model) {
	now := time.Now().Unix()
	normalized := make([]Model, 0, len(models))
	for _, m := range models {
		m.ID = strings.TrimSpace(m.ID)
		if m.ID == "" {
			continue
		}
		if m.Object == "" {
			m.Object = "model"
		}
		if m.OwnedBy == "" {
			m.OwnedBy = "owner"
		}
		if m.Created == 0 {
			m.Created = now
		}
		normalized = append(normalized, m)
	}
	c.state.Store(newCatalogState(normalized))
}

// Models returns the catalog entries, expanded with per-effort variant ids
// when withVariants is set. The returned slice is the caller's to mutate.
func (c *Catalog) Models(withVariants bool) []Model {
	s := c.state.Load()
	if !withVariants {
		out := make([]Model, len(s.models))
		copy(out, s.models)
		return out
	}

	out := make([]Model, 0, len(s.models)*(1+len(EffortVariants)))
	for _, m := range s.models {
		out = append(out, m)
		for _, effort := range EffortVariants {
			variant := m
			variant.ID = m.ID + "-" + effort
			out = append(out, variant)
		}
	}
	return out
}

// IDs returns just the model ids, with or without variant expansion.
func (c *Catalog) IDs(withVariants bool) []string {
	models := c.Models(withVariants)
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	return ids
}

// Has reports whether id names a catalog model, counting effort-variant
// forms ("gpt-5-high", "gpt-5_high") and Ollama ":tag" suffixes.
func (c *Catalog) Has(id string) bool {
	s := c.state.Load()
	base := strings.TrimSpace(id)
	if idx := strings.IndexByte(base, ':'); idx >= 0 {
		base = base[:idx]
	}
	if s.index[base] {
		return true
	}
	lowered := strings.ToLower(base)
	for _, effort := range EffortVariants {
		for _, sep := range []string{"-", "_"} {
			if strings.HasSuffix(lowered, sep+effort) {
				return s.index[base[:len(base)-len(effort)-1]]
			}
		}
	}
	return false
}

// Len returns the number of base models.
func (c *Catalog) Len() int {
	return len(c.state.Load().models)
}
