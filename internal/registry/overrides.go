package registry

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tailscale/hujson"

	"github.com/yaananth/chatmock/internal/json"
)

// LoadOverrides replaces the catalog with the models listed in a HuJSON
// (JSON with comments and trailing commas) file. The file holds either a
// bare array of entries or an object with a "models" key; entries need only
// an "id", other fields are defaulted.
func (c *Catalog) LoadOverrides(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read models override: %w", err)
	}

	std, err := hujson.Standardize(raw)
	if err != nil {
		return fmt.Errorf("parse models override %s: %w", path, err)
	}

	var models []Model
	trimmed := bytes.TrimSpace(std)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapper struct {
			Models []Model `json:"models"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return fmt.Errorf("decode models override %s: %w", path, err)
		}
		models = wrapper.Models
	} else {
		if err := json.Unmarshal(trimmed, &models); err != nil {
			return fmt.Errorf("decode models override %s: %w", path, err)
		}
	}

	kept := models[:0]
	for _, m := range models {
		if strings.TrimSpace(m.ID) != "" {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		return fmt.Errorf("models override %s lists no models", path)
	}

	c.Replace(kept)
	log.Infof("Model catalog overridden from %s (%d models)", path, len(kept))
	return nil
}
