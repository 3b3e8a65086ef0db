package prompts

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Marker strings that open the instruction documents inside a codex binary.
const (
	baseBinaryMarker = "You are a coding agent running in the Codex CLI"
	gpt5BinaryMarker = "You are Codex, based on GPT-5"
)

// RegisterDynamic admits a locally discovered document: its digest joins the
// allowlist and its content becomes a fetch-free candidate. Hashes banned by
// MarkInvalid stay banned.
func (c *Cache) RegisterDynamic(name, content, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.sources[name]
	if !ok {
		return
	}
	digest := hashText(content)
	if state.src.pinnedDigest(digest) {
		return
	}
	if state.banned[digest] {
		log.Infof("Skipping banned dynamic prompt hash %s for %s", digest, name)
		return
	}
	if _, known := state.dynamic[digest]; !known {
		state.order = append(state.order, digest)
	}
	state.dynamic[digest] = content

	if c.meta.Dynamic == nil {
		c.meta.Dynamic = make(map[string]map[string]dynamicMeta)
	}
	bucket := c.meta.Dynamic[name]
	if bucket == nil {
		bucket = make(map[string]dynamicMeta)
		c.meta.Dynamic[name] = bucket
	}
	bucket[digest] = dynamicMeta{Source: source, DiscoveredAt: c.now()}
	c.saveMetadataLocked()

	log.Infof("Registered local prompt for %s hash=%s source=%s", name, digest, source)
}

// MarkInvalid records that the backend rejected these instructions: the hash
// is banned, its cached copies are purged, and the next Get re-resolves.
// Pinned digests cannot be banned; if those stop working the source table is
// wrong, not the cache.
func (c *Cache) MarkInvalid(name, instructions, reason string) {
	if instructions == "" {
		return
	}
	c.mu.Lock()
	state, ok := c.sources[name]
	if !ok {
		c.mu.Unlock()
		return
	}
	digest := hashText(instructions)
	if state.src.pinnedDigest(digest) {
		c.mu.Unlock()
		return
	}

	delete(state.dynamic, digest)
	state.banned[digest] = true

	if bucket := c.meta.Dynamic[name]; bucket != nil {
		delete(bucket, digest)
	}
	if c.meta.Banned == nil {
		c.meta.Banned = make(map[string]map[string]bannedMeta)
	}
	bucket := c.meta.Banned[name]
	if bucket == nil {
		bucket = make(map[string]bannedMeta)
		c.meta.Banned[name] = bucket
	}
	bucket[digest] = bannedMeta{Reason: reason, BannedAt: c.now()}
	c.saveMetadataLocked()

	if entry, ok := c.memory[name]; ok && entry.digest == digest {
		delete(c.memory, name)
	}

	path := c.cachePath(name)
	if b, err := os.ReadFile(path); err == nil && hashText(string(b)) == digest {
		os.Remove(path)
		delete(c.meta.Prompts, name)
		c.saveMetadataLocked()
	}
	c.mu.Unlock()

	log.Warnf("Banned dynamic prompt hash %s for %s due to %s", digest, name, reason)
}

// DiscoverLocalPrompts scans an installed codex binary for embedded
// instruction documents and registers them, so a gateway running next to a
// newer CLI accepts the prompts that CLI ships with.
func (c *Cache) DiscoverLocalPrompts() {
	bin, err := exec.LookPath("codex")
	if err != nil {
		return
	}
	resolved, err := filepath.EvalSymlinks(bin)
	if err != nil {
		resolved = bin
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return
	}

	if text := extractMarkedText(data, baseBinaryMarker); text != "" {
		c.RegisterDynamic(BaseInstructions, text, resolved)
	}
	if text := extractMarkedText(data, gpt5BinaryMarker); text != "" {
		c.RegisterDynamic(GPT5CodexInstructions, text, resolved)
	}
}

// extractMarkedText pulls the NUL-terminated string starting at marker out
// of a binary image.
func extractMarkedText(data []byte, marker string) string {
	idx := bytes.Index(data, []byte(marker))
	if idx == -1 {
		return ""
	}
	end := bytes.IndexByte(data[idx:], 0)
	if end == -1 {
		end = len(data) - idx
	}
	return strings.TrimSpace(string(bytes.ToValidUTF8(data[idx:idx+end], nil)))
}
