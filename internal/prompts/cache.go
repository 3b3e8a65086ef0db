// Package prompts manages the instruction documents sent as the payload
// `instructions` field. The backend only accepts instruction texts it
// recognizes, so every document is validated against a digest allowlist and
// cached on disk; the fetch chain degrades through pinned commits, stale
// copies, and compiled-in defaults rather than failing a request.
package prompts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/yaananth/chatmock/internal/json"
	"github.com/yaananth/chatmock/internal/resilience"
)

const (
	// CacheTTL is how long a fetched document stays fresh.
	CacheTTL = 24 * time.Hour
	// fetchTimeout bounds one fetch attempt.
	fetchTimeout = 10 * time.Second
	// metadataFilename sits next to the cached documents.
	metadataFilename = "metadata.json"
)

var errPromptNotFound = errors.New("prompt not found upstream")

type entryMeta struct {
	CachedAt    time.Time `json:"cached_at"`
	ContentHash string    `json:"content_hash"`
	Size        int       `json:"size"`
	SourceURL   string    `json:"source_url,omitempty"`
}

type dynamicMeta struct {
	Source       string    `json:"source"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

type bannedMeta struct {
	Reason   string    `json:"reason"`
	BannedAt time.Time `json:"banned_at"`
}

type metadata struct {
	Prompts map[string]entryMeta              `json:"prompts"`
	Dynamic map[string]map[string]dynamicMeta `json:"dynamic_hashes,omitempty"`
	Banned  map[string]map[string]bannedMeta  `json:"dynamic_hashes_banned,omitempty"`
}

type memoryEntry struct {
	text       string
	digest     string
	validUntil time.Time
}

// sourceState is a Source plus the digests learned and banned at runtime.
type sourceState struct {
	src     Source
	dynamic map[string]string // digest -> content ("" when only the digest is known)
	order   []string          // dynamic digests in discovery order
	banned  map[string]bool
}

func (s *sourceState) allowed(digest string) bool {
	if s.banned[digest] {
		return false
	}
	if s.src.pinnedDigest(digest) {
		return true
	}
	_, ok := s.dynamic[digest]
	return ok
}

// latestDynamic returns the newest registered document that still has its
// content in memory.
func (s *sourceState) latestDynamic() (string, string, bool) {
	for i := len(s.order) - 1; i >= 0; i-- {
		digest := s.order[i]
		if s.banned[digest] {
			continue
		}
		if content := s.dynamic[digest]; content != "" {
			return content, digest, true
		}
	}
	return "", "", false
}

// Config configures a Cache.
type Config struct {
	// Dir is the on-disk cache directory, typically <home>/prompt_cache.
	Dir string
	// TTL overrides CacheTTL; zero keeps the default.
	TTL time.Duration
	// AcceptAny skips digest validation. Maps to the accept-any-prompt
	// escape hatch for when the allowlist has gone stale.
	AcceptAny bool
	// Sources overrides the built-in source table. Nil keeps DefaultSources.
	Sources []Source
}

// Cache resolves instruction documents through the fallback chain and never
// returns an error to the request path. Concurrent use is safe.
type Cache struct {
	mu      sync.Mutex
	dir     string
	ttl     time.Duration
	accept  bool
	client  *http.Client
	exec    *resilience.Executor[string]
	group   singleflight.Group
	memory  map[string]memoryEntry
	sources map[string]*sourceState
	meta    metadata
	now     func() time.Time
}

// NewCache builds a Cache rooted at cfg.Dir, loading any persisted metadata
// and re-learning previously discovered digests.
func NewCache(cfg Config) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, errors.New("prompt cache dir required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create prompt cache dir: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = CacheTTL
	}
	sources := cfg.Sources
	if sources == nil {
		sources = DefaultSources()
	}

	client, err := resilience.NewHTTPClient("", fetchTimeout)
	if err != nil {
		return nil, fmt.Errorf("prompt fetch client: %w", err)
	}

	c := &Cache{
		dir:    cfg.Dir,
		ttl:    ttl,
		accept: cfg.AcceptAny,
		client: client,
		exec: resilience.NewExecutor[string](resilience.RetryConfig{
			MaxRetries: 2,
			BaseDelay:  2 * time.Second,
			MaxDelay:   8 * time.Second,
			AbortOn:    []error{errPromptNotFound},
			Name:       "prompt-fetch",
		}, nil),
		memory:  make(map[string]memoryEntry),
		sources: make(map[string]*sourceState),
		now:     time.Now,
	}
	for _, src := range sources {
		c.sources[src.Name] = &sourceState{
			src:     src,
			dynamic: make(map[string]string),
			banned:  make(map[string]bool),
		}
	}
	c.loadMetadata()
	return c, nil
}

// Get resolves the document called name. Concurrent callers for the same
// name share one resolution. The result may be stale or a built-in default;
// it is never an error.
func (c *Cache) Get(ctx context.Context, name string) string {
	v, _, _ := c.group.Do(name, func() (any, error) {
		return c.resolve(ctx, name), nil
	})
	text, _ := v.(string)
	return text
}

func (c *Cache) resolve(ctx context.Context, name string) string {
	c.mu.Lock()
	state, ok := c.sources[name]
	if !ok {
		c.mu.Unlock()
		log.Errorf("Unknown prompt %q requested", name)
		return ""
	}

	if entry, ok := c.memory[name]; ok && c.now().Before(entry.validUntil) {
		c.mu.Unlock()
		return entry.text
	}

	if text, digest, ok := c.readDiskFresh(name); ok {
		if c.digestAllowed(state, digest) {
			c.remember(name, text, digest)
			c.mu.Unlock()
			return text
		}
		log.Warnf("Cached prompt %s has digest %s which is not allowed; ignoring", name, digest)
	}

	if text, digest, ok := state.latestDynamic(); ok && c.digestAllowed(state, digest) {
		c.remember(name, text, digest)
		c.writeDiskLocked(name, text, digest, "local")
		c.mu.Unlock()
		return text
	}
	c.mu.Unlock()

	// Network work happens outside the lock; singleflight already collapses
	// concurrent callers for this name.
	text, digest, url, err := c.fetchAllowed(ctx, state)
	if err == nil {
		c.mu.Lock()
		c.remember(name, text, digest)
		c.writeDiskLocked(name, text, digest, url)
		c.mu.Unlock()
		return text
	}
	log.Warnf("Failed to fetch prompt %s: %v", name, err)

	if stale := c.readDiskAny(name); strings.TrimSpace(stale) != "" {
		log.Warnf("Using stale cached prompt for %s; remote fetch failed", name)
		return stale
	}

	if builtin := BuiltinDefault(name); builtin != "" {
		log.Warnf("Falling back to built-in prompt for %s", name)
		return builtin
	}

	log.Errorf("Unable to load prompt for %s; returning empty instructions", name)
	return ""
}

func (c *Cache) digestAllowed(state *sourceState, digest string) bool {
	return c.accept || state.allowed(digest)
}

// remember caches in memory. Caller holds c.mu.
func (c *Cache) remember(name, text, digest string) {
	c.memory[name] = memoryEntry{
		text:       text,
		digest:     digest,
		validUntil: c.now().Add(c.ttl),
	}
}

// fetchAllowed tries the primary URL first and falls back to pinned commits
// whose digests must match exactly.
func (c *Cache) fetchAllowed(ctx context.Context, state *sourceState) (text, digest, url string, err error) {
	primary := state.src.PrimaryURL
	if content, fetchErr := c.fetch(ctx, primary); fetchErr == nil {
		d := hashText(content)
		c.mu.Lock()
		ok := c.digestAllowed(state, d)
		c.mu.Unlock()
		if ok {
			return content, d, primary, nil
		}
		log.Warnf("Remote prompt %s has unexpected digest %s; attempting pinned fallbacks", state.src.Name, d)
	}

	for _, pin := range state.src.Fallbacks {
		content, fetchErr := c.fetch(ctx, pin.URL)
		if fetchErr != nil {
			continue
		}
		if hashText(content) != pin.Digest {
			log.Warnf("Pinned prompt %s no longer matches digest %s", pin.URL, pin.Digest)
			continue
		}
		return content, pin.Digest, pin.URL, nil
	}
	return "", "", "", fmt.Errorf("no acceptable copy of %s", state.src.Name)
}

func (c *Cache) fetch(ctx context.Context, url string) (string, error) {
	return c.exec.Execute(ctx, func() (string, error) {
		return c.fetchOnce(ctx, url)
	})
}

func (c *Cache) fetchOnce(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "chatmock/1.0")
	req.Header.Set("Accept", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", errPromptNotFound
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("prompt fetch status %d", resp.StatusCode)
	}
	if strings.TrimSpace(string(body)) == "" {
		return "", errors.New("prompt fetch returned empty body")
	}
	return string(body), nil
}

// Invalidate drops the in-memory copy of name so the next Get re-resolves.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.memory, name)
	c.mu.Unlock()
}

// InvalidateAll drops every in-memory copy.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.memory = make(map[string]memoryEntry)
	c.mu.Unlock()
}

// Info reports cache state for the health endpoint.
func (c *Cache) Info() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	inMemory := make([]string, 0, len(c.memory))
	for name := range c.memory {
		inMemory = append(inMemory, name)
	}
	prompts := make(map[string]entryMeta, len(c.meta.Prompts))
	for name, meta := range c.meta.Prompts {
		prompts[name] = meta
	}
	return map[string]any{
		"cache_dir":       c.dir,
		"ttl_hours":       c.ttl.Hours(),
		"prompts":         prompts,
		"in_memory_cache": inMemory,
	}
}

func (c *Cache) cachePath(name string) string {
	return filepath.Join(c.dir, name+".md")
}

// readDiskFresh returns the cached file when its metadata stamp is within
// TTL. Caller holds c.mu.
func (c *Cache) readDiskFresh(name string) (string, string, bool) {
	meta, ok := c.meta.Prompts[name]
	if !ok || meta.CachedAt.IsZero() {
		return "", "", false
	}
	if c.now().Sub(meta.CachedAt) >= c.ttl {
		return "", "", false
	}
	b, err := os.ReadFile(c.cachePath(name))
	if err != nil {
		return "", "", false
	}
	return string(b), hashText(string(b)), true
}

// readDiskAny ignores TTL and digest; the stale path prefers old
// instructions over none.
func (c *Cache) readDiskAny(name string) string {
	b, err := os.ReadFile(c.cachePath(name))
	if err != nil {
		return ""
	}
	return string(b)
}

// writeDiskLocked persists a document and its metadata stamp. Caller holds
// c.mu. Failures only cost cache hits, so they log and move on.
func (c *Cache) writeDiskLocked(name, text, digest, sourceURL string) {
	path := c.cachePath(name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0o644); err != nil {
		log.Debugf("Failed to write prompt cache file: %v", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		log.Debugf("Failed to replace prompt cache file: %v", err)
		return
	}
	if c.meta.Prompts == nil {
		c.meta.Prompts = make(map[string]entryMeta)
	}
	c.meta.Prompts[name] = entryMeta{
		CachedAt:    c.now(),
		ContentHash: digest,
		Size:        len(text),
		SourceURL:   sourceURL,
	}
	c.saveMetadataLocked()
}

func (c *Cache) metadataPath() string {
	return filepath.Join(c.dir, metadataFilename)
}

func (c *Cache) loadMetadata() {
	b, err := os.ReadFile(c.metadataPath())
	if err == nil {
		if err := json.Unmarshal(b, &c.meta); err != nil {
			log.Debugf("Ignoring unreadable prompt metadata: %v", err)
			c.meta = metadata{}
		}
	}
	if c.meta.Prompts == nil {
		c.meta.Prompts = make(map[string]entryMeta)
	}

	// Re-learn digests discovered in earlier runs, minus the banned ones.
	// Content is not persisted, so these only widen the allowlist.
	for name, banned := range c.meta.Banned {
		state, ok := c.sources[name]
		if !ok {
			continue
		}
		for digest := range banned {
			state.banned[digest] = true
		}
	}
	for name, entries := range c.meta.Dynamic {
		state, ok := c.sources[name]
		if !ok {
			continue
		}
		for digest := range entries {
			if state.banned[digest] {
				continue
			}
			if _, ok := state.dynamic[digest]; !ok {
				state.dynamic[digest] = ""
				state.order = append(state.order, digest)
			}
		}
	}
}

// saveMetadataLocked persists metadata. Caller holds c.mu.
func (c *Cache) saveMetadataLocked() {
	b, err := json.MarshalIndent(c.meta, "", "  ")
	if err != nil {
		log.Debugf("Failed to encode prompt metadata: %v", err)
		return
	}
	tmp := c.metadataPath() + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		log.Debugf("Failed to write prompt metadata: %v", err)
		return
	}
	if err := os.Rename(tmp, c.metadataPath()); err != nil {
		log.Debugf("Failed to replace prompt metadata: %v", err)
	}
}

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
