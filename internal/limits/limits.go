// Package limits tracks the rate-limit telemetry the backend reports on
// x-codex-* response headers. The gateway records the latest snapshot,
// persists it so CLI tools can show quota without burning a request, and can
// pace outbound calls from it.
package limits

import (
	"context"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/yaananth/chatmock/internal/json"
)

const (
	headerPrimaryUsed     = "x-codex-primary-used-percent"
	headerPrimaryWindow   = "x-codex-primary-window-minutes"
	headerPrimaryReset    = "x-codex-primary-reset-after-seconds"
	headerSecondaryUsed   = "x-codex-secondary-used-percent"
	headerSecondaryWindow = "x-codex-secondary-window-minutes"
	headerSecondaryReset  = "x-codex-secondary-reset-after-seconds"

	// SnapshotFilename is the persistence file under the gateway home dir.
	SnapshotFilename = "usage_limits.json"
)

// Window is one reported limit window. UsedPercent is required; the other
// fields are null when the backend omits their headers.
type Window struct {
	UsedPercent     float64 `json:"used_percent"`
	WindowMinutes   *int    `json:"window_minutes"`
	ResetsInSeconds *int    `json:"resets_in_seconds"`
}

// ResetAt computes when the window resets relative to its capture time.
func (w *Window) ResetAt(capturedAt time.Time) (time.Time, bool) {
	if w == nil || w.ResetsInSeconds == nil {
		return time.Time{}, false
	}
	return capturedAt.Add(time.Duration(*w.ResetsInSeconds) * time.Second), true
}

// Snapshot is what one upstream response reported.
type Snapshot struct {
	Primary   *Window `json:"primary,omitempty"`
	Secondary *Window `json:"secondary,omitempty"`
}

// StoredSnapshot is a Snapshot plus when it was captured.
type StoredSnapshot struct {
	CapturedAt time.Time `json:"captured_at"`
	Primary    *Window   `json:"primary,omitempty"`
	Secondary  *Window   `json:"secondary,omitempty"`
}

// ParseHeaders extracts a snapshot from upstream response headers. Returns
// nil when neither window reports a usable used-percent.
func ParseHeaders(h http.Header) *Snapshot {
	primary := parseWindow(h, headerPrimaryUsed, headerPrimaryWindow, headerPrimaryReset)
	secondary := parseWindow(h, headerSecondaryUsed, headerSecondaryWindow, headerSecondaryReset)
	if primary == nil && secondary == nil {
		return nil
	}
	return &Snapshot{Primary: primary, Secondary: secondary}
}

func parseWindow(h http.Header, usedKey, windowKey, resetKey string) *Window {
	used, ok := parseFloat(h.Get(usedKey))
	if !ok {
		return nil
	}
	w := &Window{UsedPercent: used}
	if v, ok := parseInt(h.Get(windowKey)); ok {
		w.WindowMinutes = &v
	}
	if v, ok := parseInt(h.Get(resetKey)); ok {
		w.ResetsInSeconds = &v
	}
	return w
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func parseInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Tracker keeps the latest snapshot in memory, mirrors it to disk, and
// optionally feeds a Pacer. Concurrent use is safe.
type Tracker struct {
	mu    sync.RWMutex
	cur   *StoredSnapshot
	path  string
	pacer *Pacer
	now   func() time.Time
}

// NewTracker builds a Tracker persisting to path; an empty path disables
// persistence. pacer may be nil.
func NewTracker(path string, pacer *Pacer) *Tracker {
	return &Tracker{path: path, pacer: pacer, now: time.Now}
}

// Record parses rate-limit headers from one upstream response. Responses
// without limit headers leave the current snapshot untouched.
func (t *Tracker) Record(h http.Header) {
	snapshot := ParseHeaders(h)
	if snapshot == nil {
		return
	}
	stored := &StoredSnapshot{
		CapturedAt: t.now().UTC(),
		Primary:    snapshot.Primary,
		Secondary:  snapshot.Secondary,
	}

	t.mu.Lock()
	t.cur = stored
	t.mu.Unlock()

	if t.pacer != nil {
		t.pacer.Observe(snapshot)
	}
	t.persist(stored)
}

// Current returns the latest snapshot, falling back to the persisted file
// when this process has not recorded one yet. Nil means no data.
func (t *Tracker) Current() *StoredSnapshot {
	t.mu.RLock()
	cur := t.cur
	t.mu.RUnlock()
	if cur != nil {
		return cur
	}
	loaded := t.load()
	if loaded == nil {
		return nil
	}
	t.mu.Lock()
	if t.cur == nil {
		t.cur = loaded
	}
	cur = t.cur
	t.mu.Unlock()
	return cur
}

// Wait blocks until the pacer admits another upstream call. A tracker
// without a pacer admits immediately.
func (t *Tracker) Wait(ctx context.Context) error {
	if t.pacer == nil {
		return nil
	}
	return t.pacer.Wait(ctx)
}

// Persistence failures only cost the next process start its history, so
// they log and move on.
func (t *Tracker) persist(s *StoredSnapshot) {
	if t.path == "" {
		return
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		log.Debugf("Failed to encode rate-limit snapshot: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o700); err != nil {
		log.Debugf("Failed to create rate-limit dir: %v", err)
		return
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		log.Debugf("Failed to write rate-limit snapshot: %v", err)
		return
	}
	if err := os.Rename(tmp, t.path); err != nil {
		log.Debugf("Failed to replace rate-limit snapshot: %v", err)
	}
}

func (t *Tracker) load() *StoredSnapshot {
	if t.path == "" {
		return nil
	}
	b, err := os.ReadFile(t.path)
	if err != nil {
		return nil
	}
	var stored StoredSnapshot
	if err := json.Unmarshal(b, &stored); err != nil {
		return nil
	}
	if stored.CapturedAt.IsZero() {
		return nil
	}
	if stored.Primary == nil && stored.Secondary == nil {
		return nil
	}
	return &stored
}
