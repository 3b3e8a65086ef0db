package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yaananth/chatmock/internal/logging"
)

// Watch reloads the config file on change and invokes onReload with the new
// value. Events are debounced because editors and atomic renames produce
// bursts. The watcher stops when ctx is cancelled. A config that fails to
// parse is skipped; the previous value stays active.
func Watch(ctx context.Context, path string, onReload func(*Config)) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.WithError(err).Warn("config watcher unavailable")
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		logging.WithError(err).Warnf("cannot watch config directory %s", dir)
		return
	}
	_ = watcher.Add(path)

	var last time.Time

	reload := func() {
		cfg, err := LoadConfig(path)
		if err != nil {
			logging.WithError(err).Warn("config reload failed, keeping previous config")
			return
		}
		onReload(cfg)
		logging.Infof("config reloaded from %s", path)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Base(ev.Name) != filepath.Base(path) {
				continue
			}
			if time.Since(last) < 250*time.Millisecond {
				continue
			}
			last = time.Now()
			// Let the file settle before re-reading.
			time.AfterFunc(300*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.WithError(err).Warn("config watcher error")
		}
	}
}
