// Package session holds helpers the adapters use for resume-state
// discovery that sit outside the Store interface proper: a watcher over
// Codex's rollout directory, and a demonstration blob-column Store
// implementation kept to document why it was rejected as the default
// (see DESIGN.md's Open Question decision).
package session

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// RolloutWatcher tracks the most recently modified rollout-*.jsonl file
// under a Codex sessions directory, so resume lookups don't need to walk
// the whole tree on every turn. Grounded on the teacher's fsnotify-based
// config file watcher (root main.go's watchConfigFile).
type RolloutWatcher struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	latest string
}

// NewRolloutWatcher returns a watcher over dir (typically ~/.codex/sessions).
func NewRolloutWatcher(dir string, logger *slog.Logger) *RolloutWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RolloutWatcher{dir: dir, logger: logger}
}

// Start begins watching dir for rollout file creation/writes. It returns
// once the watcher is established; further updates happen in a background
// goroutine until ctx is cancelled. Start is best-effort: a failure to set
// up the watcher (e.g. the directory doesn't exist yet) is logged, not
// fatal — Latest falls back to a directory scan either way.
func (w *RolloutWatcher) Start(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("session: rollout watcher unavailable", "error", err)
		return
	}
	if err := watcher.Add(w.dir); err != nil {
		w.logger.Debug("session: rollout dir not watchable yet", "dir", w.dir, "error", err)
		_ = watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if (ev.Op&fsnotify.Create != 0 || ev.Op&fsnotify.Write != 0) && isRolloutFile(ev.Name) {
					w.recordIfNewer(ev.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.logger.Debug("session: rollout watcher error", "error", err)
			}
		}
	}()
}

func (w *RolloutWatcher) recordIfNewer(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.latest == "" {
		w.latest = path
		return
	}
	prev, err := os.Stat(w.latest)
	if err != nil || info.ModTime().After(prev.ModTime()) {
		w.latest = path
	}
}

// Latest returns the newest known rollout file path. If no watcher event
// has been observed yet, it falls back to a one-time directory walk.
func (w *RolloutWatcher) Latest() (string, bool) {
	w.mu.RLock()
	cached := w.latest
	w.mu.RUnlock()
	if cached != "" {
		return cached, true
	}
	return w.scan()
}

func (w *RolloutWatcher) scan() (string, bool) {
	var newest string
	var newestMod time.Time
	_ = filepath.WalkDir(w.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !isRolloutFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = path
			newestMod = info.ModTime()
		}
		return nil
	})
	if newest == "" {
		return "", false
	}
	w.mu.Lock()
	w.latest = newest
	w.mu.Unlock()
	return newest, true
}

func isRolloutFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, "rollout-") && strings.HasSuffix(base, ".jsonl")
}
