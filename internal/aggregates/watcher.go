package aggregates

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes the data directory for event files this process did
// not author: a teammate's tool writing straight into the worktree, or a
// script appending events by hand. Files arriving through sparkle's own
// API are marked authored and skipped; files arriving through a git merge
// are reported separately by the fetch path.
type Watcher struct {
	manager *Manager
	watcher *fsnotify.Watcher
	log     *log.Logger
}

// NewWatcher starts watching the manager's data directory. Callers run
// Run in a goroutine and Close on shutdown.
func NewWatcher(manager *Manager, logger *log.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("starting filesystem watcher: %w", err)
	}
	if err := fsw.Add(manager.store.Dir()); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching data directory: %w", err)
	}
	return &Watcher{manager: manager, watcher: fsw, log: logger}, nil
}

// Run consumes filesystem events until ctx is cancelled or the watcher
// closes. A new unauthored event file invalidates its item's aggregate
// with cause external_write.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			base := filepath.Base(event.Name)
			if !w.shouldReport(base) {
				continue
			}
			updated := w.manager.Invalidate([]string{base}, CauseExternalWrite)
			if len(updated) > 0 {
				w.log.Printf("external write detected: %s (items %v)", base, updated)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Printf("filesystem watcher error: %v", err)
		}
	}
}

// shouldReport decides whether a created file is a genuine external
// write. Our own writes, files a merge pulled in, and anything arriving
// while the merge window is open belong to other invalidation paths.
func (w *Watcher) shouldReport(base string) bool {
	if strings.HasPrefix(base, ".tmp-") || !strings.HasSuffix(base, ".json") {
		return false
	}
	if w.manager.WasAuthored(base) {
		return false
	}
	if w.manager.WasPulled(base) || w.manager.PullInProgress() {
		return false
	}
	return true
}

// Close stops the underlying watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
