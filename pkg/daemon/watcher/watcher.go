// Package watcher provides filesystem notification for the staging tree. It
// forwards raw events onto a buffered channel so the notification callback
// never blocks; the monitor's poll loop drains the queue at its own pace.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/jamesainslie/runvault/pkg/runvault/logging"
)

// queueSize bounds the event queue. Events beyond it are dropped with a
// warning; run-folders are revisited on the instrument's next write, so a
// dropped event is recoverable.
const queueSize = 1024

// Watcher watches the staging root and selected run-folders for changes.
type Watcher struct {
	watcher *fsnotify.Watcher
	events  chan fsnotify.Event
	paths   map[string]bool
	mu      sync.Mutex
	closed  bool
}

// New creates a new Watcher.
func New() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		watcher: fsw,
		events:  make(chan fsnotify.Event, queueSize),
		paths:   make(map[string]bool),
	}, nil
}

// Watch starts watching the staging root and its existing first-level
// subdirectories. Run-folders appear as direct children of the root; deeper
// paths get watches via Add as the monitor identifies candidates.
func (w *Watcher) Watch(root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	if err := w.Add(absRoot); err != nil {
		return err
	}

	entries, err := os.ReadDir(absRoot)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			// Watch failures on children are non-fatal; Add logs them.
			_ = w.Add(filepath.Join(absRoot, entry.Name()))
		}
	}
	return nil
}

// Add adds a single directory to the watch list.
func (w *Watcher) Add(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.paths[path] {
		return nil
	}

	if err := w.watcher.Add(path); err != nil {
		logging.Get("watcher").Warn("failed to add watch", "path", path, "error", err)
		return err
	}

	w.paths[path] = true
	return nil
}

// Remove stops watching a path.
func (w *Watcher) Remove(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || !w.paths[path] {
		return
	}
	_ = w.watcher.Remove(path)
	delete(w.paths, path)
}

// Events returns the queued event channel drained by the monitor loop.
func (w *Watcher) Events() <-chan fsnotify.Event {
	return w.events
}

// Run pumps notifications onto the event queue until the context is
// cancelled. A full queue drops the event rather than blocking the
// notification source.
func (w *Watcher) Run(ctx context.Context) {
	log := logging.Get("watcher")
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			select {
			case w.events <- event:
			default:
				log.Warn("event queue full, dropping event", "path", event.Name, "op", event.Op)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error("watcher error", "error", err)
		}
	}
}

// Close closes the watcher and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	w.paths = make(map[string]bool)
	return w.watcher.Close()
}
