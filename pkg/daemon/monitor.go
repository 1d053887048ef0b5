// Package daemon implements the run monitor: a long-lived process watching
// the staging directory for new run-folders, identifying each run, and
// supervising a bounded pool of concurrent run sessions, one per folder.
package daemon

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/runvault/pkg/daemon/registry"
	"github.com/jamesainslie/runvault/pkg/daemon/watcher"
	"github.com/jamesainslie/runvault/pkg/runvault/archive"
	"github.com/jamesainslie/runvault/pkg/runvault/logging"
	"github.com/jamesainslie/runvault/pkg/runvault/remote"
	"github.com/jamesainslie/runvault/pkg/runvault/runid"
	"github.com/jamesainslie/runvault/pkg/runvault/session"
)

// Config configures the monitor and the sessions it dispatches.
type Config struct {
	// StagingPath is the directory watched for new run-folders.
	StagingPath string

	// MaxWorkers bounds the number of concurrent run sessions.
	MaxWorkers int

	// PollInterval is the event-loop poll timeout.
	PollInterval time.Duration

	// DataGlob and RunIDPattern configure run identification.
	DataGlob     string
	RunIDPattern string

	// Session settings passed to each worker.
	SessionTimeout time.Duration
	ArchiveTimeout time.Duration
	ScanInterval   time.Duration

	// Archive settings passed to each worker's publisher.
	BytesCapacity  int64
	FilesCapacity  int
	RemoveAfterAdd bool

	// Remote, when non-nil, receives every closed container.
	Remote       remote.Store
	RemotePrefix string

	// Registry, when non-nil, records every finished session.
	Registry *registry.Registry
}

// candidate is an identified run-folder waiting for a worker slot.
type candidate struct {
	path  string
	runID string
}

// Monitor drives the event loop. The loop is single-threaded and
// cooperative: it polls the notification queue with a timeout, drains the
// queued events, reaps finished workers without blocking, and dispatches
// pending runs while slots are free.
type Monitor struct {
	cfg   Config
	ident *runid.Identifier
	log   *logging.Logger

	watcher *watcher.Watcher
	pool    *pool

	inProgress map[string]bool
	queued     map[string]bool
	pending    []candidate

	errorCount int
}

// New creates a monitor.
func New(cfg Config) (*Monitor, error) {
	if cfg.StagingPath == "" {
		return nil, errors.New("daemon: staging path is required")
	}
	stagingPath, err := filepath.Abs(cfg.StagingPath)
	if err != nil {
		return nil, err
	}
	cfg.StagingPath = stagingPath

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	ident, err := runid.New(cfg.DataGlob, cfg.RunIDPattern)
	if err != nil {
		return nil, err
	}

	return &Monitor{
		cfg:        cfg,
		ident:      ident,
		log:        logging.Get("monitor"),
		pool:       newPool(cfg.MaxWorkers),
		inProgress: make(map[string]bool),
		queued:     make(map[string]bool),
	}, nil
}

// Run watches the staging directory until the context is cancelled, then
// drains: already-dispatched workers run to their own completion or idle
// timeout. It returns the number of failed sessions.
func (m *Monitor) Run(ctx context.Context) (int, error) {
	w, err := watcher.New()
	if err != nil {
		return 0, err
	}
	m.watcher = w

	if err := w.Watch(m.cfg.StagingPath); err != nil {
		_ = w.Close()
		return 0, err
	}

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	go w.Run(watchCtx)

	m.log.Info("monitor started",
		"staging", m.cfg.StagingPath, "max_workers", m.pool.max)

	// Run-folders that appeared while the monitor was down produce no
	// events; scan for them up front.
	m.scanExisting()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("stop requested, draining")
			cancelWatch()
			_ = w.Close()
			m.pool.drain(m.onComplete)
			m.log.Info("monitor stopped", "failed_sessions", m.errorCount)
			return m.errorCount, nil

		case ev := <-w.Events():
			m.handleEvent(ev)
			m.drainEvents()

		case <-time.After(m.cfg.PollInterval):
		}

		m.pool.reap(m.onComplete)
		m.dispatch()
	}
}

// drainEvents handles all currently queued events without blocking.
func (m *Monitor) drainEvents() {
	for {
		select {
		case ev := <-m.watcher.Events():
			m.handleEvent(ev)
		default:
			return
		}
	}
}

// scanExisting queues pre-existing run-folders under the staging root.
func (m *Monitor) scanExisting() {
	entries, err := os.ReadDir(m.cfg.StagingPath)
	if err != nil {
		m.log.Warn("cannot list staging directory", "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			m.consider(filepath.Join(m.cfg.StagingPath, entry.Name()))
		}
	}
}

// handleEvent maps one filesystem event to a run-folder candidate. Removals
// are logged and otherwise ignored; there is no compensating action for a
// run-folder that disappears.
func (m *Monitor) handleEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		m.log.Debug("watched path removed", "path", ev.Name, "op", ev.Op)
		return
	}

	dir, ok := m.runDirFor(ev.Name)
	if !ok {
		return
	}
	m.consider(dir)
}

// runDirFor resolves an event path to the first-level run-folder containing
// it. Events for the staging root itself carry no run.
func (m *Monitor) runDirFor(eventPath string) (string, bool) {
	rel, err := filepath.Rel(m.cfg.StagingPath, eventPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}

	first := rel
	if i := strings.IndexRune(rel, filepath.Separator); i >= 0 {
		first = rel[:i]
	}
	return filepath.Join(m.cfg.StagingPath, first), true
}

// consider identifies a candidate run-folder and queues it for dispatch. A
// folder already queued or in progress is ignored: at most one session runs
// per path. A folder with no run identifier yet is dropped; the instrument's
// next write re-triggers an event for it.
func (m *Monitor) consider(dir string) {
	if m.inProgress[dir] || m.queued[dir] {
		return
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return
	}

	// Watch the whole folder tree: fsnotify watches are not recursive, and
	// instruments write data files into numbered subdirectories, so a write
	// at any depth must re-trigger identification.
	m.watchTree(dir)

	runID, err := m.ident.Identify(dir)
	if err != nil {
		if errors.Is(err, runid.ErrNoRunID) {
			m.log.Debug("no run identifier yet", "path", dir)
		} else {
			m.log.Warn("run identification failed", "path", dir, "error", err)
		}
		return
	}

	m.log.Info("run identified", "path", dir, "run", runID)
	m.queued[dir] = true
	m.pending = append(m.pending, candidate{path: dir, runID: runID})
}

// watchTree adds watches on dir and every directory below it. Adding an
// already-watched directory is a no-op in the watcher.
func (m *Monitor) watchTree(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || !d.IsDir() {
			return nil //nolint:nilerr // skip unreadable entries
		}
		_ = m.watcher.Add(path)
		return nil
	})
}

// dispatch starts workers for pending runs while slots are free. A saturated
// pool leaves the remainder queued for a later loop turn.
func (m *Monitor) dispatch() {
	for m.pool.available() && len(m.pending) > 0 {
		c := m.pending[0]
		m.pending = m.pending[1:]
		delete(m.queued, c.path)

		if m.inProgress[c.path] {
			continue
		}
		m.inProgress[c.path] = true

		m.log.Info("dispatching session", "path", c.path, "run", c.runID)
		m.pool.spawn(c.path, m.worker(c))
	}
}

// worker builds the session closure for one run. Each worker owns its run's
// manifest and container stream exclusively; nothing is shared between runs.
func (m *Monitor) worker(c candidate) func() (session.Result, error) {
	cfg := m.cfg
	return func() (session.Result, error) {
		pub, err := archive.NewPublisher(archive.Options{
			RunDir:         c.path,
			BytesCapacity:  cfg.BytesCapacity,
			FilesCapacity:  cfg.FilesCapacity,
			RemoveAfterAdd: cfg.RemoveAfterAdd,
			Remote:         cfg.Remote,
			RemotePrefix:   c.runID,
			Metadata:       map[string]string{"run-id": c.runID},
		})
		if err != nil {
			return session.Result{RunID: c.runID}, err
		}

		sess := session.New(session.Config{
			RunDir:         c.path,
			RunID:          c.runID,
			SessionTimeout: cfg.SessionTimeout,
			ArchiveTimeout: cfg.ArchiveTimeout,
			ScanInterval:   cfg.ScanInterval,
		}, pub)

		// Workers are not remotely cancellable; they run to completion or
		// their own idle timeout.
		return sess.Run(context.Background())
	}
}

// onComplete records one worker's outcome and frees its run path.
func (m *Monitor) onComplete(c completion) {
	delete(m.inProgress, c.path)

	failed := c.err != nil || c.result.FilesErrored > 0
	if failed {
		m.errorCount++
	}

	if c.err != nil {
		m.log.Error("session failed", "path", c.path, "error", c.err)
	} else {
		m.log.Info("session complete",
			"path", c.path,
			"run", c.result.RunID,
			"published", c.result.FilesPublished,
			"errored", c.result.FilesErrored,
			"containers", c.result.Containers)
	}

	if m.cfg.Registry == nil {
		return
	}

	status := registry.StatusCompleted
	if failed {
		status = registry.StatusFailed
	}
	rec := &registry.Record{
		RunID:          c.result.RunID,
		Path:           c.path,
		Status:         status,
		FilesSeen:      c.result.FilesSeen,
		FilesPublished: c.result.FilesPublished,
		FilesErrored:   c.result.FilesErrored,
		Containers:     c.result.Containers,
	}
	if err := m.cfg.Registry.Put(rec); err != nil {
		m.log.Warn("failed to record run outcome", "path", c.path, "error", err)
	}
}
