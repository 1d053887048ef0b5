package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitForEvent drains the queue until an event for path arrives or the
// timeout passes.
func waitForEvent(t *testing.T, w *Watcher, path string, timeout time.Duration) (fsnotify.Event, bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-w.Events():
			if ev.Name == path {
				return ev, true
			}
		case <-deadline:
			return fsnotify.Event{}, false
		}
	}
}

func TestWatcher_DeliversCreateEvents(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	w, err := New()
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	require.NoError(t, w.Watch(root))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	created := filepath.Join(root, "run42")
	require.NoError(t, os.Mkdir(created, 0o755))

	ev, ok := waitForEvent(t, w, created, 5*time.Second)
	require.True(t, ok, "no event for %s", created)
	assert.True(t, ev.Op.Has(fsnotify.Create))
}

func TestWatcher_WatchesExistingSubdirectories(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	runDir := filepath.Join(root, "run42")
	require.NoError(t, os.Mkdir(runDir, 0o755))

	w, err := New()
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	require.NoError(t, w.Watch(root))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// A write inside the pre-existing run-folder is visible without any
	// explicit Add for it.
	inner := filepath.Join(runDir, "FAL_deadbeef_0.pod5")
	require.NoError(t, os.WriteFile(inner, []byte("reads"), 0o644))

	_, ok := waitForEvent(t, w, inner, 5*time.Second)
	assert.True(t, ok, "no event for %s", inner)
}

func TestWatcher_Add(t *testing.T) {
	t.Parallel()

	t.Run("duplicate add is a no-op", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()

		w, err := New()
		require.NoError(t, err)
		defer func() { _ = w.Close() }()

		require.NoError(t, w.Add(dir))
		require.NoError(t, w.Add(dir))
	})

	t.Run("missing directory fails", func(t *testing.T) {
		t.Parallel()
		w, err := New()
		require.NoError(t, err)
		defer func() { _ = w.Close() }()

		require.Error(t, w.Add(filepath.Join(t.TempDir(), "absent")))
	})

	t.Run("add after close is ignored", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()

		w, err := New()
		require.NoError(t, err)
		require.NoError(t, w.Close())

		assert.NoError(t, w.Add(dir))
	})
}

func TestWatcher_Remove(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	w, err := New()
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	require.NoError(t, w.Add(dir))
	w.Remove(dir)
	// Removing an unwatched path must not panic or error.
	w.Remove(dir)
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	w, err := New()
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
