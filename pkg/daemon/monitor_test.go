package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/runvault/pkg/daemon/registry"
	"github.com/jamesainslie/runvault/pkg/daemon/watcher"
)

func writeRunFile(t *testing.T, runDir, name string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(runDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, name), []byte("reads"), 0o644))
}

func newTestMonitor(t *testing.T, cfg Config) *Monitor {
	t.Helper()
	m, err := New(cfg)
	require.NoError(t, err)
	return m
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	t.Run("staging path required", func(t *testing.T) {
		t.Parallel()
		_, err := New(Config{})
		require.Error(t, err)
	})

	t.Run("bad run id pattern", func(t *testing.T) {
		t.Parallel()
		_, err := New(Config{StagingPath: t.TempDir(), RunIDPattern: "(["})
		require.Error(t, err)
	})
}

func TestMonitor_RunDirFor(t *testing.T) {
	t.Parallel()

	staging := t.TempDir()
	m := newTestMonitor(t, Config{StagingPath: staging})

	t.Run("nested path maps to the first-level folder", func(t *testing.T) {
		t.Parallel()
		dir, ok := m.runDirFor(filepath.Join(staging, "run42", "pod5", "f.pod5"))
		require.True(t, ok)
		assert.Equal(t, filepath.Join(staging, "run42"), dir)
	})

	t.Run("direct child maps to itself", func(t *testing.T) {
		t.Parallel()
		dir, ok := m.runDirFor(filepath.Join(staging, "run42"))
		require.True(t, ok)
		assert.Equal(t, filepath.Join(staging, "run42"), dir)
	})

	t.Run("staging root itself carries no run", func(t *testing.T) {
		t.Parallel()
		_, ok := m.runDirFor(staging)
		assert.False(t, ok)
	})

	t.Run("path outside staging carries no run", func(t *testing.T) {
		t.Parallel()
		_, ok := m.runDirFor(filepath.Join(os.TempDir(), "elsewhere"))
		assert.False(t, ok)
	})
}

func TestMonitor_Consider(t *testing.T) {
	t.Parallel()

	setup := func(t *testing.T) (*Monitor, string) {
		t.Helper()
		staging := t.TempDir()
		m := newTestMonitor(t, Config{StagingPath: staging})
		w, err := watcher.New()
		require.NoError(t, err)
		t.Cleanup(func() { _ = w.Close() })
		m.watcher = w
		return m, staging
	}

	t.Run("identified folder is queued once", func(t *testing.T) {
		t.Parallel()
		m, staging := setup(t)
		runDir := filepath.Join(staging, "run42")
		writeRunFile(t, runDir, "FAL_deadbeef_0.pod5")

		m.consider(runDir)
		m.consider(runDir)

		require.Len(t, m.pending, 1)
		assert.Equal(t, "deadbeef", m.pending[0].runID)
		assert.True(t, m.queued[runDir])
	})

	t.Run("folder without a run identifier is dropped", func(t *testing.T) {
		t.Parallel()
		m, staging := setup(t)
		runDir := filepath.Join(staging, "run42")
		writeRunFile(t, runDir, "notes.txt")

		m.consider(runDir)

		assert.Empty(t, m.pending)
		assert.False(t, m.queued[runDir])
	})

	t.Run("in-progress folder is not requeued", func(t *testing.T) {
		t.Parallel()
		m, staging := setup(t)
		runDir := filepath.Join(staging, "run42")
		writeRunFile(t, runDir, "FAL_deadbeef_0.pod5")

		m.inProgress[runDir] = true
		m.consider(runDir)

		assert.Empty(t, m.pending)
	})

	t.Run("missing path is ignored", func(t *testing.T) {
		t.Parallel()
		m, staging := setup(t)
		m.consider(filepath.Join(staging, "vanished"))
		assert.Empty(t, m.pending)
	})
}

func TestMonitor_HandleEvent(t *testing.T) {
	t.Parallel()

	staging := t.TempDir()
	m := newTestMonitor(t, Config{StagingPath: staging})

	// Removal events carry no work and need no watcher.
	m.handleEvent(fsnotify.Event{
		Name: filepath.Join(staging, "run42"),
		Op:   fsnotify.Remove,
	})
	m.handleEvent(fsnotify.Event{
		Name: filepath.Join(staging, "run42"),
		Op:   fsnotify.Rename,
	})

	assert.Empty(t, m.pending)
}

func TestMonitor_NestedDataFileTriggersIdentification(t *testing.T) {
	t.Parallel()

	staging := t.TempDir()

	reg, err := registry.Open(filepath.Join(t.TempDir(), "registry"))
	require.NoError(t, err)
	defer func() { _ = reg.Close() }()

	m := newTestMonitor(t, Config{
		StagingPath:    staging,
		MaxWorkers:     1,
		PollInterval:   10 * time.Millisecond,
		SessionTimeout: 50 * time.Millisecond,
		ScanInterval:   5 * time.Millisecond,
		Registry:       reg,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Run(ctx)
	}()

	// Give the watcher a moment to arm before the folder appears.
	time.Sleep(100 * time.Millisecond)

	// The instrument lays out the run before any data exists: first the
	// run-folder, then a numbered subdirectory, and only then the data file
	// deep inside it. The subdirectory write never touches a first-level
	// path, so the monitor must have watched the subtree to see it.
	runDir := filepath.Join(staging, "run99")
	require.NoError(t, os.Mkdir(runDir, 0o755))
	time.Sleep(50 * time.Millisecond)

	podDir := filepath.Join(runDir, "pod5")
	require.NoError(t, os.Mkdir(podDir, 0o755))
	time.Sleep(50 * time.Millisecond)

	writeRunFile(t, podDir, "FAL_beefcafe_0.pod5")

	require.Eventually(t, func() bool {
		_, err := reg.Get(runDir)
		return err == nil
	}, 10*time.Second, 20*time.Millisecond, "nested data file never identified the run")

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("monitor did not stop after cancellation")
	}

	rec, err := reg.Get(runDir)
	require.NoError(t, err)
	assert.Equal(t, "beefcafe", rec.RunID)
	assert.Equal(t, registry.StatusCompleted, rec.Status)
	assert.Equal(t, 1, rec.FilesPublished)
}

func TestMonitor_EndToEnd(t *testing.T) {
	t.Parallel()

	staging := t.TempDir()
	runDir := filepath.Join(staging, "run42")
	writeRunFile(t, runDir, "FAL_deadbeef_0.pod5")

	reg, err := registry.Open(filepath.Join(t.TempDir(), "registry"))
	require.NoError(t, err)
	defer func() { _ = reg.Close() }()

	m := newTestMonitor(t, Config{
		StagingPath:    staging,
		MaxWorkers:     1,
		PollInterval:   10 * time.Millisecond,
		SessionTimeout: 50 * time.Millisecond,
		ScanInterval:   5 * time.Millisecond,
		Registry:       reg,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	var failed int
	go func() {
		defer close(done)
		failed, _ = m.Run(ctx)
	}()

	// The pre-existing folder is swept up, dispatched, and its outcome
	// recorded once the session's idle timeout ends it.
	var rec *registry.Record
	require.Eventually(t, func() bool {
		r, err := reg.Get(runDir)
		if err != nil {
			return false
		}
		rec = r
		return true
	}, 10*time.Second, 20*time.Millisecond, "no run outcome recorded")

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("monitor did not stop after cancellation")
	}

	assert.Equal(t, 0, failed)
	assert.Equal(t, registry.StatusCompleted, rec.Status)
	assert.Equal(t, "deadbeef", rec.RunID)
	assert.Equal(t, 1, rec.FilesPublished)
	assert.Equal(t, 1, rec.Containers)
	assert.FileExists(t, filepath.Join(runDir, "run42.0.tar"))
	assert.FileExists(t, filepath.Join(runDir, "runvault_manifest.txt"))
}

func TestMonitor_NewFolderViaEvents(t *testing.T) {
	t.Parallel()

	staging := t.TempDir()

	reg, err := registry.Open(filepath.Join(t.TempDir(), "registry"))
	require.NoError(t, err)
	defer func() { _ = reg.Close() }()

	m := newTestMonitor(t, Config{
		StagingPath:    staging,
		MaxWorkers:     2,
		PollInterval:   10 * time.Millisecond,
		SessionTimeout: 50 * time.Millisecond,
		ScanInterval:   5 * time.Millisecond,
		Registry:       reg,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Run(ctx)
	}()

	// Give the watcher a moment to arm before the folder appears.
	time.Sleep(100 * time.Millisecond)

	runDir := filepath.Join(staging, "run77")
	require.NoError(t, os.Mkdir(runDir, 0o755))
	// The folder is identifiable only once the instrument writes data; the
	// write event retriggers identification.
	time.Sleep(50 * time.Millisecond)
	writeRunFile(t, runDir, "FAL_cafe0123_0.pod5")

	require.Eventually(t, func() bool {
		_, err := reg.Get(runDir)
		return err == nil
	}, 10*time.Second, 20*time.Millisecond, "run never processed")

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("monitor did not stop after cancellation")
	}

	rec, err := reg.Get(runDir)
	require.NoError(t, err)
	assert.Equal(t, "cafe0123", rec.RunID)
}
